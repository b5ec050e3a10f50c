package hooking

import (
	"sort"
	"sync"
)

// TagFunc picks a tag out of a hook context. An empty tag is not counted.
type TagFunc func(ctx HookCtx) string

// CountHook counts how many times each position is hit. With a TagFunc it
// also counts tags, such as the outcome of a fault.
type CountHook struct {
	lock sync.Mutex

	tagFunc  TagFunc
	posCount map[string]uint64
	tagCount map[string]uint64
}

// NewCountHook creates a new CountHook. tagFunc may be nil.
func NewCountHook(tagFunc TagFunc) *CountHook {
	return &CountHook{
		tagFunc:  tagFunc,
		posCount: make(map[string]uint64),
		tagCount: make(map[string]uint64),
	}
}

// Func counts the invocation.
func (h *CountHook) Func(ctx HookCtx) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.posCount[ctx.Pos.Name]++

	if h.tagFunc == nil {
		return
	}

	if tag := h.tagFunc(ctx); tag != "" {
		h.tagCount[tag]++
	}
}

// GetPosNames returns the names of the positions seen, sorted.
func (h *CountHook) GetPosNames() []string {
	h.lock.Lock()
	defer h.lock.Unlock()

	return sortedKeys(h.posCount)
}

// GetPosCount returns how many times a position was hit.
func (h *CountHook) GetPosCount(name string) uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.posCount[name]
}

// GetTagNames returns all the tags collected, sorted.
func (h *CountHook) GetTagNames() []string {
	h.lock.Lock()
	defer h.lock.Unlock()

	return sortedKeys(h.tagCount)
}

// GetTagCount returns the number of times a tag was recorded.
func (h *CountHook) GetTagCount(tag string) uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.tagCount[tag]
}

// Snapshot returns a copy of all the counters.
func (h *CountHook) Snapshot() (positions, tags map[string]uint64) {
	h.lock.Lock()
	defer h.lock.Unlock()

	positions = make(map[string]uint64, len(h.posCount))
	for k, v := range h.posCount {
		positions[k] = v
	}

	tags = make(map[string]uint64, len(h.tagCount))
	for k, v := range h.tagCount {
		tags[k] = v
	}

	return positions, tags
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
