// Package internal provides the storage of a TLB.
package internal

import "sort"

// An Entry maps one virtual page to one physical frame.
type Entry struct {
	VAddr uint64
	PAddr uint64
	Valid bool
	Dirty bool
}

// A Set holds a fixed number of entries, one per way.
type Set interface {
	Lookup(vAddr uint64) (wayID int, entry Entry, found bool)
	Update(wayID int, entry Entry)
	Evict() (wayID int, ok bool)
	Visit(wayID int)
	Invalidate(wayID int)
	InvalidateAll()
	ValidEntries() []Entry
}

// NewSet creates a new TLB set.
func NewSet(numWays int) Set {
	s := &setImpl{}
	s.blocks = make([]*block, numWays)
	s.visitList = make([]*block, 0, numWays)
	s.vAddrWayIDMap = make(map[uint64]int)

	for i := range s.blocks {
		b := &block{}
		s.blocks[i] = b
		b.wayID = i
		s.Visit(i)
	}

	return s
}

type block struct {
	entry     Entry
	wayID     int
	lastVisit uint64
}

type setImpl struct {
	blocks        []*block
	vAddrWayIDMap map[uint64]int
	visitList     []*block
	visitCount    uint64
}

func (s *setImpl) Lookup(vAddr uint64) (wayID int, entry Entry, found bool) {
	wayID, ok := s.vAddrWayIDMap[vAddr]
	if !ok {
		return 0, Entry{}, false
	}

	b := s.blocks[wayID]

	return b.wayID, b.entry, true
}

// Update places entry in a way, replacing whatever the way held.
func (s *setImpl) Update(wayID int, entry Entry) {
	b := s.blocks[wayID]
	if b.entry.Valid {
		delete(s.vAddrWayIDMap, b.entry.VAddr)
	}

	b.entry = entry
	if entry.Valid {
		s.vAddrWayIDMap[entry.VAddr] = wayID
	}
}

// Evict returns the way to replace. Invalid ways are chosen before the least
// recently visited valid way.
func (s *setImpl) Evict() (wayID int, ok bool) {
	if len(s.visitList) == 0 {
		return 0, false
	}

	for _, b := range s.visitList {
		if !b.entry.Valid {
			return b.wayID, true
		}
	}

	return s.visitList[0].wayID, true
}

// Visit marks a way as the most recently used one.
func (s *setImpl) Visit(wayID int) {
	b := s.blocks[wayID]

	for i, v := range s.visitList {
		if v.wayID == wayID {
			s.visitList = append(s.visitList[:i], s.visitList[i+1:]...)
			break
		}
	}

	s.visitCount++
	b.lastVisit = s.visitCount

	index := sort.Search(len(s.visitList), func(i int) bool {
		return s.visitList[i].lastVisit > b.lastVisit
	})

	s.visitList = append(s.visitList, nil)
	copy(s.visitList[index+1:], s.visitList[index:])
	s.visitList[index] = b
}

func (s *setImpl) Invalidate(wayID int) {
	s.Update(wayID, Entry{})
}

func (s *setImpl) InvalidateAll() {
	for _, b := range s.blocks {
		b.entry = Entry{}
	}

	clear(s.vAddrWayIDMap)
}

func (s *setImpl) ValidEntries() []Entry {
	var entries []Entry

	for _, b := range s.blocks {
		if b.entry.Valid {
			entries = append(entries, b.entry)
		}
	}

	return entries
}
