package hooking

import (
	"fmt"
	"io"
	"log"
)

// named is implemented by domains that carry a name.
type named interface {
	Name() string
}

// LogHookBase provides the common logic for all hooks that write to a
// logger.
type LogHookBase struct {
	*log.Logger
}

// A LogHook prints every hook invocation it receives, optionally limited to
// a set of positions.
type LogHook struct {
	LogHookBase

	positions map[*HookPos]bool
}

// NewLogHook creates a LogHook that writes to w. If positions are given,
// only those positions are logged.
func NewLogHook(w io.Writer, positions ...*HookPos) *LogHook {
	h := &LogHook{
		LogHookBase: LogHookBase{
			Logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		},
		positions: make(map[*HookPos]bool),
	}

	for _, p := range positions {
		h.positions[p] = true
	}

	return h
}

// Func logs the hook context.
func (h *LogHook) Func(ctx HookCtx) {
	if len(h.positions) > 0 && !h.positions[ctx.Pos] {
		return
	}

	where := "?"
	if n, ok := ctx.Domain.(named); ok {
		where = n.Name()
	}

	line := fmt.Sprintf("[%s] %s %+v", where, ctx.Pos.Name, ctx.Item)
	if ctx.Detail != nil {
		line += fmt.Sprintf(" (%+v)", ctx.Detail)
	}

	h.Println(line)
}
