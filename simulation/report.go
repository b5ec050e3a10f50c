package simulation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sarchlab/kernvm/datarecording"
	"github.com/sarchlab/kernvm/mem/vm/mmu"
	"github.com/sarchlab/kernvm/tracing"
)

// ErrNoTrace is returned when a recording was not written by the tracer.
var ErrNoTrace = errors.New("recording holds no memory trace")

// A Summary counts what a recording of memory events holds.
type Summary struct {
	Sessions      []tracing.SessionEntry
	Events        int
	EventsByPos   map[string]int
	FaultOutcomes map[string]int
	FaultTypes    map[string]int
	Evictions     int
	SwapIns       int
	SwapSlots     int
}

// Faults returns the number of handled faults.
func (r Summary) Faults() int {
	n := 0
	for _, c := range r.FaultOutcomes {
		n += c
	}

	return n
}

// Summarize reads the tables of a recording and counts the events in them.
// Tables of positions that never fired are absent and count as zero.
func Summarize(ctx context.Context, r datarecording.DataReader) (Summary, error) {
	tables, err := r.Tables(ctx)
	if err != nil {
		return Summary{}, err
	}

	if !slices.Contains(tables, tracing.EventTable) {
		return Summary{}, ErrNoTrace
	}

	r.MapTable(tracing.EventTable, tracing.EventEntry{})
	r.MapTable(tracing.SessionTable, tracing.SessionEntry{})

	rep := Summary{
		FaultOutcomes: map[string]int{},
		FaultTypes:    map[string]int{},
	}

	rep.EventsByPos, err = r.CountBy(ctx,
		tracing.EventTable, "Pos", datarecording.Query{})
	if err != nil {
		return Summary{}, err
	}

	for _, n := range rep.EventsByPos {
		rep.Events += n
	}

	sessions, _, err := r.Query(ctx, tracing.SessionTable,
		datarecording.Query{OrderBy: "Session"})
	if err != nil {
		return Summary{}, err
	}

	for _, s := range sessions {
		rep.Sessions = append(rep.Sessions, *s.(*tracing.SessionEntry))
	}

	if slices.Contains(tables, mmu.HookPosFault.Name) {
		if err := rep.readFaults(ctx, r); err != nil {
			return Summary{}, err
		}
	}

	if slices.Contains(tables, mmu.HookPosEvict.Name) {
		r.MapTable(mmu.HookPosEvict.Name, mmu.EvictEvent{})

		slots, err := r.CountBy(ctx,
			mmu.HookPosEvict.Name, "Slot", datarecording.Query{})
		if err != nil {
			return Summary{}, err
		}

		rep.SwapSlots = len(slots)
		for _, n := range slots {
			rep.Evictions += n
		}
	}

	if slices.Contains(tables, mmu.HookPosSwapIn.Name) {
		r.MapTable(mmu.HookPosSwapIn.Name, mmu.SwapInEvent{})

		_, rep.SwapIns, err = r.Query(ctx, mmu.HookPosSwapIn.Name,
			datarecording.Query{Limit: 1})
		if err != nil {
			return Summary{}, err
		}
	}

	return rep, nil
}

func (rep *Summary) readFaults(
	ctx context.Context,
	r datarecording.DataReader,
) error {
	r.MapTable(mmu.HookPosFault.Name, mmu.FaultEvent{})

	var err error

	rep.FaultOutcomes, err = r.CountBy(ctx,
		mmu.HookPosFault.Name, "Outcome", datarecording.Query{})
	if err != nil {
		return fmt.Errorf("reading faults: %w", err)
	}

	rep.FaultTypes, err = r.CountBy(ctx,
		mmu.HookPosFault.Name, "Type", datarecording.Query{})
	if err != nil {
		return fmt.Errorf("reading faults: %w", err)
	}

	return nil
}
