// Package tracing turns hook invocations of kernel components into rows of a
// database.
package tracing

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/sarchlab/kernvm/datarecording"
	"github.com/sarchlab/kernvm/sim/hooking"
	"github.com/tebeka/atexit"
)

// EventTable is the table that holds one row per traced hook invocation.
const EventTable = "trace_events"

// SessionTable is the table that holds one row per finished trace session.
const SessionTable = "trace_sessions"

// EventEntry is a row of the event table.
type EventEntry struct {
	Seq     int
	Session int
	Time    float64
	Domain  string
	Pos     string
	Item    string
	Detail  string
}

// SessionEntry is a row of the session table.
type SessionEntry struct {
	Session      int
	SessionStart float64
	SessionEnd   float64
	Events       int
}

type named interface {
	Name() string
}

// DBTracer is a hook that stores every invocation it sees. Items that are
// flat structs are also stored in a table named after the hook position, so
// that their fields can be queried.
type DBTracer struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder
	start   time.Time

	isTracing     bool
	session       int
	sessionStart  float64
	sessionEvents int
	seq           int

	itemTables map[*hooking.HookPos]bool
	unflat     map[*hooking.HookPos]bool
}

// NewDBTracer creates a new DBTracer. Tracing starts enabled.
func NewDBTracer(dataRecorder datarecording.DataRecorder) *DBTracer {
	dataRecorder.CreateTable(EventTable, EventEntry{})
	dataRecorder.CreateTable(SessionTable, SessionEntry{})

	t := &DBTracer{
		backend:    dataRecorder,
		start:      time.Now(),
		itemTables: make(map[*hooking.HookPos]bool),
		unflat:     make(map[*hooking.HookPos]bool),
	}

	t.EnableTracing()

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// Func records a hook invocation.
func (t *DBTracer) Func(ctx hooking.HookCtx) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isTracing {
		return
	}

	t.seq++
	t.sessionEvents++

	entry := EventEntry{
		Seq:     t.seq,
		Session: t.session,
		Time:    t.now(),
		Domain:  domainName(ctx.Domain),
		Pos:     ctx.Pos.Name,
		Item:    fmt.Sprintf("%+v", ctx.Item),
	}

	if ctx.Detail != nil {
		entry.Detail = fmt.Sprintf("%+v", ctx.Detail)
	}

	t.backend.InsertData(EventTable, entry)
	t.recordItem(ctx.Pos, ctx.Item)
}

func (t *DBTracer) recordItem(pos *hooking.HookPos, item any) {
	if item == nil || t.unflat[pos] {
		return
	}

	if !t.itemTables[pos] {
		if !isFlatStruct(item) {
			t.unflat[pos] = true
			return
		}

		t.backend.CreateTable(pos.Name, item)
		t.itemTables[pos] = true
	}

	t.backend.InsertData(pos.Name, item)
}

func isFlatStruct(item any) bool {
	typ := reflect.TypeOf(item)
	if typ.Kind() != reflect.Struct || typ.NumField() == 0 {
		return false
	}

	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			return false
		}

		switch f.Type.Kind() {
		case reflect.Struct, reflect.Ptr, reflect.Slice, reflect.Map,
			reflect.Array, reflect.Interface, reflect.Func, reflect.Chan,
			reflect.Complex64, reflect.Complex128, reflect.Uintptr,
			reflect.UnsafePointer:
			return false
		}
	}

	return true
}

func domainName(d hooking.Hookable) string {
	if n, ok := d.(named); ok {
		return n.Name()
	}

	if d == nil {
		return ""
	}

	return fmt.Sprintf("%T", d)
}

func (t *DBTracer) now() float64 {
	return time.Since(t.start).Seconds()
}

// IsTracing returns true if hook invocations are being recorded.
func (t *DBTracer) IsTracing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.isTracing
}

// EnableTracing starts a new trace session. It does nothing if a session is
// already running.
func (t *DBTracer) EnableTracing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isTracing {
		return
	}

	t.isTracing = true
	t.session++
	t.sessionStart = t.now()
	t.sessionEvents = 0
}

// StopTracing ends the current session and records it.
func (t *DBTracer) StopTracing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
}

func (t *DBTracer) stopLocked() {
	if !t.isTracing {
		return
	}

	t.isTracing = false
	t.backend.InsertData(SessionTable, SessionEntry{
		Session:      t.session,
		SessionStart: t.sessionStart,
		SessionEnd:   t.now(),
		Events:       t.sessionEvents,
	})
}

// NumEvents returns the number of invocations recorded so far.
func (t *DBTracer) NumEvents() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.seq
}

// Terminate ends the running session and flushes the backend.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.backend.Flush()
}
