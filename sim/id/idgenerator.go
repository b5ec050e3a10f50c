// Package id generates identifiers for kernel objects such as threads,
// processes, and recorded events.
package id

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs.
type IDGenerator interface {
	Generate() string
}

// NewIDGenerator returns a generator that produces 1, 2, 3, ... in order.
// Sequential IDs keep test output deterministic.
func NewIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewUniqueIDGenerator returns a generator whose IDs are globally unique,
// which is what run names and database files need.
func NewUniqueIDGenerator() IDGenerator {
	return uniqueIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	id := strconv.FormatUint(idNumber, 10)

	return id
}

type uniqueIDGenerator struct{}

func (g uniqueIDGenerator) Generate() string {
	return xid.New().String()
}

// A Counter hands out small integer identifiers, such as thread IDs and
// PIDs.
type Counter struct {
	next uint64
}

// Next returns the next identifier. The first value returned is 1.
func (c *Counter) Next() uint64 {
	return atomic.AddUint64(&c.next, 1)
}
