// Package physmem models the physical RAM of the machine.
package physmem

import (
	"errors"
	"sync"
)

// ErrOutOfRange is returned when accessing beyond the installed RAM.
var ErrOutOfRange = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the content of physical memory.
//
// The storage manages memory in units of one page. Units that have never
// been written read as zero and take no host memory.
type Storage struct {
	lock     sync.Mutex
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity in bytes.
func NewStorage(capacity uint64) *Storage {
	return NewStorageWithUnitSize(capacity, 4096)
}

// NewStorageWithUnitSize creates a storage object whose internal units are
// unitSize bytes.
func NewStorageWithUnitSize(capacity, unitSize uint64) *Storage {
	storage := new(Storage)

	storage.unitSize = unitSize
	storage.capacity = capacity
	storage.data = make(map[uint64][]byte)

	return storage
}

// Capacity returns the number of bytes installed.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// Read returns a copy of length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.mustBeInRange(address, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	s.forEachChunk(address, length, func(unit []byte, inUnit, offset, n uint64) {
		if unit != nil {
			copy(res[offset:offset+n], unit[inUnit:inUnit+n])
		}
	}, false)

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	length := uint64(len(data))
	if err := s.mustBeInRange(address, length); err != nil {
		return err
	}

	s.forEachChunk(address, length, func(unit []byte, inUnit, offset, n uint64) {
		copy(unit[inUnit:inUnit+n], data[offset:offset+n])
	}, true)

	return nil
}

// Zero clears length bytes starting at address.
func (s *Storage) Zero(address uint64, length uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.mustBeInRange(address, length); err != nil {
		return err
	}

	s.forEachChunk(address, length, func(unit []byte, inUnit, _, n uint64) {
		if unit != nil {
			clear(unit[inUnit : inUnit+n])
		}
	}, false)

	return nil
}

// Copy copies length bytes from src to dst. The two ranges must not overlap.
func (s *Storage) Copy(dst, src, length uint64) error {
	data, err := s.Read(src, length)
	if err != nil {
		return err
	}

	return s.Write(dst, data)
}

func (s *Storage) mustBeInRange(address, length uint64) error {
	if address+length > s.capacity || address+length < address {
		return ErrOutOfRange
	}

	return nil
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// forEachChunk walks [address, address+length) unit by unit. When create is
// false, untouched units are passed as nil.
func (s *Storage) forEachChunk(
	address, length uint64,
	fn func(unit []byte, inUnit, offset, n uint64),
	create bool,
) {
	currAddr := address
	offset := uint64(0)

	for offset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)

		unit, ok := s.data[baseAddr]
		if !ok && create {
			unit = make([]byte, s.unitSize)
			s.data[baseAddr] = unit
		}

		n := s.unitSize - inUnitAddr
		if length-offset < n {
			n = length - offset
		}

		fn(unit, inUnitAddr, offset, n)

		offset += n
		currAddr += n
	}
}
