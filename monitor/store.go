// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package monitor owns a process's contribution to the per-database
// monitoring region: the append-only store of per-process elements, the
// cross-process coordination lock with its blocking AST, and the collector
// that publishes this process's attachments into the store.
package monitor

import (
	"encoding/binary"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/errors"
	"github.com/ibprovider/firebird/logger"
	"github.com/ibprovider/firebird/shmem"
)

// DefaultSize is the region growth quantum and its initial size.
const DefaultSize = 8192

// Element header layout: process id, local id, payload length (unaligned).
const (
	elemPID    = 0
	elemLocal  = 4
	elemLength = 8

	elementHeaderSize = 12
)

// Store is the append-only element store over the shared region. Every read
// and write is bracketed by Acquire/Release; the region mutex is the sole
// synchronization between peer processes.
type Store struct {
	region    *shmem.Region
	processID int32
	localID   int32
	live      firebird.Liveness
	log       logger.Logger
}

// OpenStore maps the database's monitoring region and returns a store bound
// to this process's (processID, localID) identity.
func OpenStore(dir, fileID string, processID, localID int32, live firebird.Liveness, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NopLogger
	}
	region, err := shmem.Map(dir, shmem.RegionName(fileID), DefaultSize, log)
	if err != nil {
		log.Errorf("cannot initialize the shared memory region: %v", err)
		return nil, err
	}
	return &Store{
		region:    region,
		processID: processID,
		localID:   localID,
		live:      live,
		log:       log,
	}, nil
}

// Region exposes the underlying shared region.
func (s *Store) Region() *shmem.Region { return s.region }

// Acquire locks the region mutex and catches up with growth performed by
// peers: when the header's allocated size exceeds the local mapping, the
// region is re-mapped before any element pointer is touched.
func (s *Store) Acquire() error {
	s.region.Lock()
	if alloc := s.region.Allocated(); alloc > s.region.MappedLen() {
		if err := s.region.Remap(alloc, false); err != nil {
			s.region.Unlock()
			return errors.Wrap(errors.New(errors.ErrMonTableExhausted, "monitor table exhausted"),
				err.Error())
		}
	}
	return nil
}

// Release unlocks the region mutex.
func (s *Store) Release() {
	s.region.Unlock()
}

func (s *Store) u32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(s.region.Bytes()[off:])
}

func (s *Store) putU32(off, v uint32) {
	binary.LittleEndian.PutUint32(s.region.Bytes()[off:], v)
}

// elementSize is the aligned on-region footprint of an element with the
// given payload length.
func elementSize(payload uint32) uint32 {
	return shmem.Align(elementHeaderSize + payload)
}

// Setup appends an empty element tagged with this process's identity and
// returns its offset. The caller holds the region lock, so no two setups
// interleave.
func (s *Store) Setup() (uint32, error) {
	if err := s.ensureSpace(elementHeaderSize); err != nil {
		return 0, err
	}
	offset := s.region.Used()
	s.putU32(offset+elemPID, uint32(s.processID))
	s.putU32(offset+elemLocal, uint32(s.localID))
	s.putU32(offset+elemLength, 0)
	s.region.SetUsed(offset + shmem.Align(elementHeaderSize))
	return offset, nil
}

// Write appends data to the payload of the element at offset and grows
// `used` by exactly the change in aligned element size, so padding stays
// correct.
func (s *Store) Write(offset uint32, data []byte) error {
	if err := s.ensureSpace(uint32(len(data))); err != nil {
		return err
	}
	length := s.u32(offset + elemLength)
	copy(s.region.Bytes()[offset+elementHeaderSize+length:], data)

	previous := elementSize(length)
	length += uint32(len(data))
	s.putU32(offset+elemLength, length)
	current := elementSize(length)
	s.region.SetUsed(s.region.Used() + (current - previous))

	dumpBytesTotal.Add(float64(len(data)))
	return nil
}

// Cleanup removes every element belonging to this process, closing the gaps
// with memmove and shrinking `used` by each removed element's aligned size.
func (s *Store) Cleanup() {
	b := s.region.Bytes()
	for offset := shmem.Align(shmem.HeaderSize); offset < s.region.Used(); {
		length := elementSize(s.u32(offset + elemLength))

		if int32(s.u32(offset+elemPID)) == s.processID &&
			int32(s.u32(offset+elemLocal)) == s.localID {
			used := s.region.Used()
			copy(b[offset:], b[offset+length:used])
			s.region.SetUsed(used - length)
		} else {
			offset += length
		}
	}
}

// Read garbage collects elements of dead processes and returns a compacted
// heap buffer holding every surviving payload, this process's own payload
// first. The caller holds the region lock.
//
// Removal during the first pass only shifts elements at higher offsets, so
// the own-element offset captured while scanning stays valid: the caller's
// own element was appended by a prior Setup and publish.
func (s *Store) Read() ([]byte, error) {
	var selfOffset, resultSize uint32

	// First pass: drop dead contributors in place, size the rest.
	b := s.region.Bytes()
	for offset := shmem.Align(shmem.HeaderSize); offset < s.region.Used(); {
		pid := int32(s.u32(offset + elemPID))
		payload := s.u32(offset + elemLength)
		length := elementSize(payload)

		if pid == s.processID && int32(s.u32(offset+elemLocal)) == s.localID {
			selfOffset = offset
		}

		if s.alive(pid) {
			resultSize += payload
			offset += length
		} else {
			used := s.region.Used()
			copy(b[offset:], b[offset+length:used])
			s.region.SetUsed(used - length)
			gcElementsTotal.Inc()
		}
	}

	if selfOffset == 0 {
		return nil, errors.New(errors.ErrBadDump, "own monitoring element missing from the region")
	}

	// Second pass: own payload first, then every other survivor in store
	// order.
	buffer := make([]byte, 0, resultSize)
	payload := s.u32(selfOffset + elemLength)
	buffer = append(buffer, b[selfOffset+elementHeaderSize:selfOffset+elementHeaderSize+payload]...)

	for offset := shmem.Align(shmem.HeaderSize); offset < s.region.Used(); {
		payload := s.u32(offset + elemLength)
		if offset != selfOffset {
			buffer = append(buffer, b[offset+elementHeaderSize:offset+elementHeaderSize+payload]...)
		}
		offset += elementSize(payload)
	}

	return buffer, nil
}

func (s *Store) alive(pid int32) bool {
	if pid == s.processID {
		return true
	}
	if s.live == nil {
		return true
	}
	return s.live.ProcessAlive(pid)
}

// ensureSpace grows the region so that length more bytes fit, rounding the
// new size up to the growth quantum. Failure to grow surfaces as the
// monitor-table-exhausted error.
func (s *Store) ensureSpace(length uint32) error {
	newSize := s.region.Used() + length

	if newSize > s.region.Allocated() {
		newSize = (newSize + DefaultSize - 1) / DefaultSize * DefaultSize

		if err := s.region.Remap(newSize, true); err != nil {
			s.log.Errorf("cannot grow the monitoring region: %v", err)
			return errors.New(errors.ErrMonTableExhausted, "monitor table exhausted")
		}
		s.region.SetAllocated(s.region.MappedLen())
		regionGrowthsTotal.Inc()
	}
	return nil
}

// Close removes this process's elements and unmaps the region. When nothing
// but the header remains, the last contributor also removes the backing
// file.
func (s *Store) Close() error {
	s.region.Lock()
	s.Cleanup()
	if s.region.Used() == shmem.Align(shmem.HeaderSize) {
		if err := s.region.Remove(); err != nil {
			s.log.Warnf("cannot remove the monitoring region file: %v", err)
		}
	}
	s.region.Unlock()

	return s.region.Unmap()
}

// Element describes one contribution while walking a raw region image.
type Element struct {
	ProcessID int32
	LocalID   int32
	Payload   []byte
}

// WalkElements iterates the elements of a raw region image outside any
// region lock. The fbmon tool uses it to inspect a region file offline.
func WalkElements(data []byte, fn func(Element) error) error {
	hdr, err := shmem.ReadHeader(data)
	if err != nil {
		return err
	}
	if hdr.Used > uint32(len(data)) {
		return errors.New(errors.ErrBadDump, "region image shorter than its used size")
	}

	for offset := shmem.Align(shmem.HeaderSize); offset < hdr.Used; {
		if offset+elementHeaderSize > hdr.Used {
			return errors.New(errors.ErrBadDump, "truncated element header")
		}
		pid := int32(binary.LittleEndian.Uint32(data[offset+elemPID:]))
		localID := int32(binary.LittleEndian.Uint32(data[offset+elemLocal:]))
		payload := binary.LittleEndian.Uint32(data[offset+elemLength:])

		if offset+elementHeaderSize+payload > hdr.Used {
			return errors.New(errors.ErrBadDump, "truncated element payload")
		}
		if err := fn(Element{
			ProcessID: pid,
			LocalID:   localID,
			Payload:   data[offset+elementHeaderSize : offset+elementHeaderSize+payload],
		}); err != nil {
			return err
		}
		offset += elementSize(payload)
	}
	return nil
}
