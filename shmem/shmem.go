// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package shmem maps the per-database monitoring region: a file-backed
// shared memory segment with a fixed header and a cross-process mutex. The
// mutex is a kernel file lock on the backing file, so a holder that dies
// releases it implicitly and never wedges its peers.
package shmem

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cespare/xxhash"
	"golang.org/x/sys/unix"

	"github.com/ibprovider/firebird/errors"
	"github.com/ibprovider/firebird/logger"
	"github.com/ibprovider/firebird/syswrap"
)

// Region type tag stamped into the header.
const RegionTypeSnapshot = 0x53524D31 // "SRM1"

// MonitorVersion is the layout version; strictly checked on attach.
const MonitorVersion = 4

// Alignment is the platform's natural alignment. Every offset in the region
// is a multiple of it.
const Alignment = 8

// Header layout. The mutex area is opaque: the lock itself lives with the
// backing file, the area only reserves layout space for it.
const (
	offType      = 0
	offVersion   = 4
	offUsed      = 8
	offAllocated = 12
	mutexAreaLen = 40

	// HeaderSize is the aligned size of the region header.
	HeaderSize = 16 + mutexAreaLen
)

// MonitorFile is the template the region file name is rendered from.
const MonitorFile = "fb_monitor_%016x"

// RegionName derives the region file name from the stable unique identifier
// of the database file.
func RegionName(fileID string) string {
	return fmt.Sprintf(MonitorFile, xxhash.Sum64String(fileID))
}

// exitFunc lets tests intercept the terminate-on-mutex-corruption path.
var exitFunc = os.Exit

// Region is one process's mapping of the shared monitoring segment.
type Region struct {
	f    *os.File
	data []byte
	path string
	log  logger.Logger
}

// Align rounds n up to the region alignment.
func Align(n uint32) uint32 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Map opens or creates the named region under dir and maps initialSize
// bytes. On first creation the header is stamped exactly once; subsequent
// openers reject a mismatched region type or layout version.
func Map(dir, name string, initialSize uint32, log logger.Logger) (*Region, error) {
	if log == nil {
		log = logger.NopLogger
	}
	initialSize = Align(initialSize)

	path := filepath.Join(dir, name)
	f, mustClose, err := syswrap.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(errors.New(errors.ErrMapFailed, err.Error()),
			"cannot open region file %s", path)
	}
	if mustClose {
		log.Warnf("open file limit exceeded mapping %s", path)
	}

	r := &Region{f: f, path: path, log: log}

	// The file lock guards initialization against concurrent first
	// openers; it doubles as the region mutex afterwards.
	if err := r.flock(); err != nil {
		_ = syswrap.CloseFile(f)
		return nil, err
	}
	defer r.funlock()

	fi, err := f.Stat()
	if err != nil {
		_ = syswrap.CloseFile(f)
		return nil, errors.Wrap(err, "stat region file")
	}
	created := fi.Size() == 0

	size := initialSize
	if !created && fi.Size() > int64(size) {
		size = uint32(fi.Size())
	}
	if err := unix.Ftruncate(int(f.Fd()), int64(size)); err != nil {
		_ = syswrap.CloseFile(f)
		return nil, errors.Wrap(errors.New(errors.ErrMapFailed, err.Error()), "ftruncate region file")
	}

	if r.data, err = syswrap.Mmap(int(f.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED); err != nil {
		_ = syswrap.CloseFile(f)
		return nil, errors.Wrap(errors.New(errors.ErrMapFailed, err.Error()), "mmap region file")
	}

	if created {
		r.putU32(offType, RegionTypeSnapshot)
		r.putU32(offVersion, MonitorVersion)
		r.SetUsed(Align(HeaderSize))
		r.SetAllocated(size)
	} else {
		if r.u32(offType) != RegionTypeSnapshot {
			r.unmapLocked()
			return nil, errors.Newf(errors.ErrVersionMismatch,
				"region %s is not a database snapshot segment", path)
		}
		if v := r.u32(offVersion); v != MonitorVersion {
			r.unmapLocked()
			return nil, errors.Newf(errors.ErrVersionMismatch,
				"monitor version %d, expected %d", v, MonitorVersion)
		}
	}

	return r, nil
}

// MappedLen returns the length of the local mapping, which can lag the
// header's allocated size until Remap is called.
func (r *Region) MappedLen() uint32 { return uint32(len(r.data)) }

// Bytes exposes the mapped region.
func (r *Region) Bytes() []byte { return r.data }

// Used returns the occupied byte count, header included.
func (r *Region) Used() uint32 { return r.u32(offUsed) }

// SetUsed updates the occupied byte count.
func (r *Region) SetUsed(n uint32) { r.putU32(offUsed, n) }

// Allocated returns the region size recorded in the header.
func (r *Region) Allocated() uint32 { return r.u32(offAllocated) }

// SetAllocated records the region size in the header.
func (r *Region) SetAllocated(n uint32) { r.putU32(offAllocated, n) }

func (r *Region) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(r.data[off:])
}

func (r *Region) putU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(r.data[off:], v)
}

// Remap resizes the local mapping to newSize. The region is file backed, so
// contents survive the remap either way; preserve is part of the contract
// with callers that grow the segment. Must be called with the region lock
// held.
func (r *Region) Remap(newSize uint32, preserve bool) error {
	_ = preserve

	if err := syswrap.Munmap(r.data); err != nil {
		return errors.Wrap(errors.New(errors.ErrMapFailed, err.Error()), "munmap region")
	}
	r.data = nil

	if err := unix.Ftruncate(int(r.f.Fd()), int64(newSize)); err != nil {
		return errors.Wrap(errors.New(errors.ErrMapFailed, err.Error()), "grow region file")
	}

	data, err := syswrap.Mmap(int(r.f.Fd()), 0, int(newSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return errors.Wrap(errors.New(errors.ErrMapFailed, err.Error()), "remap region file")
	}
	r.data = data
	return nil
}

// Unmap drops the local mapping and closes the file.
func (r *Region) Unmap() error {
	err := r.unmapLocked()
	return err
}

func (r *Region) unmapLocked() error {
	var err error
	if r.data != nil {
		err = syswrap.Munmap(r.data)
		r.data = nil
	}
	if r.f != nil {
		if cerr := syswrap.CloseFile(r.f); err == nil {
			err = cerr
		}
		r.f = nil
	}
	return err
}

// Remove unlinks the backing file. The last contributor calls this when the
// region holds nothing but the header.
func (r *Region) Remove() error {
	return os.Remove(r.path)
}

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Lock takes the cross-process region mutex. Unrecoverable mutex errors are
// logged and terminate the process before they can corrupt the region.
func (r *Region) Lock() {
	if err := r.flock(); err != nil {
		r.mutexBug("lock", err)
	}
}

// Unlock releases the cross-process region mutex.
func (r *Region) Unlock() {
	if err := r.funlockErr(); err != nil {
		r.mutexBug("unlock", err)
	}
}

func (r *Region) flock() error {
	for {
		err := unix.Flock(int(r.f.Fd()), unix.LOCK_EX)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return errors.Wrap(errors.New(errors.ErrMutexCorrupt, err.Error()), "region mutex")
	}
}

func (r *Region) funlock() {
	_ = r.funlockErr()
}

func (r *Region) funlockErr() error {
	if err := unix.Flock(int(r.f.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrap(errors.New(errors.ErrMutexCorrupt, err.Error()), "region mutex")
	}
	return nil
}

func (r *Region) mutexBug(op string, err error) {
	r.log.Errorf("MONITOR: mutex %s error: %v", op, err)
	exitFunc(1)
}

// Header is the decoded fixed prefix of a region image.
type Header struct {
	Type      uint32
	Version   uint32
	Used      uint32
	Allocated uint32
}

// ReadHeader decodes the header of a raw region image, for offline
// inspection of a region file.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, errors.New(errors.ErrBadDump, "region image shorter than its header")
	}
	return Header{
		Type:      binary.LittleEndian.Uint32(data[offType:]),
		Version:   binary.LittleEndian.Uint32(data[offVersion:]),
		Used:      binary.LittleEndian.Uint32(data[offUsed:]),
		Allocated: binary.LittleEndian.Uint32(data[offAllocated:]),
	}, nil
}
