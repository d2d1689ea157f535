// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package monitor

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/text/encoding"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/logger"
)

// Config carries the process identity and the engine collaborators a Monitor
// needs.
type Config struct {
	// Dir is the directory the region file lives in. Defaults to the
	// system temp directory.
	Dir string

	// ProcessID defaults to this process's pid. LocalID disambiguates
	// multiple attachments of one process to the same database.
	ProcessID int32
	LocalID   int32

	LockManager firebird.LockManager
	Liveness    firebird.Liveness
	Logger      logger.Logger

	// SystemCharset is the IANA name of the engine's system charset.
	// Empty means UTF-8.
	SystemCharset string
}

// Monitor is one process's registration with a database's monitoring region:
// it owns the store mapping, the shared monitor lock and the AST state
// machine, and publishes this process's attachments through the collector.
//
// The state machine per registration is Shared-held → (AST) → Refreshing →
// (publish+release) → Off → (next publish) → Shared-held. After a snapshot
// round the shared lock stays released until the next Publish re-acquires
// it.
type Monitor struct {
	db          *firebird.Database
	store       *Store
	lockMgr     firebird.LockManager
	lockName    string
	log         logger.Logger
	sysEncoding encoding.Encoding
	processID   int32

	// mu is the per-database monitor latch: it protects handle and the
	// single-writer publish window. off is double-checked, so it is
	// atomic as well as latch-guarded.
	mu     sync.Mutex
	off    atomic.Bool
	handle firebird.LockHandle
}

// Attach maps the database's region, registers the blocking AST on a shared
// monitor lock and returns the Monitor.
func Attach(db *firebird.Database, cfg Config) (*Monitor, error) {
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.ProcessID == 0 {
		cfg.ProcessID = int32(os.Getpid())
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NopLogger
	}

	enc, err := systemEncoding(cfg.SystemCharset)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg.Dir, db.FileID, cfg.ProcessID, cfg.LocalID, cfg.Liveness, cfg.Logger)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		db:          db,
		store:       store,
		lockMgr:     cfg.LockManager,
		lockName:    fmt.Sprintf("monitor/%s", db.FileID),
		log:         cfg.Logger,
		sysEncoding: enc,
		processID:   cfg.ProcessID,
	}

	handle, err := m.lockMgr.Acquire(m.lockName, firebird.LockShared, true, m.blockingAST)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	m.handle = handle

	return m, nil
}

// Store exposes the element store.
func (m *Monitor) Store() *Store { return m.store }

// ProcessID returns the identity this monitor contributes under.
func (m *Monitor) ProcessID() int32 { return m.processID }

// Database returns the monitored database.
func (m *Monitor) Database() *firebird.Database { return m.db }

// blockingAST runs on a lock-manager thread when a peer requests the monitor
// lock exclusively: publish fresh data, release the shared lock, go Off.
// Reentrant-safe via the double-checked off flag; failures are logged and
// absorbed so one bad peer cannot stall the round.
func (m *Monitor) blockingAST() {
	defer func() {
		if p := recover(); p != nil {
			m.log.Errorf("monitor AST panic: %v", p)
		}
	}()

	if m.off.Load() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.off.Load() {
		return
	}

	if err := m.dumpSelf(); err != nil {
		m.log.Errorf("cannot dump the monitoring data: %v", err)
	}

	// Release the lock and mark this registration as requesting a new
	// one.
	if m.handle != nil {
		m.lockMgr.Release(m.handle)
		m.handle = nil
	}
	m.off.Store(true)
}

// Publish re-acquires the shared monitor lock if an AST released it, then
// dumps this process's data. The engine calls this whenever it is about to
// make fresh monitoring state visible.
func (m *Monitor) Publish() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		handle, err := m.lockMgr.Acquire(m.lockName, firebird.LockShared, true, m.blockingAST)
		if err != nil {
			return err
		}
		m.handle = handle
		m.off.Store(false)
	}
	return m.dumpSelf()
}

// SnapshotRound drives one cross-process refresh cycle: release the own
// shared lock so this registration is not asked to refresh itself, publish
// fresh local data, then pulse the lock exclusively with wait semantics so
// every peer's AST has run before the caller reads the store.
func (m *Monitor) SnapshotRound() error {
	m.mu.Lock()
	if m.handle != nil {
		m.lockMgr.Release(m.handle)
		m.handle = nil
	}
	m.off.Store(false)

	err := m.dumpSelf()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	// Signal other processes to dump their data.
	handle, err := m.lockMgr.Acquire(m.lockName, firebird.LockExclusive, true, nil)
	if err != nil {
		return err
	}
	m.lockMgr.Release(handle)

	// Mark this registration as requesting a new shared lock.
	m.mu.Lock()
	m.off.Store(true)
	m.mu.Unlock()

	snapshotRoundsTotal.Inc()
	return nil
}

// ReadData returns the compacted dump of every live contributor, own payload
// first.
func (m *Monitor) ReadData() ([]byte, error) {
	if err := m.store.Acquire(); err != nil {
		return nil, err
	}
	defer m.store.Release()
	return m.store.Read()
}

// Detach releases the shared lock and withdraws this process's contribution.
func (m *Monitor) Detach() error {
	m.mu.Lock()
	if m.handle != nil {
		m.lockMgr.Release(m.handle)
		m.handle = nil
	}
	m.off.Store(true)
	m.mu.Unlock()

	return m.store.Close()
}
