// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package lockmgr is an in-process lock manager implementing the engine's
// LockManager interface: named shared/exclusive locks with WAIT semantics
// and blocking ASTs fired at shared holders when an exclusive request
// arrives. Embedded servers and the test suites use it; a networked server
// plugs its distributed lock manager in instead.
package lockmgr

import (
	"sync"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/errors"
)

// Manager tracks every named lock.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

type lockState struct {
	cond      *sync.Cond
	shared    map[*Handle]struct{}
	exclusive *Handle
}

// Handle is one granted lock.
type Handle struct {
	lock     *lockState
	mode     firebird.LockMode
	ast      firebird.AST
	released bool
}

// New returns an empty manager.
func New() *Manager {
	return &Manager{locks: make(map[string]*lockState)}
}

var _ firebird.LockManager = (*Manager)(nil)

func (m *Manager) state(name string) *lockState {
	ls, ok := m.locks[name]
	if !ok {
		ls = &lockState{
			cond:   sync.NewCond(&m.mu),
			shared: make(map[*Handle]struct{}),
		}
		m.locks[name] = ls
	}
	return ls
}

// Acquire grants the named lock in the requested mode. An exclusive request
// fires the blocking AST of every shared holder exactly once per conflict
// and, with wait set, blocks until all holders have released. ASTs run on
// their own goroutines, never under the manager mutex.
func (m *Manager) Acquire(name string, mode firebird.LockMode, wait bool, ast firebird.AST) (firebird.LockHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls := m.state(name)
	h := &Handle{lock: ls, mode: mode, ast: ast}

	switch mode {
	case firebird.LockShared:
		for ls.exclusive != nil {
			if !wait {
				return nil, errors.Newf(errors.ErrLockTimeout, "lock %s busy", name)
			}
			ls.cond.Wait()
		}
		ls.shared[h] = struct{}{}

	case firebird.LockExclusive:
		notified := make(map[*Handle]struct{})
		for len(ls.shared) > 0 || ls.exclusive != nil {
			for holder := range ls.shared {
				if holder.ast != nil {
					if _, done := notified[holder]; !done {
						notified[holder] = struct{}{}
						go holder.ast()
					}
				}
			}
			if !wait {
				return nil, errors.Newf(errors.ErrLockTimeout, "lock %s busy", name)
			}
			ls.cond.Wait()
		}
		ls.exclusive = h

	default:
		return nil, errors.Errorf("unknown lock mode %d", mode)
	}

	return h, nil
}

// Release drops a granted lock and wakes waiters. Releasing twice is a
// no-op.
func (m *Manager) Release(lh firebird.LockHandle) {
	h, ok := lh.(*Handle)
	if !ok || h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	ls := h.lock
	if ls.exclusive == h {
		ls.exclusive = nil
	}
	delete(ls.shared, h)

	// Lock states are kept once created (one per database); a waiter may
	// still be parked on the condition variable.
	ls.cond.Broadcast()
}
