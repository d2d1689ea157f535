// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package firebird

// LockMode is the mode a distributed lock is requested in.
type LockMode int

const (
	LockShared LockMode = iota + 1
	LockExclusive
)

// AST is an asynchronous system trap: a short callback the lock manager runs
// on a holder when another actor requests an incompatible mode. It executes
// on a lock-manager thread and must absorb its own failures.
type AST func()

// LockHandle is an opaque reference to one granted lock.
type LockHandle interface{}

// LockManager is the engine's distributed lock manager, reduced to what the
// monitoring subsystem needs.
type LockManager interface {
	// Acquire takes the named lock in the given mode. With wait set the
	// call blocks until the lock is granted; otherwise an incompatible
	// state fails immediately. A non-nil ast is registered as the
	// holder's blocking callback.
	Acquire(name string, mode LockMode, wait bool, ast AST) (LockHandle, error)
	// Release drops a granted lock.
	Release(h LockHandle)
}

// Liveness answers whether a process that contributed monitoring data is
// still running.
type Liveness interface {
	ProcessAlive(pid int32) bool
}
