// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package firebird

import (
	"sync"
	"time"
)

// Timestamp is the engine timestamp layout: signed microseconds since the
// Unix epoch, stored in 8 bytes.
type Timestamp int64

// TimestampOf converts a time.Time.
func TimestampOf(t time.Time) Timestamp { return Timestamp(t.UnixMicro()) }

// Time converts back to time.Time.
func (ts Timestamp) Time() time.Time { return time.UnixMicro(int64(ts)) }

// UserInfo is the identity an attachment runs under.
type UserInfo struct {
	Name string
	Role string
	// Locksmith marks a privileged user allowed to observe every
	// attachment, not only its own.
	Locksmith bool
}

// Database is the narrow engine view of one attached database that the
// monitoring subsystem consumes.
type Database struct {
	Name   string // database name or alias, in the system charset
	FileID string // stable unique identifier of the database file

	PageSize          int64
	OdsMajor          int64
	OdsMinor          int64
	OldestTransaction int64
	OldestActive      int64
	OldestSnapshot    int64
	NextTransaction   int64
	PageBuffers       int64
	Dialect3          bool
	ShutdownMode      int
	SweepInterval     int64
	ReadOnly          bool
	ForcedWrites      bool
	ReserveSpace      bool
	CreationDate      Timestamp
	Pages             int64
	BackupState       int
	SharedCache       bool

	Stats  RuntimeStatistics
	Memory MemoryStats

	// RefreshHeader revalidates the database header before a snapshot is
	// assembled. Optional; supplied by the engine.
	RefreshHeader func() error

	mu             sync.Mutex
	attachments    []*Attachment
	sysAttachments []*Attachment
}

// AddAttachment registers a user attachment.
func (db *Database) AddAttachment(a *Attachment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a.Database = db
	db.attachments = append(db.attachments, a)
}

// AddSystemAttachment registers a system (internal) attachment.
func (db *Database) AddSystemAttachment(a *Attachment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a.Database = db
	db.sysAttachments = append(db.sysAttachments, a)
}

// RemoveAttachment drops an attachment from both lists.
func (db *Database) RemoveAttachment(a *Attachment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.attachments = removeAttachment(db.attachments, a)
	db.sysAttachments = removeAttachment(db.sysAttachments, a)
}

func removeAttachment(list []*Attachment, a *Attachment) []*Attachment {
	for i, it := range list {
		if it == a {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Attachments returns a stable copy of the user attachment list.
func (db *Database) Attachments() []*Attachment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*Attachment(nil), db.attachments...)
}

// SystemAttachments returns a stable copy of the system attachment list.
func (db *Database) SystemAttachments() []*Attachment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*Attachment(nil), db.sysAttachments...)
}

// Attachment is a single client session bound to a database within one server
// process. Its latch freezes the transaction and request lists while the
// collector walks them.
type Attachment struct {
	mu sync.Mutex

	ID       int64
	Database *Database
	User     *UserInfo // nil until authentication completes
	FileName string    // in the system charset

	RemoteProtocol string
	RemoteAddress  string
	RemotePID      int32
	RemoteProcess  string // in the system charset

	Charset   CharSet
	Timestamp Timestamp
	NoCleanup bool

	ContextVars  map[string]string
	Transactions []*Transaction
	Requests     []*Request // top-level requests

	Stats  RuntimeStatistics
	Memory MemoryStats
}

// Lock takes the per-attachment latch.
func (a *Attachment) Lock() { a.mu.Lock() }

// Unlock releases the per-attachment latch.
func (a *Attachment) Unlock() { a.mu.Unlock() }

// State derives the attachment state from its transactions.
func (a *Attachment) State() int {
	for _, tra := range a.Transactions {
		if len(tra.Requests) > 0 {
			return StateActive
		}
	}
	return StateIdle
}

// Transaction is one transaction of an attachment.
type Transaction struct {
	ID         int64
	Attachment *Attachment

	Timestamp    Timestamp
	Top          int64
	Oldest       int64
	OldestActive int64

	Degree3       bool // consistency mode
	ReadCommitted bool
	RecVersion    bool
	ReadOnly      bool
	AutoCommit    bool
	NoAutoUndo    bool
	LockTimeout   int64

	ContextVars map[string]string
	Requests    []*Request // active request chain leaves

	Stats  RuntimeStatistics
	Memory MemoryStats

	blobs map[int64]*Blob

	// SnapshotSlot caches the per-transaction monitoring snapshot so that
	// repeated scans within one transaction observe the same data.
	SnapshotSlot interface{}
}

// IsoMode maps the transaction flags to the monitoring isolation mode value.
func (t *Transaction) IsoMode() int {
	switch {
	case t.Degree3:
		return IsoModeConsistency
	case t.ReadCommitted && t.RecVersion:
		return IsoModeRCVersion
	case t.ReadCommitted:
		return IsoModeRCNoVersion
	default:
		return IsoModeConcurrency
	}
}

// State derives the transaction state from its request list.
func (t *Transaction) State() int {
	if len(t.Requests) > 0 {
		return StateActive
	}
	return StateIdle
}

// Statement flags.
const (
	StmtInternal   = 1 << 0
	StmtSysTrigger = 1 << 1
)

// RoutineName identifies a stored routine reachable from a call frame.
type RoutineName struct {
	Package    string
	Identifier string
	ObjectType int
}

// Statement is the compiled statement a request executes.
type Statement struct {
	Flags       uint32
	SQLText     string // in the system charset
	Routine     *RoutineName
	TriggerName string
}

// Monitorable reports whether statements of this kind appear in the dump.
func (s *Statement) Monitorable() bool {
	return s.Flags&(StmtInternal|StmtSysTrigger) == 0
}

// Request is one executing statement instance or call-stack frame.
type Request struct {
	ID          int64
	Attachment  *Attachment
	Transaction *Transaction
	Statement   *Statement
	Caller      *Request

	Active    bool
	Stalled   bool
	Timestamp Timestamp
	SrcLine   int64
	SrcColumn int64

	Stats  RuntimeStatistics
	Memory MemoryStats

	blobs    map[int64]*Blob
	adjusted RuntimeStatistics
}

// AdjustCallerStats folds the counters this request accrued since the last
// adjustment into its caller, so call-stack rows carry cumulative numbers.
func (r *Request) AdjustCallerStats() {
	if r.Caller == nil {
		return
	}
	for i := range r.Stats {
		delta := r.Stats[i] - r.adjusted[i]
		r.Caller.Stats[i] += delta
		r.adjusted[i] = r.Stats[i]
	}
}
