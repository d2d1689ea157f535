// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package monitor

import (
	"sort"
	"sync/atomic"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/dump"
)

// statCounter feeds process-unique stat ids; the composite global id
// (pid<<32)|counter is unique across the assembled snapshot.
var statCounter uint32

func nextStatID() int32 {
	return int32(atomic.AddUint32(&statCounter, 1))
}

func (m *Monitor) globalID(statID int32) int64 {
	return int64(uint32(m.processID))<<32 | int64(uint32(statID))
}

// dumpSelf rewrites this process's contribution from scratch: under the
// region lock it drops the previous element, appends a fresh one and streams
// every monitored object into it. Callers hold the monitor latch.
func (m *Monitor) dumpSelf() error {
	if err := m.store.Acquire(); err != nil {
		return err
	}
	defer m.store.Release()

	m.store.Cleanup()
	offset, err := m.store.Setup()
	if err != nil {
		return err
	}

	w := dump.NewWriter(func(rec []byte) error {
		return m.store.Write(offset, rec)
	})

	if err := m.putDatabase(w, nextStatID()); err != nil {
		return err
	}

	for _, att := range m.db.Attachments() {
		if err := m.dumpAttachment(w, att); err != nil {
			return err
		}
	}
	for _, att := range m.db.SystemAttachments() {
		if err := m.dumpAttachment(w, att); err != nil {
			return err
		}
	}
	return nil
}

// dumpAttachment emits one attachment and everything reachable from it, with
// the attachment latch held so the transaction and request lists stay
// frozen.
func (m *Monitor) dumpAttachment(w *dump.Writer, att *firebird.Attachment) error {
	att.Lock()
	defer att.Unlock()

	ok, err := m.putAttachment(w, att, nextStatID())
	if err != nil || !ok {
		return err
	}

	if err := m.putContextVars(w, att.ContextVars, att.ID, true); err != nil {
		return err
	}

	for _, tra := range att.Transactions {
		if err := m.putTransaction(w, tra, nextStatID()); err != nil {
			return err
		}
		if err := m.putContextVars(w, tra.ContextVars, tra.ID, false); err != nil {
			return err
		}
	}

	// Call stack frames, walked through the caller chains.
	for _, tra := range att.Transactions {
		for _, leaf := range tra.Requests {
			for request := leaf; request != nil; request = request.Caller {
				request.AdjustCallerStats()

				if request.Statement.Monitorable() && request.Caller != nil {
					if err := m.putCall(w, request, nextStatID()); err != nil {
						return err
					}
				}
			}
		}
	}

	// Top-level requests.
	for _, request := range att.Requests {
		if request.Statement.Monitorable() {
			if err := m.putRequest(w, request, nextStatID()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Monitor) putDatabase(w *dump.Writer, statID int32) error {
	db := m.db

	w.BeginRecord(firebird.RelDatabase)

	// database name or alias; always the first field of the record
	w.PutString(firebird.FDbName, m.systemToUTF8(db.Name))
	w.PutInteger(firebird.FDbPageSize, db.PageSize)
	w.PutInteger(firebird.FDbOdsMajor, db.OdsMajor)
	w.PutInteger(firebird.FDbOdsMinor, db.OdsMinor)
	w.PutInteger(firebird.FDbOIT, db.OldestTransaction)
	w.PutInteger(firebird.FDbOAT, db.OldestActive)
	w.PutInteger(firebird.FDbOST, db.OldestSnapshot)
	w.PutInteger(firebird.FDbNextTransaction, db.NextTransaction)
	w.PutInteger(firebird.FDbPageBufs, db.PageBuffers)

	dialect := int64(1)
	if db.Dialect3 {
		dialect = 3
	}
	w.PutInteger(firebird.FDbDialect, dialect)
	w.PutInteger(firebird.FDbShutMode, int64(db.ShutdownMode))
	w.PutInteger(firebird.FDbSweepInterval, db.SweepInterval)
	w.PutInteger(firebird.FDbReadOnly, boolInt(db.ReadOnly))
	w.PutInteger(firebird.FDbForcedWrites, boolInt(db.ForcedWrites))
	w.PutInteger(firebird.FDbReserveSpace, boolInt(db.ReserveSpace))
	w.PutTimestamp(firebird.FDbCreated, db.CreationDate)
	w.PutInteger(firebird.FDbPages, db.Pages)
	w.PutInteger(firebird.FDbBackupState, int64(db.BackupState))
	w.PutGlobalID(firebird.FDbStatID, m.globalID(statID))

	if err := w.EndRecord(); err != nil {
		return err
	}
	if err := m.putStatistics(w, &db.Stats, statID, firebird.StatGroupDatabase); err != nil {
		return err
	}

	// Without a shared cache the database arena is not a per-process
	// number; report zeroes rather than a misleading sum.
	mem := db.Memory
	if !db.SharedCache {
		mem = firebird.MemoryStats{}
	}
	return m.putMemoryUsage(w, &mem, statID, firebird.StatGroupDatabase)
}

func (m *Monitor) putAttachment(w *dump.Writer, att *firebird.Attachment, statID int32) (bool, error) {
	if att.User == nil {
		return false, nil
	}

	w.BeginRecord(firebird.RelAttachments)

	// user name; always the first field of the record
	w.PutString(firebird.FAttUser, []byte(att.User.Name))
	w.PutInteger(firebird.FAttID, att.ID)
	w.PutInteger(firebird.FAttServerPID, int64(m.processID))
	w.PutInteger(firebird.FAttState, int64(att.State()))
	w.PutString(firebird.FAttName, m.systemToUTF8(att.FileName))
	w.PutString(firebird.FAttRole, []byte(att.User.Role))
	w.PutString(firebird.FAttRemoteProtocol, []byte(att.RemoteProtocol))
	w.PutString(firebird.FAttRemoteAddress, []byte(att.RemoteAddress))
	if att.RemotePID != 0 {
		w.PutInteger(firebird.FAttRemotePID, int64(att.RemotePID))
	}
	w.PutString(firebird.FAttRemoteProcess, m.systemToUTF8(att.RemoteProcess))
	w.PutInteger(firebird.FAttCharsetID, int64(att.Charset))
	w.PutTimestamp(firebird.FAttTimestamp, att.Timestamp)
	w.PutInteger(firebird.FAttGC, boolInt(!att.NoCleanup))
	w.PutGlobalID(firebird.FAttStatID, m.globalID(statID))

	if err := w.EndRecord(); err != nil {
		return false, err
	}
	if err := m.putStatistics(w, &att.Stats, statID, firebird.StatGroupAttachment); err != nil {
		return false, err
	}

	mem := att.Memory
	if !m.db.SharedCache {
		mem = m.db.Memory
	}
	if err := m.putMemoryUsage(w, &mem, statID, firebird.StatGroupAttachment); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Monitor) putTransaction(w *dump.Writer, tra *firebird.Transaction, statID int32) error {
	w.BeginRecord(firebird.RelTransactions)

	w.PutInteger(firebird.FTraID, tra.ID)
	w.PutInteger(firebird.FTraAttID, tra.Attachment.ID)
	w.PutInteger(firebird.FTraState, int64(tra.State()))
	w.PutTimestamp(firebird.FTraTimestamp, tra.Timestamp)
	w.PutInteger(firebird.FTraTop, tra.Top)
	w.PutInteger(firebird.FTraOIT, tra.Oldest)
	w.PutInteger(firebird.FTraOAT, tra.OldestActive)
	w.PutInteger(firebird.FTraIsoMode, int64(tra.IsoMode()))
	w.PutInteger(firebird.FTraLockTimeout, tra.LockTimeout)
	w.PutInteger(firebird.FTraReadOnly, boolInt(tra.ReadOnly))
	w.PutInteger(firebird.FTraAutoCommit, boolInt(tra.AutoCommit))
	w.PutInteger(firebird.FTraAutoUndo, boolInt(!tra.NoAutoUndo))
	w.PutGlobalID(firebird.FTraStatID, m.globalID(statID))

	if err := w.EndRecord(); err != nil {
		return err
	}
	if err := m.putStatistics(w, &tra.Stats, statID, firebird.StatGroupTransaction); err != nil {
		return err
	}
	return m.putMemoryUsage(w, &tra.Memory, statID, firebird.StatGroupTransaction)
}

func (m *Monitor) putRequest(w *dump.Writer, request *firebird.Request, statID int32) error {
	w.BeginRecord(firebird.RelStatements)

	w.PutInteger(firebird.FStmtID, request.ID)
	if request.Attachment != nil {
		w.PutInteger(firebird.FStmtAttID, request.Attachment.ID)
	}
	if request.Active {
		state := int64(firebird.StateActive)
		if request.Stalled {
			state = firebird.StateStalled
		}
		w.PutInteger(firebird.FStmtState, state)
		if request.Transaction != nil {
			w.PutInteger(firebird.FStmtTraID, request.Transaction.ID)
		}
		w.PutTimestamp(firebird.FStmtTimestamp, request.Timestamp)
	} else {
		w.PutInteger(firebird.FStmtState, firebird.StateIdle)
	}
	if request.Statement.SQLText != "" {
		w.PutString(firebird.FStmtSQLText, m.systemToUTF8(request.Statement.SQLText))
	}
	w.PutGlobalID(firebird.FStmtStatID, m.globalID(statID))

	if err := w.EndRecord(); err != nil {
		return err
	}
	if err := m.putStatistics(w, &request.Stats, statID, firebird.StatGroupStatement); err != nil {
		return err
	}
	return m.putMemoryUsage(w, &request.Memory, statID, firebird.StatGroupStatement)
}

func (m *Monitor) putCall(w *dump.Writer, request *firebird.Request, statID int32) error {
	initial := request.Caller
	for initial.Caller != nil {
		initial = initial.Caller
	}

	w.BeginRecord(firebird.RelCalls)

	w.PutInteger(firebird.FCallID, request.ID)
	w.PutInteger(firebird.FCallStmtID, initial.ID)
	if initial != request.Caller {
		w.PutInteger(firebird.FCallCallerID, request.Caller.ID)
	}

	statement := request.Statement
	switch {
	case statement.Routine != nil:
		if statement.Routine.Package != "" {
			w.PutString(firebird.FCallPkgName, m.systemToUTF8(statement.Routine.Package))
		}
		w.PutString(firebird.FCallName, m.systemToUTF8(statement.Routine.Identifier))
		w.PutInteger(firebird.FCallType, int64(statement.Routine.ObjectType))
	case statement.TriggerName != "":
		w.PutString(firebird.FCallName, m.systemToUTF8(statement.TriggerName))
		w.PutInteger(firebird.FCallType, firebird.ObjTrigger)
	}

	w.PutTimestamp(firebird.FCallTimestamp, request.Timestamp)
	if request.SrcLine != 0 {
		w.PutInteger(firebird.FCallSrcLine, request.SrcLine)
		w.PutInteger(firebird.FCallSrcColumn, request.SrcColumn)
	}
	w.PutGlobalID(firebird.FCallStatID, m.globalID(statID))

	if err := w.EndRecord(); err != nil {
		return err
	}
	if err := m.putStatistics(w, &request.Stats, statID, firebird.StatGroupCall); err != nil {
		return err
	}
	return m.putMemoryUsage(w, &request.Memory, statID, firebird.StatGroupCall)
}

func (m *Monitor) putStatistics(w *dump.Writer, stats *firebird.RuntimeStatistics, statID int32, group int) error {
	id := m.globalID(statID)

	// physical I/O statistics
	w.BeginRecord(firebird.RelIOStats)
	w.PutGlobalID(firebird.FIOStatID, id)
	w.PutInteger(firebird.FIOStatGroup, int64(group))
	w.PutInteger(firebird.FIOPageReads, stats.Value(firebird.PageReads))
	w.PutInteger(firebird.FIOPageWrites, stats.Value(firebird.PageWrites))
	w.PutInteger(firebird.FIOPageFetches, stats.Value(firebird.PageFetches))
	w.PutInteger(firebird.FIOPageMarks, stats.Value(firebird.PageMarks))
	if err := w.EndRecord(); err != nil {
		return err
	}

	// logical I/O statistics
	w.BeginRecord(firebird.RelRecStats)
	w.PutGlobalID(firebird.FRecStatID, id)
	w.PutInteger(firebird.FRecStatGroup, int64(group))
	w.PutInteger(firebird.FRecSeqReads, stats.Value(firebird.RecordSeqReads))
	w.PutInteger(firebird.FRecIdxReads, stats.Value(firebird.RecordIdxReads))
	w.PutInteger(firebird.FRecInserts, stats.Value(firebird.RecordInserts))
	w.PutInteger(firebird.FRecUpdates, stats.Value(firebird.RecordUpdates))
	w.PutInteger(firebird.FRecDeletes, stats.Value(firebird.RecordDeletes))
	w.PutInteger(firebird.FRecBackouts, stats.Value(firebird.RecordBackouts))
	w.PutInteger(firebird.FRecPurges, stats.Value(firebird.RecordPurges))
	w.PutInteger(firebird.FRecExpunges, stats.Value(firebird.RecordExpunges))
	return w.EndRecord()
}

func (m *Monitor) putContextVars(w *dump.Writer, vars map[string]string, objectID int64, isAttachment bool) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		w.BeginRecord(firebird.RelCtxVars)

		if isAttachment {
			w.PutInteger(firebird.FCtxAttID, objectID)
		} else {
			w.PutInteger(firebird.FCtxTraID, objectID)
		}
		w.PutString(firebird.FCtxName, []byte(name))
		w.PutString(firebird.FCtxValue, []byte(vars[name]))

		if err := w.EndRecord(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) putMemoryUsage(w *dump.Writer, stats *firebird.MemoryStats, statID int32, group int) error {
	w.BeginRecord(firebird.RelMemUsage)
	w.PutGlobalID(firebird.FMemStatID, m.globalID(statID))
	w.PutInteger(firebird.FMemStatGroup, int64(group))
	w.PutInteger(firebird.FMemUsed, stats.CurrentUsage)
	w.PutInteger(firebird.FMemAllocated, stats.CurrentMapping)
	w.PutInteger(firebird.FMemMaxUsed, stats.MaxUsage)
	w.PutInteger(firebird.FMemMaxAllocated, stats.MaxMapping)
	return w.EndRecord()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
