// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package firebird

// RelationID identifies a virtual monitoring relation.
type RelationID uint16

// FieldID identifies a field within one relation's format.
type FieldID uint16

// Virtual monitoring relations, by numeric ID. The IDs belong to the engine's
// metadata and are consumed unchanged.
const (
	RelDatabase     RelationID = 33
	RelAttachments  RelationID = 34
	RelTransactions RelationID = 35
	RelStatements   RelationID = 36
	RelCalls        RelationID = 37
	RelIOStats      RelationID = 38
	RelRecStats     RelationID = 39
	RelCtxVars      RelationID = 40
	RelMemUsage     RelationID = 41
)

// Object states.
const (
	StateIdle    = 0
	StateActive  = 1
	StateStalled = 2
)

// Shutdown modes.
const (
	ShutModeOnline = 0
	ShutModeMulti  = 1
	ShutModeSingle = 2
	ShutModeFull   = 3
)

// Transaction isolation modes.
const (
	IsoModeConsistency = 0
	IsoModeConcurrency = 1
	IsoModeRCNoVersion = 2
	IsoModeRCVersion   = 3
)

// Physical backup states.
const (
	BackupStateUnknown = 0
	BackupStateNormal  = 1
	BackupStateStalled = 2
	BackupStateMerge   = 3
)

// Statistics group tags carried by I/O, record and memory-usage rows.
const (
	StatGroupDatabase    = 0
	StatGroupAttachment  = 1
	StatGroupTransaction = 2
	StatGroupStatement   = 3
	StatGroupCall        = 4
)

// Data dictionary object types, passed through as integers.
const (
	ObjTrigger   = 2
	ObjProcedure = 5
	ObjFunction  = 15
)

// Fields of RelDatabase. FDbName must stay first: the snapshot filter decides
// on it before materializing anything else from the record.
const (
	FDbName FieldID = iota
	FDbPageSize
	FDbOdsMajor
	FDbOdsMinor
	FDbOIT
	FDbOAT
	FDbOST
	FDbNextTransaction
	FDbPageBufs
	FDbDialect
	FDbShutMode
	FDbSweepInterval
	FDbReadOnly
	FDbForcedWrites
	FDbReserveSpace
	FDbCreated
	FDbPages
	FDbBackupState
	FDbStatID
)

// Fields of RelAttachments. FAttUser must stay first, same reason as FDbName.
const (
	FAttUser FieldID = iota
	FAttID
	FAttServerPID
	FAttState
	FAttName
	FAttRole
	FAttRemoteProtocol
	FAttRemoteAddress
	FAttRemotePID
	FAttRemoteProcess
	FAttCharsetID
	FAttTimestamp
	FAttGC
	FAttStatID
)

// Fields of RelTransactions.
const (
	FTraID FieldID = iota
	FTraAttID
	FTraState
	FTraTimestamp
	FTraTop
	FTraOIT
	FTraOAT
	FTraIsoMode
	FTraLockTimeout
	FTraReadOnly
	FTraAutoCommit
	FTraAutoUndo
	FTraStatID
)

// Fields of RelStatements.
const (
	FStmtID FieldID = iota
	FStmtAttID
	FStmtState
	FStmtTraID
	FStmtTimestamp
	FStmtSQLText
	FStmtStatID
)

// Fields of RelCalls.
const (
	FCallID FieldID = iota
	FCallStmtID
	FCallCallerID
	FCallPkgName
	FCallName
	FCallType
	FCallTimestamp
	FCallSrcLine
	FCallSrcColumn
	FCallStatID
)

// Fields of RelIOStats.
const (
	FIOStatID FieldID = iota
	FIOStatGroup
	FIOPageReads
	FIOPageWrites
	FIOPageFetches
	FIOPageMarks
)

// Fields of RelRecStats.
const (
	FRecStatID FieldID = iota
	FRecStatGroup
	FRecSeqReads
	FRecIdxReads
	FRecInserts
	FRecUpdates
	FRecDeletes
	FRecBackouts
	FRecPurges
	FRecExpunges
)

// Fields of RelCtxVars.
const (
	FCtxAttID FieldID = iota
	FCtxTraID
	FCtxName
	FCtxValue
)

// Fields of RelMemUsage.
const (
	FMemStatID FieldID = iota
	FMemStatGroup
	FMemUsed
	FMemAllocated
	FMemMaxUsed
	FMemMaxAllocated
)
