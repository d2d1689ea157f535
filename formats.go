// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package firebird

// Formats of the virtual monitoring relations. Owned by the engine's metadata
// system in a full server; fixed here and consumed unchanged by the snapshot
// assembler.

const (
	maxIdentifierLen = 252
	maxPathLen       = 1020
	maxCtxValueLen   = 1020
)

var monFormats = map[RelationID]*Format{
	RelDatabase: NewFormat(RelDatabase, []FieldDesc{
		{ID: FDbName, Type: TypeText, Length: maxPathLen, CharSet: CharSetMetadata},
		{ID: FDbPageSize, Type: TypeInteger},
		{ID: FDbOdsMajor, Type: TypeInteger},
		{ID: FDbOdsMinor, Type: TypeInteger},
		{ID: FDbOIT, Type: TypeInteger},
		{ID: FDbOAT, Type: TypeInteger},
		{ID: FDbOST, Type: TypeInteger},
		{ID: FDbNextTransaction, Type: TypeInteger},
		{ID: FDbPageBufs, Type: TypeInteger},
		{ID: FDbDialect, Type: TypeInteger},
		{ID: FDbShutMode, Type: TypeInteger},
		{ID: FDbSweepInterval, Type: TypeInteger},
		{ID: FDbReadOnly, Type: TypeInteger},
		{ID: FDbForcedWrites, Type: TypeInteger},
		{ID: FDbReserveSpace, Type: TypeInteger},
		{ID: FDbCreated, Type: TypeTimestamp},
		{ID: FDbPages, Type: TypeInteger},
		{ID: FDbBackupState, Type: TypeInteger},
		{ID: FDbStatID, Type: TypeInteger},
	}),
	RelAttachments: NewFormat(RelAttachments, []FieldDesc{
		{ID: FAttUser, Type: TypeText, Length: maxIdentifierLen, CharSet: CharSetMetadata},
		{ID: FAttID, Type: TypeInteger},
		{ID: FAttServerPID, Type: TypeInteger},
		{ID: FAttState, Type: TypeInteger},
		{ID: FAttName, Type: TypeText, Length: maxPathLen, CharSet: CharSetMetadata},
		{ID: FAttRole, Type: TypeText, Length: maxIdentifierLen, CharSet: CharSetMetadata},
		{ID: FAttRemoteProtocol, Type: TypeText, Length: maxIdentifierLen, CharSet: CharSetASCII},
		{ID: FAttRemoteAddress, Type: TypeText, Length: maxIdentifierLen, CharSet: CharSetASCII},
		{ID: FAttRemotePID, Type: TypeInteger},
		{ID: FAttRemoteProcess, Type: TypeText, Length: maxPathLen, CharSet: CharSetMetadata},
		{ID: FAttCharsetID, Type: TypeInteger},
		{ID: FAttTimestamp, Type: TypeTimestamp},
		{ID: FAttGC, Type: TypeInteger},
		{ID: FAttStatID, Type: TypeInteger},
	}),
	RelTransactions: NewFormat(RelTransactions, []FieldDesc{
		{ID: FTraID, Type: TypeInteger},
		{ID: FTraAttID, Type: TypeInteger},
		{ID: FTraState, Type: TypeInteger},
		{ID: FTraTimestamp, Type: TypeTimestamp},
		{ID: FTraTop, Type: TypeInteger},
		{ID: FTraOIT, Type: TypeInteger},
		{ID: FTraOAT, Type: TypeInteger},
		{ID: FTraIsoMode, Type: TypeInteger},
		{ID: FTraLockTimeout, Type: TypeInteger},
		{ID: FTraReadOnly, Type: TypeInteger},
		{ID: FTraAutoCommit, Type: TypeInteger},
		{ID: FTraAutoUndo, Type: TypeInteger},
		{ID: FTraStatID, Type: TypeInteger},
	}),
	RelStatements: NewFormat(RelStatements, []FieldDesc{
		{ID: FStmtID, Type: TypeInteger},
		{ID: FStmtAttID, Type: TypeInteger},
		{ID: FStmtState, Type: TypeInteger},
		{ID: FStmtTraID, Type: TypeInteger},
		{ID: FStmtTimestamp, Type: TypeTimestamp},
		{ID: FStmtSQLText, Type: TypeBlob, CharSet: CharSetMetadata},
		{ID: FStmtStatID, Type: TypeInteger},
	}),
	RelCalls: NewFormat(RelCalls, []FieldDesc{
		{ID: FCallID, Type: TypeInteger},
		{ID: FCallStmtID, Type: TypeInteger},
		{ID: FCallCallerID, Type: TypeInteger},
		{ID: FCallPkgName, Type: TypeText, Length: maxIdentifierLen, CharSet: CharSetMetadata},
		{ID: FCallName, Type: TypeText, Length: maxIdentifierLen, CharSet: CharSetMetadata},
		{ID: FCallType, Type: TypeInteger},
		{ID: FCallTimestamp, Type: TypeTimestamp},
		{ID: FCallSrcLine, Type: TypeInteger},
		{ID: FCallSrcColumn, Type: TypeInteger},
		{ID: FCallStatID, Type: TypeInteger},
	}),
	RelIOStats: NewFormat(RelIOStats, []FieldDesc{
		{ID: FIOStatID, Type: TypeInteger},
		{ID: FIOStatGroup, Type: TypeInteger},
		{ID: FIOPageReads, Type: TypeInteger},
		{ID: FIOPageWrites, Type: TypeInteger},
		{ID: FIOPageFetches, Type: TypeInteger},
		{ID: FIOPageMarks, Type: TypeInteger},
	}),
	RelRecStats: NewFormat(RelRecStats, []FieldDesc{
		{ID: FRecStatID, Type: TypeInteger},
		{ID: FRecStatGroup, Type: TypeInteger},
		{ID: FRecSeqReads, Type: TypeInteger},
		{ID: FRecIdxReads, Type: TypeInteger},
		{ID: FRecInserts, Type: TypeInteger},
		{ID: FRecUpdates, Type: TypeInteger},
		{ID: FRecDeletes, Type: TypeInteger},
		{ID: FRecBackouts, Type: TypeInteger},
		{ID: FRecPurges, Type: TypeInteger},
		{ID: FRecExpunges, Type: TypeInteger},
	}),
	RelCtxVars: NewFormat(RelCtxVars, []FieldDesc{
		{ID: FCtxAttID, Type: TypeInteger},
		{ID: FCtxTraID, Type: TypeInteger},
		{ID: FCtxName, Type: TypeText, Length: maxIdentifierLen, CharSet: CharSetMetadata},
		{ID: FCtxValue, Type: TypeText, Length: maxCtxValueLen, CharSet: CharSetMetadata},
	}),
	RelMemUsage: NewFormat(RelMemUsage, []FieldDesc{
		{ID: FMemStatID, Type: TypeInteger},
		{ID: FMemStatGroup, Type: TypeInteger},
		{ID: FMemUsed, Type: TypeInteger},
		{ID: FMemAllocated, Type: TypeInteger},
		{ID: FMemMaxUsed, Type: TypeInteger},
		{ID: FMemMaxAllocated, Type: TypeInteger},
	}),
}

// MonFormat returns the row format of a virtual monitoring relation, or nil
// for an unknown relation ID.
func MonFormat(relation RelationID) *Format {
	return monFormats[relation]
}

// MonRelations lists the virtual monitoring relations in materialization
// order.
func MonRelations() []RelationID {
	return []RelationID{
		RelDatabase, RelAttachments, RelTransactions, RelStatements,
		RelCalls, RelIOStats, RelRecStats, RelCtxVars, RelMemUsage,
	}
}
