// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package monitor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/dump"
	"github.com/ibprovider/firebird/lockmgr"
	"github.com/ibprovider/firebird/monitor"
)

// decoded is one dump record flattened for assertions.
type decoded struct {
	relation firebird.RelationID
	fields   map[firebird.FieldID]dump.Field
	order    []firebird.FieldID
}

func decodeAll(t *testing.T, data []byte) []decoded {
	t.Helper()
	reader := dump.NewReader(data)
	var rec dump.Record
	var field dump.Field
	var out []decoded
	for {
		ok, err := reader.NextRecord(&rec)
		require.NoError(t, err)
		if !ok {
			return out
		}
		d := decoded{relation: rec.RelationID, fields: map[firebird.FieldID]dump.Field{}}
		for rec.NextField(&field) {
			f := field
			f.Data = append([]byte(nil), field.Data...)
			d.fields[f.ID] = f
			d.order = append(d.order, f.ID)
		}
		out = append(out, d)
	}
}

func relationSequence(records []decoded) []firebird.RelationID {
	seq := make([]firebird.RelationID, len(records))
	for i, r := range records {
		seq[i] = r.relation
	}
	return seq
}

// newTestDatabase builds the engine model of one process: one attachment
// with a transaction, context variables, a call chain and a mix of
// monitorable and internal requests.
func newTestDatabase(userName string) (*firebird.Database, *firebird.Attachment, *firebird.Transaction) {
	db := &firebird.Database{
		Name:        "employee.fdb",
		FileID:      "employee-file-id",
		PageSize:    4096,
		OdsMajor:    11,
		OdsMinor:    2,
		SharedCache: true,
		Dialect3:    true,
		BackupState: firebird.BackupStateNormal,
	}

	att := &firebird.Attachment{
		ID:          1,
		User:        &firebird.UserInfo{Name: userName, Role: "NONE"},
		FileName:    "employee.fdb",
		Charset:     firebird.CharSetMetadata,
		ContextVars: map[string]string{"b_var": "2", "a_var": "1"},
	}
	db.AddAttachment(att)

	tra := &firebird.Transaction{
		ID:          100,
		Attachment:  att,
		ContextVars: map[string]string{"t_var": "x"},
	}
	att.Transactions = []*firebird.Transaction{tra}

	root := &firebird.Request{
		ID:          200,
		Attachment:  att,
		Transaction: tra,
		Statement:   &firebird.Statement{SQLText: "execute procedure sp_outer"},
		Active:      true,
	}
	frame := &firebird.Request{
		ID:          201,
		Attachment:  att,
		Transaction: tra,
		Caller:      root,
		Statement: &firebird.Statement{
			Routine: &firebird.RoutineName{Identifier: "SP_INNER", ObjectType: firebird.ObjProcedure},
		},
		Active: true,
	}
	sysFrame := &firebird.Request{
		ID:          202,
		Attachment:  att,
		Transaction: tra,
		Caller:      frame,
		Statement:   &firebird.Statement{Flags: firebird.StmtSysTrigger, TriggerName: "RDB$TRG"},
	}
	tra.Requests = []*firebird.Request{sysFrame}

	internal := &firebird.Request{
		ID:         203,
		Attachment: att,
		Statement:  &firebird.Statement{Flags: firebird.StmtInternal},
	}
	att.Requests = []*firebird.Request{root, internal}

	return db, att, tra
}

func attachMonitor(t *testing.T, db *firebird.Database, dir string, pid int32,
	mgr firebird.LockManager, live firebird.Liveness, charset string) *monitor.Monitor {
	t.Helper()
	m, err := monitor.Attach(db, monitor.Config{
		Dir:           dir,
		ProcessID:     pid,
		LockManager:   mgr,
		Liveness:      live,
		SystemCharset: charset,
	})
	require.NoError(t, err)
	return m
}

func TestCollector_RecordSequence(t *testing.T) {
	db, _, _ := newTestDatabase("alice")
	m := attachMonitor(t, db, t.TempDir(), 1000, lockmgr.New(), nil, "")
	defer m.Detach()

	require.NoError(t, m.Publish())
	data, err := m.ReadData()
	require.NoError(t, err)

	records := decodeAll(t, data)
	assert.Equal(t, []firebird.RelationID{
		// database and its statistics
		firebird.RelDatabase, firebird.RelIOStats, firebird.RelRecStats, firebird.RelMemUsage,
		// attachment and its statistics
		firebird.RelAttachments, firebird.RelIOStats, firebird.RelRecStats, firebird.RelMemUsage,
		// attachment context variables, sorted by name
		firebird.RelCtxVars, firebird.RelCtxVars,
		// transaction, its statistics and its context variable
		firebird.RelTransactions, firebird.RelIOStats, firebird.RelRecStats, firebird.RelMemUsage,
		firebird.RelCtxVars,
		// one call frame (the system trigger and the chain root are not calls)
		firebird.RelCalls, firebird.RelIOStats, firebird.RelRecStats, firebird.RelMemUsage,
		// one top-level statement (the internal request is excluded)
		firebird.RelStatements, firebird.RelIOStats, firebird.RelRecStats, firebird.RelMemUsage,
	}, relationSequence(records))

	// Context variables are dumped in sorted name order.
	assert.Equal(t, []byte("a_var"), records[8].fields[firebird.FCtxName].Data)
	assert.Equal(t, []byte("b_var"), records[9].fields[firebird.FCtxName].Data)

	// The mandated field ordering: db_name and att_user lead their records.
	assert.Equal(t, firebird.FDbName, records[0].order[0])
	assert.Equal(t, firebird.FAttUser, records[4].order[0])

	// The call frame names its routine and resolves the chain root.
	call := records[15]
	require.Equal(t, firebird.RelCalls, call.relation)
	assert.Equal(t, []byte("SP_INNER"), call.fields[firebird.FCallName].Data)
	callID := call.fields[firebird.FCallID]
	assert.Equal(t, int64(201), callID.Integer())
	callStmtID := call.fields[firebird.FCallStmtID]
	assert.Equal(t, int64(200), callStmtID.Integer())
	// Its caller is the chain root, so no separate caller id is emitted.
	_, hasCaller := call.fields[firebird.FCallCallerID]
	assert.False(t, hasCaller)

	// The statement row carries the SQL text and the active state.
	stmt := records[19]
	require.Equal(t, firebird.RelStatements, stmt.relation)
	assert.Equal(t, []byte("execute procedure sp_outer"), stmt.fields[firebird.FStmtSQLText].Data)
	stmtState := stmt.fields[firebird.FStmtState]
	assert.Equal(t, int64(firebird.StateActive), stmtState.Integer())
	stmtTraID := stmt.fields[firebird.FStmtTraID]
	assert.Equal(t, int64(100), stmtTraID.Integer())
}

func TestCollector_GlobalIDs(t *testing.T) {
	db, _, _ := newTestDatabase("alice")
	m := attachMonitor(t, db, t.TempDir(), 3000, lockmgr.New(), nil, "")
	defer m.Detach()

	require.NoError(t, m.Publish())
	data, err := m.ReadData()
	require.NoError(t, err)

	for _, rec := range decodeAll(t, data) {
		for _, f := range rec.fields {
			if f.Type == dump.TypeGlobalID {
				assert.Equal(t, int64(3000), f.Integer()>>32)
				assert.NotZero(t, uint32(f.Integer()))
			}
		}
	}
}

func TestCollector_SkipsUserlessAttachment(t *testing.T) {
	db, att, _ := newTestDatabase("alice")
	att.User = nil

	m := attachMonitor(t, db, t.TempDir(), 1000, lockmgr.New(), nil, "")
	defer m.Detach()

	require.NoError(t, m.Publish())
	data, err := m.ReadData()
	require.NoError(t, err)

	// Only the database and its statistics remain.
	assert.Equal(t, []firebird.RelationID{
		firebird.RelDatabase, firebird.RelIOStats, firebird.RelRecStats, firebird.RelMemUsage,
	}, relationSequence(decodeAll(t, data)))
}

func TestCollector_Transliteration(t *testing.T) {
	db, _, _ := newTestDatabase("alice")
	db.Name = "caf\xe9.fdb" // windows-1252 é

	m := attachMonitor(t, db, t.TempDir(), 1000, lockmgr.New(), nil, "windows-1252")
	defer m.Detach()

	require.NoError(t, m.Publish())
	data, err := m.ReadData()
	require.NoError(t, err)

	records := decodeAll(t, data)
	require.Equal(t, firebird.RelDatabase, records[0].relation)
	assert.Equal(t, []byte("café.fdb"), records[0].fields[firebird.FDbName].Data)
}

func TestCollector_SystemAttachmentsFollowUserOnes(t *testing.T) {
	db, _, _ := newTestDatabase("alice")
	sysAtt := &firebird.Attachment{
		ID:   99,
		User: &firebird.UserInfo{Name: "SYSDBA"},
	}
	db.AddSystemAttachment(sysAtt)

	m := attachMonitor(t, db, t.TempDir(), 1000, lockmgr.New(), nil, "")
	defer m.Detach()

	require.NoError(t, m.Publish())
	data, err := m.ReadData()
	require.NoError(t, err)

	var attUsers [][]byte
	for _, rec := range decodeAll(t, data) {
		if rec.relation == firebird.RelAttachments {
			attUsers = append(attUsers, rec.fields[firebird.FAttUser].Data)
		}
	}
	assert.Equal(t, [][]byte{[]byte("alice"), []byte("SYSDBA")}, attUsers)
}
