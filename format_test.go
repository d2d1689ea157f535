// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package firebird

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_Layout(t *testing.T) {
	f := NewFormat(RelCtxVars, []FieldDesc{
		{ID: 0, Type: TypeInteger},
		{ID: 1, Type: TypeTimestamp},
		{ID: 2, Type: TypeText, Length: 16, CharSet: CharSetMetadata},
		{ID: 3, Type: TypeBlob},
	})

	// 1 null byte, 8 + 8 + (2+16) + 8 slot bytes.
	assert.Equal(t, 43, f.Length())
	assert.Equal(t, 4, f.FieldCount())

	d, off, ok := f.Desc(2)
	require.True(t, ok)
	assert.Equal(t, TypeText, d.Type)
	assert.Equal(t, 17, off)

	_, _, ok = f.Desc(4)
	assert.False(t, ok)
}

func TestRecord_NullBitmap(t *testing.T) {
	f := MonFormat(RelMemUsage)
	r := NewRecord(f)

	for id := FieldID(0); int(id) < f.FieldCount(); id++ {
		assert.True(t, r.IsNull(id))
	}

	require.True(t, r.SetInteger(FMemUsed, 42))
	assert.False(t, r.IsNull(FMemUsed))
	assert.True(t, r.IsNull(FMemAllocated))
	assert.Equal(t, int64(42), r.Integer(FMemUsed))

	r.Reset()
	assert.True(t, r.IsNull(FMemUsed))
	assert.Equal(t, int64(0), r.Integer(FMemUsed))
}

func TestRecord_TextTruncation(t *testing.T) {
	f := NewFormat(RelCtxVars, []FieldDesc{
		{ID: 0, Type: TypeText, Length: 4, CharSet: CharSetMetadata},
	})
	r := NewRecord(f)

	require.True(t, r.SetText(0, []byte("abcdef")))
	assert.Equal(t, []byte("abcd"), r.Text(0))

	require.True(t, r.SetText(0, []byte("xy")))
	assert.Equal(t, []byte("xy"), r.Text(0))
}

func TestRecord_TypeMismatch(t *testing.T) {
	r := NewRecord(MonFormat(RelCtxVars))

	// FCtxAttID is an integer slot.
	assert.False(t, r.SetText(FCtxAttID, []byte("nope")))
	assert.True(t, r.IsNull(FCtxAttID))
	assert.False(t, r.SetTimestamp(FCtxName, 1))
}

func TestRecordBuffer_StoreFetch(t *testing.T) {
	f := MonFormat(RelIOStats)
	buffer := NewRecordBuffer(f)

	for i := int64(0); i < 3; i++ {
		r := NewRecord(f)
		require.True(t, r.SetInteger(FIOPageReads, i*10))
		buffer.Store(r)
	}
	assert.Equal(t, uint64(3), buffer.Count())

	out := NewRecord(f)
	for i := uint64(0); i < 3; i++ {
		require.True(t, buffer.Fetch(i, out))
		assert.Equal(t, int64(i*10), out.Integer(FIOPageReads))
	}
	assert.False(t, buffer.Fetch(3, out))
}

func TestTransaction_IsoMode(t *testing.T) {
	assert.Equal(t, IsoModeConsistency, (&Transaction{Degree3: true}).IsoMode())
	assert.Equal(t, IsoModeConcurrency, (&Transaction{}).IsoMode())
	assert.Equal(t, IsoModeRCNoVersion, (&Transaction{ReadCommitted: true}).IsoMode())
	assert.Equal(t, IsoModeRCVersion, (&Transaction{ReadCommitted: true, RecVersion: true}).IsoMode())
}

func TestBlob_Reparenting(t *testing.T) {
	tra := &Transaction{ID: 1}
	req := &Request{ID: 7, Transaction: tra}

	blob := req.NewTempBlob([]byte("select 1"))
	require.True(t, req.OwnsBlob(blob.ID))

	tra.AdoptBlob(req, blob)
	assert.False(t, req.OwnsBlob(blob.ID))
	assert.Equal(t, blob, tra.Blob(blob.ID))
	assert.Equal(t, []byte("select 1"), tra.Blob(blob.ID).Data)
}

func TestRequest_AdjustCallerStats(t *testing.T) {
	caller := &Request{ID: 1}
	callee := &Request{ID: 2, Caller: caller}

	callee.Stats.Bump(PageReads, 5)
	callee.AdjustCallerStats()
	assert.Equal(t, int64(5), caller.Stats.Value(PageReads))

	// A second adjustment folds only the delta.
	callee.Stats.Bump(PageReads, 2)
	callee.AdjustCallerStats()
	assert.Equal(t, int64(7), caller.Stats.Value(PageReads))

	callee.AdjustCallerStats()
	assert.Equal(t, int64(7), caller.Stats.Value(PageReads))
}
