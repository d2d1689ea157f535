// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package firebird

import (
	"encoding/binary"
)

// FieldType is the storage class of one slot in a record image.
type FieldType uint8

const (
	// TypeInteger is an 8-byte signed slot.
	TypeInteger FieldType = iota + 1
	// TypeTimestamp is an 8-byte engine timestamp slot.
	TypeTimestamp
	// TypeText is a counted text slot: 2-byte length followed by up to
	// Length bytes of payload.
	TypeText
	// TypeBlob is an 8-byte blob identifier slot.
	TypeBlob
)

// CharSet tags the character set of a text slot.
type CharSet uint8

const (
	CharSetNone CharSet = iota
	CharSetASCII
	// CharSetMetadata is the engine's metadata charset (UTF-8 here).
	CharSetMetadata
)

// FieldDesc describes one field of a relation format.
type FieldDesc struct {
	ID      FieldID
	Type    FieldType
	Length  uint16 // payload capacity for TypeText, ignored otherwise
	CharSet CharSet
}

func (d FieldDesc) slotSize() int {
	switch d.Type {
	case TypeText:
		return 2 + int(d.Length)
	default:
		return 8
	}
}

// Format is the fixed row layout of one virtual relation: a null bitmap
// followed by one slot per field, at offsets computed at construction.
type Format struct {
	relation  RelationID
	fields    []FieldDesc
	offsets   []int
	nullBytes int
	length    int
}

// NewFormat computes slot offsets for the given field descriptors. Field IDs
// are expected to be dense, starting at zero, in descriptor order.
func NewFormat(relation RelationID, fields []FieldDesc) *Format {
	f := &Format{
		relation:  relation,
		fields:    fields,
		offsets:   make([]int, len(fields)),
		nullBytes: (len(fields) + 7) / 8,
	}
	off := f.nullBytes
	for i, d := range fields {
		f.offsets[i] = off
		off += d.slotSize()
	}
	f.length = off
	return f
}

// Relation returns the relation this format describes.
func (f *Format) Relation() RelationID { return f.relation }

// FieldCount returns the number of fields in the format.
func (f *Format) FieldCount() int { return len(f.fields) }

// Length returns the size of one record image, null bitmap included.
func (f *Format) Length() int { return f.length }

// Desc returns the descriptor and slot offset of the given field.
func (f *Format) Desc(id FieldID) (FieldDesc, int, bool) {
	if int(id) >= len(f.fields) {
		return FieldDesc{}, 0, false
	}
	return f.fields[id], f.offsets[id], true
}

// Record is one mutable row image laid out per a Format.
type Record struct {
	format *Format
	data   []byte
}

// NewRecord allocates a cleared record for the format.
func NewRecord(format *Format) *Record {
	r := &Record{format: format, data: make([]byte, format.Length())}
	r.Reset()
	return r
}

// Format returns the record's format.
func (r *Record) Format() *Format { return r.format }

// Data returns the raw record image.
func (r *Record) Data() []byte { return r.data }

// Reset zeroes the image and marks every field NULL.
func (r *Record) Reset() {
	for i := range r.data {
		r.data[i] = 0
	}
	for i := 0; i < r.format.nullBytes; i++ {
		r.data[i] = 0xFF
	}
}

// IsNull reports whether the field is NULL.
func (r *Record) IsNull(id FieldID) bool {
	return r.data[int(id)>>3]&(1<<(uint(id)&7)) != 0
}

func (r *Record) clearNull(id FieldID) {
	r.data[int(id)>>3] &^= 1 << (uint(id) & 7)
}

// SetInteger stores v into an integer or blob-id slot and clears its NULL bit.
func (r *Record) SetInteger(id FieldID, v int64) bool {
	d, off, ok := r.format.Desc(id)
	if !ok || (d.Type != TypeInteger && d.Type != TypeBlob) {
		return false
	}
	binary.LittleEndian.PutUint64(r.data[off:], uint64(v))
	r.clearNull(id)
	return true
}

// Integer reads an integer or blob-id slot.
func (r *Record) Integer(id FieldID) int64 {
	_, off, ok := r.format.Desc(id)
	if !ok {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(r.data[off:]))
}

// SetTimestamp stores ts into a timestamp slot and clears its NULL bit.
func (r *Record) SetTimestamp(id FieldID, ts Timestamp) bool {
	d, off, ok := r.format.Desc(id)
	if !ok || d.Type != TypeTimestamp {
		return false
	}
	binary.LittleEndian.PutUint64(r.data[off:], uint64(ts))
	r.clearNull(id)
	return true
}

// TimestampValue reads a timestamp slot.
func (r *Record) TimestampValue(id FieldID) Timestamp {
	_, off, ok := r.format.Desc(id)
	if !ok {
		return 0
	}
	return Timestamp(binary.LittleEndian.Uint64(r.data[off:]))
}

// SetText stores b into a text slot, truncating to the slot capacity, and
// clears the field's NULL bit.
func (r *Record) SetText(id FieldID, b []byte) bool {
	d, off, ok := r.format.Desc(id)
	if !ok || d.Type != TypeText {
		return false
	}
	if len(b) > int(d.Length) {
		b = b[:d.Length]
	}
	binary.LittleEndian.PutUint16(r.data[off:], uint16(len(b)))
	copy(r.data[off+2:], b)
	r.clearNull(id)
	return true
}

// Text reads a text slot.
func (r *Record) Text(id FieldID) []byte {
	d, off, ok := r.format.Desc(id)
	if !ok || d.Type != TypeText {
		return nil
	}
	n := binary.LittleEndian.Uint16(r.data[off:])
	if int(n) > int(d.Length) {
		n = d.Length
	}
	return r.data[off+2 : off+2+int(n)]
}

// RecordBuffer is an append-only buffer of record images sharing one format.
// Rows are stored back to back at a fixed stride.
type RecordBuffer struct {
	format *Format
	data   []byte
	count  uint64
}

// NewRecordBuffer returns an empty buffer for the format.
func NewRecordBuffer(format *Format) *RecordBuffer {
	return &RecordBuffer{format: format}
}

// Format returns the buffer's format.
func (b *RecordBuffer) Format() *Format { return b.format }

// Count returns the number of stored rows.
func (b *RecordBuffer) Count() uint64 { return b.count }

// Store appends a copy of the record image.
func (b *RecordBuffer) Store(r *Record) {
	b.data = append(b.data, r.data...)
	b.count++
}

// Fetch copies row position into out. It returns false past the end.
func (b *RecordBuffer) Fetch(position uint64, out *Record) bool {
	if position >= b.count {
		return false
	}
	stride := b.format.Length()
	off := int(position) * stride
	copy(out.data, b.data[off:off+stride])
	return true
}
