// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package dump implements the self-describing binary record/field stream
// that carries monitoring rows through shared memory. A record is a relation
// ID followed by typed field blocks and an end marker; records concatenate
// without separators. The store pads elements to its alignment with zero
// bytes, so the reader skips zeros between records but fails loudly on a
// record cut short.
package dump

import (
	"encoding/binary"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/errors"
)

// Stream markers. Zero is reserved: it is what alignment padding looks like.
const (
	tagRecord = 0x01
	tagField  = 0x02
	tagEnd    = 0x03
)

// Value type tags.
const (
	// TypeInteger is an 8-byte signed integer.
	TypeInteger uint8 = iota + 1
	// TypeTimestamp is the engine's 8-byte timestamp layout.
	TypeTimestamp
	// TypeString is UTF-8 bytes with no terminator.
	TypeString
	// TypeGlobalID is an 8-byte signed composite (pid<<32)|local_counter.
	TypeGlobalID
)

// Record is one decoded logical row: a relation ID plus access to its field
// blocks.
type Record struct {
	RelationID firebird.RelationID

	buf []byte // field blocks and end marker
	pos int
}

// Field is one decoded field block.
type Field struct {
	ID   firebird.FieldID
	Type uint8
	Data []byte
}

// Integer interprets an integer or global-ID payload.
func (f *Field) Integer() int64 {
	return int64(binary.LittleEndian.Uint64(f.Data))
}

// Timestamp interprets a timestamp payload.
func (f *Field) Timestamp() firebird.Timestamp {
	return firebird.Timestamp(binary.LittleEndian.Uint64(f.Data))
}

// Writer encodes records into an underlying sink. Each complete record is
// handed to the sink as one contiguous byte block.
type Writer struct {
	sink    func([]byte) error
	scratch []byte
}

// NewWriter returns a Writer flushing complete records through sink.
func NewWriter(sink func([]byte) error) *Writer {
	return &Writer{sink: sink}
}

// BeginRecord starts a record for the relation.
func (w *Writer) BeginRecord(relation firebird.RelationID) {
	w.scratch = w.scratch[:0]
	w.scratch = append(w.scratch, tagRecord)
	w.scratch = binary.LittleEndian.AppendUint16(w.scratch, uint16(relation))
}

func (w *Writer) appendField(id firebird.FieldID, typ uint8, payload []byte) {
	w.scratch = append(w.scratch, tagField)
	w.scratch = binary.LittleEndian.AppendUint16(w.scratch, uint16(id))
	w.scratch = append(w.scratch, typ)
	w.scratch = binary.LittleEndian.AppendUint16(w.scratch, uint16(len(payload)))
	w.scratch = append(w.scratch, payload...)
}

// PutInteger appends an integer field.
func (w *Writer) PutInteger(id firebird.FieldID, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.appendField(id, TypeInteger, b[:])
}

// PutTimestamp appends a timestamp field.
func (w *Writer) PutTimestamp(id firebird.FieldID, ts firebird.Timestamp) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(ts))
	w.appendField(id, TypeTimestamp, b[:])
}

// PutString appends a string field. The caller passes UTF-8.
func (w *Writer) PutString(id firebird.FieldID, s []byte) {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	w.appendField(id, TypeString, s)
}

// PutGlobalID appends a global-ID field.
func (w *Writer) PutGlobalID(id firebird.FieldID, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.appendField(id, TypeGlobalID, b[:])
}

// EndRecord terminates the record and flushes it to the sink.
func (w *Writer) EndRecord() error {
	w.scratch = append(w.scratch, tagEnd)
	return w.sink(w.scratch)
}

// Reader decodes a dump buffer lazily, one record and one field at a time.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// NextRecord positions out at the next record. It returns false when the
// buffer is exhausted and an error on a malformed stream.
func (r *Reader) NextRecord(out *Record) (bool, error) {
	// Skip alignment padding between records.
	for r.pos < len(r.buf) && r.buf[r.pos] == 0 {
		r.pos++
	}
	if r.pos >= len(r.buf) {
		return false, nil
	}
	if r.buf[r.pos] != tagRecord {
		return false, errors.Newf(errors.ErrBadDump,
			"unexpected byte 0x%02x at offset %d, record marker expected", r.buf[r.pos], r.pos)
	}
	if r.pos+3 > len(r.buf) {
		return false, errors.New(errors.ErrBadDump, "truncated record header")
	}
	out.RelationID = firebird.RelationID(binary.LittleEndian.Uint16(r.buf[r.pos+1:]))
	r.pos += 3

	// The record's field blocks run until the end marker; hand the
	// remainder to the record and let NextField advance it, then adopt
	// its final position.
	out.buf = r.buf
	out.pos = r.pos

	// Pre-scan to find the end marker so a truncated record fails here,
	// not halfway through field iteration.
	end, err := scanRecord(r.buf, r.pos)
	if err != nil {
		return false, err
	}
	r.pos = end
	return true, nil
}

// scanRecord walks field blocks from pos and returns the offset just past the
// record's end marker.
func scanRecord(buf []byte, pos int) (int, error) {
	for {
		if pos >= len(buf) {
			return 0, errors.New(errors.ErrBadDump, "record not terminated")
		}
		switch buf[pos] {
		case tagEnd:
			return pos + 1, nil
		case tagField:
			if pos+6 > len(buf) {
				return 0, errors.New(errors.ErrBadDump, "truncated field header")
			}
			length := int(binary.LittleEndian.Uint16(buf[pos+4:]))
			pos += 6 + length
			if pos > len(buf) {
				return 0, errors.New(errors.ErrBadDump, "truncated field payload")
			}
		default:
			return 0, errors.Newf(errors.ErrBadDump,
				"unexpected byte 0x%02x at offset %d inside record", buf[pos], pos)
		}
	}
}

// NextField positions out at the record's next field. It returns false at
// the end-of-record marker. The stream was validated by NextRecord, so no
// errors remain here; Data aliases the dump buffer.
func (rec *Record) NextField(out *Field) bool {
	if rec.buf[rec.pos] == tagEnd {
		return false
	}
	out.ID = firebird.FieldID(binary.LittleEndian.Uint16(rec.buf[rec.pos+1:]))
	out.Type = rec.buf[rec.pos+3]
	length := int(binary.LittleEndian.Uint16(rec.buf[rec.pos+4:]))
	out.Data = rec.buf[rec.pos+6 : rec.pos+6+length]
	rec.pos += 6 + length
	return true
}
