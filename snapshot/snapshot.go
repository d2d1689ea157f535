// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package snapshot assembles the per-transaction view of the monitoring
// data: it drives one cross-process refresh round, reads the compacted dump
// from shared memory, filters it down to what the requesting attachment may
// see and materializes the surviving rows into per-relation record buffers.
// The snapshot lives as long as the owning transaction.
package snapshot

import (
	"bytes"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/dump"
	"github.com/ibprovider/firebird/errors"
	"github.com/ibprovider/firebird/monitor"
)

type relationData struct {
	id     firebird.RelationID
	buffer *firebird.RecordBuffer
	temp   *firebird.Record
}

// Snapshot is a single-use assembly owned by one transaction.
type Snapshot struct {
	relations []relationData
	idMap     map[int64]int32
	idCounter int32
}

// For returns the transaction's cached snapshot, assembling one on first
// use so that repeated scans within the transaction observe the same data.
// current is the request materializing the snapshot; it may be nil.
func For(tra *firebird.Transaction, m *monitor.Monitor, current *firebird.Request) (*Snapshot, error) {
	if s, ok := tra.SnapshotSlot.(*Snapshot); ok && s != nil {
		return s, nil
	}
	s, err := New(tra, m, current)
	if err != nil {
		return nil, err
	}
	tra.SnapshotSlot = s
	return s, nil
}

// New assembles a snapshot: refresh the database header, allocate row
// buffers, publish fresh local data, force every peer to do the same, read
// the store and filter the dump into the buffers. On error the partially
// populated buffers are discarded with the snapshot.
func New(tra *firebird.Transaction, m *monitor.Monitor, current *firebird.Request) (*Snapshot, error) {
	att := tra.Attachment
	if att == nil || att.User == nil {
		return nil, errors.Errorf("transaction %d has no authenticated attachment", tra.ID)
	}
	db := m.Database()

	if db.RefreshHeader != nil {
		if err := db.RefreshHeader(); err != nil {
			return nil, err
		}
	}

	s := &Snapshot{idMap: make(map[int64]int32)}
	for _, rel := range firebird.MonRelations() {
		format := firebird.MonFormat(rel)
		s.relations = append(s.relations, relationData{
			id:     rel,
			buffer: firebird.NewRecordBuffer(format),
			temp:   firebird.NewRecord(format),
		})
	}

	if err := m.SnapshotRound(); err != nil {
		return nil, err
	}

	data, err := m.ReadData()
	if err != nil {
		return nil, err
	}

	if err := s.parse(data, m, tra, att, current); err != nil {
		return nil, err
	}
	return s, nil
}

// GetData returns the materialized row buffer of a relation, or nil for an
// unknown relation ID.
func (s *Snapshot) GetData(relation firebird.RelationID) *firebird.RecordBuffer {
	for i := range s.relations {
		if s.relations[i].id == relation {
			return s.relations[i].buffer
		}
	}
	return nil
}

func (s *Snapshot) relation(id firebird.RelationID) *relationData {
	for i := range s.relations {
		if s.relations[i].id == id {
			return &s.relations[i]
		}
	}
	return nil
}

// parse runs the row filter over the raw dump. A rel_database record is
// accepted once, iff its name matches the requesting database; an attachment
// record is accepted iff its database was and the requesting user may see it
// (locksmith, or the attachment's own user). The statistics and memory rows
// that directly follow the accepted database record are accepted with it;
// everything else requires an accepted database and attachment earlier in
// the stream.
func (s *Snapshot) parse(data []byte, m *monitor.Monitor, tra *firebird.Transaction,
	att *firebird.Attachment, current *firebird.Request) error {

	databaseName := m.SystemToUTF8(m.Database().Name)
	userName := []byte(att.User.Name)
	locksmith := att.User.Locksmith

	reader := dump.NewReader(data)

	var record dump.Record
	var field dump.Field

	dbProcessed, fieldsProcessed := false, false
	dbAllowed, attAllowed := false, false

	for {
		ok, err := reader.NextRecord(&record)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		rel := s.relation(record.RelationID)
		if rel == nil {
			return errors.Newf(errors.ErrBadDump, "unknown relation id %d in dump", record.RelationID)
		}
		rel.temp.Reset()

		for record.NextField(&field) {
			switch record.RelationID {
			case firebird.RelDatabase:
				if field.ID == firebird.FDbName {
					dbAllowed = bytes.Equal(field.Data, databaseName)
				}
				if dbAllowed && !dbProcessed {
					if err := s.putField(rel.temp, &field, att, tra, current); err != nil {
						return err
					}
					fieldsProcessed = true
				}
				attAllowed = dbAllowed && !dbProcessed

			case firebird.RelAttachments:
				if field.ID == firebird.FAttUser {
					attAllowed = locksmith || bytes.Equal(field.Data, userName)
				}
				if dbAllowed && attAllowed {
					if err := s.putField(rel.temp, &field, att, tra, current); err != nil {
						return err
					}
					fieldsProcessed = true
					dbProcessed = true
				}

			default:
				if dbAllowed && attAllowed {
					if err := s.putField(rel.temp, &field, att, tra, current); err != nil {
						return err
					}
					fieldsProcessed = true
					dbProcessed = true
				}
			}
		}

		if fieldsProcessed {
			rel.buffer.Store(rel.temp)
			fieldsProcessed = false
		}
	}
	return nil
}

// putField materializes one dump field into the record image per the
// relation format, collapsing global IDs and applying charset coercion.
func (s *Snapshot) putField(record *firebird.Record, field *dump.Field,
	att *firebird.Attachment, tra *firebird.Transaction, current *firebird.Request) error {

	desc, _, ok := record.Format().Desc(field.ID)
	if !ok {
		// A field the format does not know is skipped, not an error:
		// it may belong to a newer engine on a peer process.
		return nil
	}

	switch field.Type {
	case dump.TypeGlobalID:
		// Translate the 64-bit global ID into a 32-bit local one,
		// stable for the life of this snapshot.
		global := field.Integer()
		local, ok := s.idMap[global]
		if !ok {
			s.idCounter++
			local = s.idCounter
			s.idMap[global] = local
		}
		record.SetInteger(field.ID, int64(local))

	case dump.TypeInteger:
		record.SetInteger(field.ID, field.Integer())

	case dump.TypeTimestamp:
		record.SetTimestamp(field.ID, field.Timestamp())

	case dump.TypeString:
		data := field.Data

		if att.Charset == firebird.CharSetNone && desc.CharSet == firebird.CharSetMetadata {
			// A NONE-charset attachment cannot read non-ASCII
			// bytes out of a metadata column; substitute question
			// marks.
			coerced := make([]byte, len(data))
			for i, c := range data {
				if c > 0x7F {
					c = '?'
				}
				coerced[i] = c
			}
			data = coerced
		}

		if desc.Type == firebird.TypeBlob {
			// The blob must outlive the current request: detach it
			// and hand it to the snapshot-owning transaction.
			payload := append([]byte(nil), data...)
			var blob *firebird.Blob
			if current != nil {
				blob = current.NewTempBlob(payload)
				tra.AdoptBlob(current, blob)
			} else {
				blob = tra.NewBlob(payload)
			}
			record.SetInteger(field.ID, blob.ID)
		} else {
			record.SetText(field.ID, data)
		}

	default:
		return errors.Newf(errors.ErrBadDump, "unknown value type %d in dump", field.Type)
	}
	return nil
}
