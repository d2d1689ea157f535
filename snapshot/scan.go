// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package snapshot

import (
	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/errors"
	"github.com/ibprovider/firebird/monitor"
)

// TableScan is the executor's entry point into the virtual monitoring
// tables. Each call resolves the transaction's snapshot, assembling it on
// first touch.
type TableScan struct {
	monitor *monitor.Monitor
}

// NewTableScan returns a scan bound to this process's monitor registration.
func NewTableScan(m *monitor.Monitor) *TableScan {
	return &TableScan{monitor: m}
}

// GetFormat returns the row format the relation materializes with.
func (ts *TableScan) GetFormat(tra *firebird.Transaction, relation firebird.RelationID) (*firebird.Format, error) {
	s, err := For(tra, ts.monitor, nil)
	if err != nil {
		return nil, err
	}
	buffer := s.GetData(relation)
	if buffer == nil {
		return nil, errors.Errorf("relation %d is not a monitoring table", relation)
	}
	return buffer.Format(), nil
}

// RetrieveRecord copies row position of the relation into record. It returns
// false past the last row.
func (ts *TableScan) RetrieveRecord(tra *firebird.Transaction, relation firebird.RelationID,
	position uint64, record *firebird.Record) (bool, error) {

	s, err := For(tra, ts.monitor, nil)
	if err != nil {
		return false, err
	}
	buffer := s.GetData(relation)
	if buffer == nil {
		return false, errors.Errorf("relation %d is not a monitoring table", relation)
	}
	return buffer.Fetch(position, record), nil
}
