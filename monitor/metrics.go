// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package monitor

import "github.com/prometheus/client_golang/prometheus"

// Collectors for monitoring-subsystem metrics.
var (
	snapshotRoundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firebird_monitor_snapshot_rounds_total",
		Help: "Cumulative number of cross-process snapshot rounds driven.",
	})
	regionGrowthsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firebird_monitor_region_growths_total",
		Help: "Cumulative number of shared region growths.",
	})
	gcElementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firebird_monitor_gc_elements_total",
		Help: "Cumulative number of dead-process elements garbage collected.",
	})
	dumpBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firebird_monitor_dump_bytes_total",
		Help: "Cumulative number of dump bytes written into the region.",
	})
)

func init() {
	prometheus.MustRegister(
		snapshotRoundsTotal,
		regionGrowthsTotal,
		gcElementsTotal,
		dumpBytesTotal,
	)
}
