// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package firebird holds the engine-facing data model consumed by the
// database monitoring subsystem: databases, attachments, transactions and
// requests, the virtual-relation formats and record buffers that monitoring
// rows are materialized into, runtime and memory statistics, and the narrow
// interfaces (lock manager, process liveness) the subsystem expects the
// surrounding engine to provide.
//
// The monitoring machinery itself lives in the subpackages: shmem maps the
// per-database shared region, monitor owns the append-only store, the
// cross-process coordination lock and the collector, dump implements the
// self-describing record codec, and snapshot assembles the filtered
// per-transaction view served to the virtual monitoring tables.
package firebird
