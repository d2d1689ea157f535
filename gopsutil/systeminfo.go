// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package gopsutil implements the engine's process-liveness oracle using
// gopsutil to ask the host OS.
package gopsutil

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ibprovider/firebird"
)

var _ firebird.Liveness = NewSystemInfo()

// SystemInfo answers liveness questions about peer server processes.
type SystemInfo struct{}

// NewSystemInfo returns a host-backed liveness oracle.
func NewSystemInfo() *SystemInfo {
	return &SystemInfo{}
}

// ProcessAlive reports whether a process with the given pid exists. Errors
// from the host are treated as "alive": a contribution is only reclaimed on
// positive evidence that its owner is gone.
func (s *SystemInfo) ProcessAlive(pid int32) bool {
	exists, err := process.PidExists(pid)
	if err != nil {
		return true
	}
	return exists
}
