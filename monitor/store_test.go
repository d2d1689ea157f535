// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package monitor_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibprovider/firebird/errors"
	"github.com/ibprovider/firebird/monitor"
	"github.com/ibprovider/firebird/shmem"
)

// fakeLiveness reports pids as alive unless marked dead.
type fakeLiveness map[int32]bool

func (f fakeLiveness) ProcessAlive(pid int32) bool {
	alive, ok := f[pid]
	return !ok || alive
}

const headerUsed = 56 // aligned region header size

func openStore(t *testing.T, dir string, pid int32, live fakeLiveness) *monitor.Store {
	t.Helper()
	s, err := monitor.OpenStore(dir, "testdb", pid, 0, live, nil)
	require.NoError(t, err)
	return s
}

// publish appends a fresh element with the given payload under one lock
// window, the way the collector does.
func publish(t *testing.T, s *monitor.Store, payload []byte) {
	t.Helper()
	require.NoError(t, s.Acquire())
	defer s.Release()
	s.Cleanup()
	offset, err := s.Setup()
	require.NoError(t, err)
	if len(payload) > 0 {
		require.NoError(t, s.Write(offset, payload))
	}
}

func TestStore_SetupWriteCleanup(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, 1000, nil)

	require.NoError(t, s.Acquire())
	offset, err := s.Setup()
	require.NoError(t, err)
	assert.Equal(t, uint32(headerUsed), offset)
	assert.Equal(t, uint32(headerUsed+16), s.Region().Used()) // aligned element header

	payload := []byte("0123456789") // 10 bytes
	require.NoError(t, s.Write(offset, payload))
	// Element size grows from align(12) to align(12+10).
	assert.Equal(t, uint32(headerUsed+24), s.Region().Used())
	assert.True(t, s.Region().Used() <= s.Region().Allocated())
	assert.Equal(t, uint32(0), s.Region().Used()%8)

	s.Cleanup()
	assert.Equal(t, uint32(headerUsed), s.Region().Used())
	s.Release()

	// Last contributor teardown removes the backing file.
	path := s.Region().Path()
	require.NoError(t, s.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_ReadOwnPayloadFirst(t *testing.T) {
	dir := t.TempDir()
	live := fakeLiveness{}

	a := openStore(t, dir, 1000, live)
	b := openStore(t, dir, 2000, live)

	publish(t, a, []byte("AAAA"))
	publish(t, b, []byte("BBBBBBBB"))

	// Reader A sees its own payload first, then B's in store order.
	require.NoError(t, a.Acquire())
	data, err := a.Read()
	a.Release()
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAABBBBBBBB"), data)

	// Reader B sees the reverse.
	require.NoError(t, b.Acquire())
	data, err = b.Read()
	b.Release()
	require.NoError(t, err)
	assert.Equal(t, []byte("BBBBBBBBAAAA"), data)

	require.NoError(t, b.Close())
	require.NoError(t, a.Close())
}

func TestStore_ReadCollectsDeadProcesses(t *testing.T) {
	dir := t.TempDir()
	live := fakeLiveness{1500: false}

	a := openStore(t, dir, 1000, live)
	mid := openStore(t, dir, 1500, nil)
	c := openStore(t, dir, 2000, live)

	publish(t, a, []byte("AAAA"))
	publish(t, mid, bytes.Repeat([]byte("X"), 20))
	publish(t, c, []byte("CCCC"))

	require.NoError(t, a.Acquire())
	usedBefore := a.Region().Used()
	data, err := a.Read()
	usedAfter := a.Region().Used()
	a.Release()
	require.NoError(t, err)

	// The dead element vanished: its aligned size is align(12+20) = 32.
	assert.Equal(t, usedBefore-32, usedAfter)
	assert.Equal(t, []byte("AAAACCCC"), data)

	// Idempotent: a second read finds nothing more to collect.
	require.NoError(t, a.Acquire())
	data, err = a.Read()
	a.Release()
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAACCCC"), data)

	require.NoError(t, c.Close())
	require.NoError(t, a.Close())
	_ = mid // its element is already gone; Close would just unmap
	require.NoError(t, mid.Close())
}

func TestStore_ReadWithoutOwnElement(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, 1000, nil)

	require.NoError(t, s.Acquire())
	_, err := s.Read()
	s.Release()
	assert.True(t, errors.Is(err, errors.ErrBadDump))

	require.NoError(t, s.Close())
}

func TestStore_Growth(t *testing.T) {
	dir := t.TempDir()

	// B maps the region at its initial size before A grows it.
	a := openStore(t, dir, 1000, nil)
	b := openStore(t, dir, 2000, nil)
	assert.Equal(t, uint32(monitor.DefaultSize), b.Region().MappedLen())

	big := bytes.Repeat([]byte("p"), 10000)
	publish(t, a, big)

	require.NoError(t, a.Acquire())
	allocated := a.Region().Allocated()
	used := a.Region().Used()
	a.Release()

	assert.Equal(t, uint32(0), allocated%monitor.DefaultSize)
	assert.True(t, allocated >= used)
	assert.Equal(t, uint32(2*monitor.DefaultSize), allocated)

	// B re-maps on acquire and reads the payload intact.
	require.NoError(t, b.Acquire())
	assert.Equal(t, allocated, b.Region().MappedLen())
	_, err := b.Setup()
	require.NoError(t, err)
	data, err := b.Read()
	b.Release()
	require.NoError(t, err)
	assert.Equal(t, big, data) // B's own element is empty, then A's payload

	require.NoError(t, b.Close())
	require.NoError(t, a.Close())
}

func TestStore_EnsureSpaceMonotonic(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, 1000, nil)

	var sizes []uint32
	for i := 0; i < 4; i++ {
		publish(t, s, bytes.Repeat([]byte("z"), 6000*(i+1)))
		require.NoError(t, s.Acquire())
		sizes = append(sizes, s.Region().Allocated())
		s.Release()
	}
	for i := 1; i < len(sizes); i++ {
		assert.True(t, sizes[i] >= sizes[i-1])
		assert.Equal(t, uint32(0), sizes[i]%monitor.DefaultSize)
	}

	require.NoError(t, s.Close())
}

func TestWalkElements(t *testing.T) {
	dir := t.TempDir()

	a := openStore(t, dir, 1000, nil)
	b := openStore(t, dir, 2000, nil)
	publish(t, a, []byte("AA"))
	publish(t, b, []byte("BBBB"))

	raw, err := os.ReadFile(a.Region().Path())
	require.NoError(t, err)

	var pids []int32
	var payloads [][]byte
	err = monitor.WalkElements(raw, func(e monitor.Element) error {
		pids = append(pids, e.ProcessID)
		payloads = append(payloads, append([]byte(nil), e.Payload...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int32{1000, 2000}, pids)
	assert.Equal(t, [][]byte{[]byte("AA"), []byte("BBBB")}, payloads)

	_, err = shmem.ReadHeader(raw)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, a.Close())
}
