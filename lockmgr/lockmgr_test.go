// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package lockmgr_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibprovider/firebird"
	"github.com/ibprovider/firebird/errors"
	"github.com/ibprovider/firebird/lockmgr"
)

func TestSharedHoldersCoexist(t *testing.T) {
	mgr := lockmgr.New()

	h1, err := mgr.Acquire("db1", firebird.LockShared, true, nil)
	require.NoError(t, err)
	h2, err := mgr.Acquire("db1", firebird.LockShared, true, nil)
	require.NoError(t, err)

	mgr.Release(h1)
	mgr.Release(h2)
	// Releasing twice is a no-op.
	mgr.Release(h2)
}

func TestExclusiveFiresASTsAndWaits(t *testing.T) {
	mgr := lockmgr.New()

	var mu sync.Mutex
	var fired []string
	handles := map[string]firebird.LockHandle{}

	for _, name := range []string{"p1", "p2"} {
		name := name
		h, err := mgr.Acquire("db1", firebird.LockShared, true, func() {
			mu.Lock()
			fired = append(fired, name)
			h := handles[name]
			mu.Unlock()
			mgr.Release(h)
		})
		require.NoError(t, err)
		mu.Lock()
		handles[name] = h
		mu.Unlock()
	}

	ex, err := mgr.Acquire("db1", firebird.LockExclusive, true, nil)
	require.NoError(t, err)
	mgr.Release(ex)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"p1", "p2"}, fired)
}

func TestExclusiveNoWaitFails(t *testing.T) {
	mgr := lockmgr.New()

	h, err := mgr.Acquire("db1", firebird.LockShared, true, nil)
	require.NoError(t, err)

	_, err = mgr.Acquire("db1", firebird.LockExclusive, false, nil)
	assert.True(t, errors.Is(err, errors.ErrLockTimeout))

	mgr.Release(h)

	ex, err := mgr.Acquire("db1", firebird.LockExclusive, false, nil)
	require.NoError(t, err)
	mgr.Release(ex)
}

func TestSharedWaitsForExclusive(t *testing.T) {
	mgr := lockmgr.New()

	ex, err := mgr.Acquire("db1", firebird.LockExclusive, true, nil)
	require.NoError(t, err)

	_, err = mgr.Acquire("db1", firebird.LockShared, false, nil)
	assert.True(t, errors.Is(err, errors.ErrLockTimeout))

	granted := make(chan firebird.LockHandle)
	go func() {
		h, err := mgr.Acquire("db1", firebird.LockShared, true, nil)
		assert.NoError(t, err)
		granted <- h
	}()

	select {
	case <-granted:
		t.Fatal("shared lock granted while exclusive held")
	case <-time.After(50 * time.Millisecond):
	}

	mgr.Release(ex)
	h := <-granted
	mgr.Release(h)
}

func TestIndependentLockNames(t *testing.T) {
	mgr := lockmgr.New()

	h1, err := mgr.Acquire("db1", firebird.LockShared, true, nil)
	require.NoError(t, err)

	// A different name is a different lock: exclusive grants immediately.
	ex, err := mgr.Acquire("db2", firebird.LockExclusive, false, nil)
	require.NoError(t, err)

	mgr.Release(ex)
	mgr.Release(h1)
}
