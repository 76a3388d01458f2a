package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withFakeSyscalls lets the registry tests run without real
// pidfd_open/pidfd_getfd syscalls, mirroring how the teacher's tracer
// tests swap the real netlink calls for fakes (pkg/ifaces/poller_test.go).
func withFakeSyscalls(t *testing.T, openErr, getFDErr error) func() {
	t.Helper()
	origOpen, origGetFD := pidfdOpen, pidfdGetFD
	nextFD := 100
	pidfdOpen = func(pid int32, nonblock bool) (int, error) {
		if openErr != nil {
			return 0, openErr
		}
		nextFD++
		return nextFD, nil
	}
	pidfdGetFD = func(pidFD, targetFD int) (int, error) {
		if getFDErr != nil {
			return 0, getFDErr
		}
		nextFD++
		return nextFD, nil
	}
	return func() {
		pidfdOpen, pidfdGetFD = origOpen, origGetFD
	}
}

func TestRegistryInsertAssignsMonotonicIDs(t *testing.T) {
	defer withFakeSyscalls(t, nil, nil)()
	r := NewRegistry()

	id1, existed1, err := r.Insert(10, 1, 7)
	require.NoError(t, err)
	assert.False(t, existed1)
	assert.Equal(t, uint32(1), id1)

	id2, existed2, err := r.Insert(10, 2, 7)
	require.NoError(t, err)
	assert.False(t, existed2)
	assert.Equal(t, uint32(2), id2)
	assert.NotEqual(t, id1, id2)
}

func TestRegistryInsertIsIdempotentPerPidRemoteFD(t *testing.T) {
	defer withFakeSyscalls(t, nil, nil)()
	r := NewRegistry()

	id, existed, err := r.Insert(10, 1, 7)
	require.NoError(t, err)
	require.False(t, existed)

	again, existed2, err := r.Insert(10, 1, 7)
	require.NoError(t, err)
	assert.True(t, existed2)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemovePurgesEmptyPidEntry(t *testing.T) {
	defer withFakeSyscalls(t, nil, nil)()
	r := NewRegistry()

	id, _, err := r.Insert(10, 1, 7)
	require.NoError(t, err)
	assert.True(t, r.Contains(10, 1))

	md, ok := r.Remove(id)
	require.True(t, ok)
	assert.Equal(t, int32(10), md.Pid)
	assert.False(t, r.Contains(10, 1))
	assert.Equal(t, 0, r.Len())

	_, ok = r.Remove(id)
	assert.False(t, ok)
}

func TestRegistryRemoveKeepsSiblingFlows(t *testing.T) {
	defer withFakeSyscalls(t, nil, nil)()
	r := NewRegistry()

	id1, _, err := r.Insert(10, 1, 7)
	require.NoError(t, err)
	id2, _, err := r.Insert(10, 2, 7)
	require.NoError(t, err)

	_, ok := r.Remove(id1)
	require.True(t, ok)
	assert.Equal(t, 1, r.Len())
	md2, ok := r.Lookup(id2)
	require.True(t, ok)
	assert.Equal(t, int32(2), md2.RemoteFD)
}

func TestRegistryInsertPropagatesPidfdOpenError(t *testing.T) {
	defer withFakeSyscalls(t, assertError, nil)()
	r := NewRegistry()

	_, _, err := r.Insert(10, 1, 7)
	assert.ErrorIs(t, err, assertError)
}

var assertError = errNoPidfd{}

type errNoPidfd struct{}

func (errNoPidfd) Error() string { return "no pidfd" }
