package sync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mlist/internal/source"
	"github.com/nhle/mlist/internal/sync"
	"github.com/nhle/mlist/tests/testutil"
)

func receive(t *testing.T, f *sync.Fetcher) sync.Result {
	t.Helper()
	select {
	case res, ok := <-f.Results():
		require.True(t, ok, "results channel closed")
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a result")
		return sync.Result{}
	}
}

func TestFetcher_DeliversRequestedRange(t *testing.T) {
	src := testutil.NewFakeSource(testutil.Headers(10)...)
	f := sync.New(src)
	f.Start()
	t.Cleanup(f.Stop)

	id := uuid.New()
	f.Request(sync.Request{ID: id, From: 3, To: 5, Generation: 7})

	res := receive(t, f)
	require.NoError(t, res.Err)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, uint64(7), res.Generation)
	require.Len(t, res.Headers, 3)
	assert.Equal(t, uint32(3), res.Headers[0].SeqNum)
	assert.Equal(t, uint32(5), res.Headers[2].SeqNum)
	assert.NotZero(t, res.Completed)
}

func TestFetcher_StampsIncrease(t *testing.T) {
	src := testutil.NewFakeSource(testutil.Headers(4)...)
	f := sync.New(src)
	f.Start()
	t.Cleanup(f.Stop)

	f.Request(sync.Request{ID: uuid.New(), From: 1, To: 2})
	first := receive(t, f)
	f.Request(sync.Request{ID: uuid.New(), From: 3, To: 4})
	second := receive(t, f)

	assert.Greater(t, second.Completed, first.Completed)
	assert.Greater(t, f.Stamp(), second.Completed)
}

func TestFetcher_WrapsSourceErrors(t *testing.T) {
	src := testutil.NewFakeSource(testutil.Headers(3)...)
	boom := errors.New("connection reset")
	src.SetFetchError(boom)

	f := sync.New(src)
	f.Start()
	t.Cleanup(f.Stop)

	f.Request(sync.Request{ID: uuid.New(), From: 1, To: 3})
	res := receive(t, f)

	require.Error(t, res.Err)
	assert.True(t, source.IsFetchError(res.Err))
	assert.ErrorIs(t, res.Err, boom)
	assert.Empty(t, res.Headers)
	assert.Equal(t, sync.FetchError, f.Status().State)
}

func TestFetcher_Timeout(t *testing.T) {
	src := testutil.NewFakeSource(testutil.Headers(3)...)
	src.Hold()
	t.Cleanup(src.Release)

	f := sync.New(src, sync.WithTimeout(20*time.Millisecond))
	f.Start()
	t.Cleanup(f.Stop)

	f.Request(sync.Request{ID: uuid.New(), From: 1, To: 1})
	res := receive(t, f)

	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestFetcher_ConcurrentWorkers(t *testing.T) {
	src := testutil.NewFakeSource(testutil.Headers(20)...)
	f := sync.New(src, sync.WithWorkers(3))
	f.Start()
	t.Cleanup(f.Stop)

	ids := map[uuid.UUID]bool{}
	for i := uint32(0); i < 5; i++ {
		id := uuid.New()
		ids[id] = true
		f.Request(sync.Request{ID: id, From: i*4 + 1, To: i*4 + 4})
	}

	stamps := map[uint64]bool{}
	for range 5 {
		res := receive(t, f)
		require.NoError(t, res.Err)
		assert.True(t, ids[res.ID])
		delete(ids, res.ID)
		assert.False(t, stamps[res.Completed], "stamp reused")
		stamps[res.Completed] = true
	}
	assert.Empty(t, ids)
}

func TestFetcher_StopClosesResults(t *testing.T) {
	src := testutil.NewFakeSource(testutil.Headers(2)...)
	f := sync.New(src)
	f.Start()
	f.Stop()

	_, ok := <-f.Results()
	assert.False(t, ok)

	// Requests after Stop are ignored and Stop is idempotent.
	f.Request(sync.Request{ID: uuid.New(), From: 1, To: 1})
	f.Stop()
	assert.Empty(t, src.Calls())
}

func TestFetcher_StatusIdleAfterWork(t *testing.T) {
	src := testutil.NewFakeSource(testutil.Headers(2)...)
	f := sync.New(src)
	assert.Equal(t, sync.FetchIdle, f.Status().State)

	f.Start()
	t.Cleanup(f.Stop)
	f.Request(sync.Request{ID: uuid.New(), From: 1, To: 2})
	receive(t, f)

	st := f.Status()
	assert.Equal(t, sync.FetchIdle, st.State)
	assert.Zero(t, st.InFlight)
	assert.Zero(t, st.Queued)
	assert.False(t, st.LastFetch.IsZero())
}
