package cache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mlist/internal/cache"
	"github.com/nhle/mlist/internal/listing"
	"github.com/nhle/mlist/internal/source"
	"github.com/nhle/mlist/internal/sync"
	"github.com/nhle/mlist/tests/testutil"
)

// recordingFetcher keeps requests instead of running them.
type recordingFetcher struct {
	reqs  []sync.Request
	stamp uint64
}

func (f *recordingFetcher) Request(req sync.Request) { f.reqs = append(f.reqs, req) }

func (f *recordingFetcher) Stamp() uint64 {
	f.stamp++
	return f.stamp
}

// complete answers req from src the way the background fetcher would.
func (f *recordingFetcher) complete(t *testing.T, src *testutil.FakeSource, req sync.Request) sync.Result {
	t.Helper()
	hs, err := src.FetchRange(context.Background(), req.From, req.To)
	require.NoError(t, err)
	return sync.Result{Request: req, Headers: hs, Completed: f.Stamp()}
}

func newCache(t *testing.T, n int, opts ...cache.Option) (*cache.Cache, *testutil.FakeSource, *recordingFetcher) {
	t.Helper()
	src := testutil.NewFakeSource(testutil.Headers(n)...)
	f := &recordingFetcher{}
	c := cache.New(listing.New(), src, f, opts...)
	c.OnInsert(uint32(n))
	return c, src, f
}

func TestCacheRange_Coalesces(t *testing.T) {
	c, _, f := newCache(t, 30, cache.WithBatchGap(2))

	n := c.CacheRange([]uint32{0, 1, 2, 5, 6, 20})
	assert.Equal(t, 2, n)
	require.Len(t, f.reqs, 2)
	assert.Equal(t, uint32(1), f.reqs[0].From)
	assert.Equal(t, uint32(7), f.reqs[0].To)
	assert.Equal(t, uint32(21), f.reqs[1].From)
	assert.Equal(t, uint32(21), f.reqs[1].To)

	// Messages inside the gap ride along.
	assert.True(t, c.Pending(3))
	assert.False(t, c.Pending(10))

	// Nothing new to ask for.
	assert.Zero(t, c.CacheRange([]uint32{0, 3, 20}))
}

func TestCacheRange_MaxBatch(t *testing.T) {
	c, _, f := newCache(t, 10, cache.WithMaxBatch(4))

	c.CacheAll()
	require.Len(t, f.reqs, 3)
	assert.Equal(t, sync.Request{ID: f.reqs[0].ID, From: 1, To: 4}, f.reqs[0])
	assert.Equal(t, uint32(5), f.reqs[1].From)
	assert.Equal(t, uint32(9), f.reqs[2].From)
	assert.Equal(t, uint32(10), f.reqs[2].To)
}

func TestApply_StoresHeaders(t *testing.T) {
	c, src, f := newCache(t, 5)

	c.CacheRange([]uint32{1, 2})
	require.Len(t, f.reqs, 1)

	stored := c.Apply(f.complete(t, src, f.reqs[0]))
	assert.Len(t, stored, 2)
	assert.False(t, c.Pending(1))
	assert.True(t, c.IsCached(1))
	assert.True(t, c.IsCached(2))
	assert.False(t, c.IsCached(0))
	assert.Equal(t, 3, c.Missing())

	h, err := c.RecordAtPosition(2)
	require.NoError(t, err)
	assert.Equal(t, "message 3", h.Subject)
}

func TestApply_StaleGenerationIsRequestedAgain(t *testing.T) {
	c, src, f := newCache(t, 5)

	c.CacheRange([]uint32{0, 1, 2})
	require.Len(t, f.reqs, 1)
	stale := f.reqs[0]

	require.NoError(t, src.Expunge(context.Background(), 5))
	c.OnRemove(5)

	assert.Empty(t, c.Apply(f.complete(t, src, stale)))
	assert.False(t, c.IsCached(0))

	require.Len(t, f.reqs, 2)
	retry := f.reqs[1]
	assert.Equal(t, c.Index().Generation(), retry.Generation)
	assert.Equal(t, uint32(1), retry.From)
	assert.Equal(t, uint32(3), retry.To)
	assert.True(t, c.Pending(0))

	assert.Len(t, c.Apply(f.complete(t, src, retry)), 3)
}

func TestApply_OlderResultDoesNotOverwriteNewer(t *testing.T) {
	c, src, f := newCache(t, 3)

	c.CacheRange([]uint32{0})
	require.Len(t, f.reqs, 1)
	early := f.complete(t, src, f.reqs[0])

	updated := testutil.Headers(1)[0]
	updated.Subject = "edited"
	src.Set(1, updated)

	h, err := c.ForceGet(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "edited", h.Subject)

	// The batch finished before the synchronous fetch, so it is older.
	assert.Empty(t, c.Apply(early))
	h, err = c.RecordAtPosition(0)
	require.NoError(t, err)
	assert.Equal(t, "edited", h.Subject)
	assert.False(t, c.Pending(0))
}

func TestApply_ReturnsOnlyStoredHeaders(t *testing.T) {
	c, src, f := newCache(t, 3)

	c.CacheRange([]uint32{0, 1})
	require.Len(t, f.reqs, 1)
	res := f.complete(t, src, f.reqs[0])

	edited := testutil.Headers(1)[0]
	edited.Subject = "edited"
	src.Set(1, edited)
	_, err := c.ForceGet(context.Background(), 0)
	require.NoError(t, err)

	stored := c.Apply(res)
	require.Len(t, stored, 1)
	assert.Equal(t, "message 2", stored[0].Subject)
	assert.Equal(t, uint32(2), stored[0].SeqNum)
}

func TestApply_NewerResultOverwrites(t *testing.T) {
	c, src, f := newCache(t, 2)

	c.CacheRange([]uint32{0})
	_, err := c.ForceGet(context.Background(), 1)
	require.NoError(t, err)

	src.Set(1, testutil.Headers(1)[0])
	res := f.complete(t, src, f.reqs[0])
	assert.Len(t, c.Apply(res), 1)
}

func TestApply_ErrorLeavesMessagesMissing(t *testing.T) {
	c, _, f := newCache(t, 4)

	c.CacheRange([]uint32{0, 1})
	req := f.reqs[0]
	res := sync.Result{
		Request:   req,
		Err:       &source.FetchError{From: req.From, To: req.To, Err: errors.New("boom")},
		Completed: f.Stamp(),
	}

	assert.Empty(t, c.Apply(res))
	assert.False(t, c.Pending(0))
	assert.False(t, c.IsCached(0))
	assert.Equal(t, 4, c.Missing())

	// A later paint asks again.
	assert.Equal(t, 1, c.CacheRange([]uint32{0, 1}))
}

func TestRecordAtPosition_SchedulesFetch(t *testing.T) {
	c, _, f := newCache(t, 3)

	h, err := c.RecordAtPosition(1)
	assert.ErrorIs(t, err, cache.ErrNotCached)
	assert.False(t, h.IsValid())
	require.Len(t, f.reqs, 1)
	assert.Equal(t, uint32(2), f.reqs[0].From)

	_, err = c.RecordAtPosition(1)
	assert.ErrorIs(t, err, cache.ErrNotCached)
	assert.Len(t, f.reqs, 1)

	_, err = c.RecordAtPosition(9)
	assert.ErrorIs(t, err, listing.ErrOutOfRange)
}

func TestForceGet_FetchError(t *testing.T) {
	c, src, _ := newCache(t, 2)
	src.SetFetchError(errors.New("offline"))

	_, err := c.ForceGet(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, source.IsFetchError(err))

	_, err = c.ForceGet(context.Background(), 5)
	assert.ErrorIs(t, err, listing.ErrOutOfRange)
}

func TestOnRemove_KeepsBookkeepingAligned(t *testing.T) {
	c, _, _ := newCache(t, 6, cache.WithBatchGap(0))

	c.CacheRange([]uint32{3})
	require.True(t, c.Pending(3))

	c.OnRemove(1)
	assert.True(t, c.Pending(2))
	assert.False(t, c.Pending(3))
	assert.Equal(t, uint32(5), c.Index().Count())
}

func TestClosedCache(t *testing.T) {
	c, src, f := newCache(t, 2)

	c.CacheRange([]uint32{0})
	res := f.complete(t, src, f.reqs[0])
	c.OnClose()

	assert.Empty(t, c.Apply(res))
	assert.Zero(t, c.CacheAll())
	_, err := c.ForceGet(context.Background(), 0)
	assert.ErrorIs(t, err, listing.ErrClosed)
}
