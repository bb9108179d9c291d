// Package cache tracks which headers of a folder have been retrieved
// and fetches the missing ones in coalesced batches.
package cache

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/mlist/internal/listing"
	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/source"
	"github.com/nhle/mlist/internal/sync"
)

// ErrNotCached is returned for a message whose header has not been
// retrieved yet. A fetch for it has been scheduled.
var ErrNotCached = errors.New("cache: header not retrieved yet")

const (
	defaultBatchGap = 8
	defaultMaxBatch = 256
)

// Fetcher retrieves batches in the background.
type Fetcher interface {
	Request(req sync.Request)
	// Stamp returns a completion stamp later than every result
	// delivered so far.
	Stamp() uint64
}

// Cache sits in front of a listing.Index. Folder changes go through the
// Cache, which forwards them to the index. Like the index, a Cache must
// only be used from the folder's owner goroutine.
type Cache struct {
	idx     *listing.Index
	src     source.Source
	fetcher Fetcher
	log     zerolog.Logger

	batchGap uint32
	maxBatch uint32

	// stamps holds, by index, the completion stamp of the data stored
	// in the index. pending holds the batch that will fill the index,
	// uuid.Nil if none.
	stamps  []uint64
	pending []uuid.UUID
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithBatchGap sets how many already retrieved messages a batch may
// span to join two runs of missing ones.
func WithBatchGap(n uint32) Option {
	return func(c *Cache) { c.batchGap = n }
}

// WithMaxBatch caps the number of messages per batch.
func WithMaxBatch(n uint32) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxBatch = n
		}
	}
}

// New returns a Cache over idx. src is used for synchronous fetches,
// f for background ones.
func New(idx *listing.Index, src source.Source, f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		idx:      idx,
		src:      src,
		fetcher:  f,
		log:      zerolog.Nop(),
		batchGap: defaultBatchGap,
		maxBatch: defaultMaxBatch,
	}
	for _, opt := range opts {
		opt(c)
	}
	n := idx.Count()
	c.stamps = make([]uint64, n)
	c.pending = make([]uuid.UUID, n)
	return c
}

// Index returns the listing the cache fills.
func (c *Cache) Index() *listing.Index {
	return c.idx
}

// IsCached reports whether the header shown at pos was retrieved.
func (c *Cache) IsCached(pos uint32) bool {
	idx := c.idx.GetIndexFromPosition(pos)
	return idx != listing.NotFound && c.idx.IsPopulated(idx)
}

// Pending reports whether a batch covering idx is in flight.
func (c *Cache) Pending(idx uint32) bool {
	return int(idx) < len(c.pending) && c.pending[idx] != uuid.Nil
}

// CacheRange schedules retrieval of the headers shown at positions and
// returns the number of batches issued.
func (c *Cache) CacheRange(positions []uint32) int {
	if c.idx.Closed() {
		return 0
	}
	indices := make([]uint32, 0, len(positions))
	for _, pos := range positions {
		if idx := c.idx.GetIndexFromPosition(pos); idx != listing.NotFound {
			indices = append(indices, idx)
		}
	}
	return c.request(indices)
}

// CacheAll schedules retrieval of every missing header.
func (c *Cache) CacheAll() int {
	if c.idx.Closed() {
		return 0
	}
	indices := make([]uint32, 0, c.idx.Count())
	for i := range c.idx.Count() {
		indices = append(indices, i)
	}
	return c.request(indices)
}

// Missing returns how many headers are neither retrieved nor pending.
func (c *Cache) Missing() int {
	n := 0
	for i := range c.idx.Count() {
		if !c.idx.IsPopulated(i) && c.pending[i] == uuid.Nil {
			n++
		}
	}
	return n
}

// request issues batches for the indices that are neither populated
// nor pending.
func (c *Cache) request(indices []uint32) int {
	want := indices[:0:0]
	for _, idx := range indices {
		if !c.idx.IsPopulated(idx) && !c.Pending(idx) {
			want = append(want, idx)
		}
	}
	if len(want) == 0 {
		return 0
	}
	slices.Sort(want)
	want = slices.Compact(want)

	gen := c.idx.Generation()
	batches := 0
	first, last := want[0], want[0]
	flush := func() {
		id := uuid.New()
		for i := first; i <= last; i++ {
			if !c.idx.IsPopulated(i) && c.pending[i] == uuid.Nil {
				c.pending[i] = id
			}
		}
		c.fetcher.Request(sync.Request{ID: id, From: first + 1, To: last + 1, Generation: gen})
		c.log.Debug().
			Str("batch", id.String()).
			Uint32("from", first+1).
			Uint32("to", last+1).
			Msg("batch requested")
		batches++
	}
	for _, idx := range want[1:] {
		if idx-last-1 <= c.batchGap && idx-first < c.maxBatch {
			last = idx
			continue
		}
		flush()
		first, last = idx, idx
	}
	flush()
	return batches
}

// Apply stores the headers of a completed batch and returns the ones it
// stored. A result issued before messages were renumbered
// is dropped and its still missing messages are requested again. A
// header older than the one already stored is skipped.
func (c *Cache) Apply(res sync.Result) []model.Header {
	if c.idx.Closed() {
		return nil
	}

	if res.Generation != c.idx.Generation() {
		var retry []uint32
		for i, id := range c.pending {
			if id == res.ID {
				c.pending[i] = uuid.Nil
				retry = append(retry, uint32(i))
			}
		}
		c.log.Debug().
			Str("batch", res.ID.String()).
			Int("count", len(retry)).
			Msg("dropping stale batch")
		if res.Err == nil && len(retry) > 0 {
			c.request(retry)
		}
		return nil
	}

	n := uint32(len(c.pending))
	for i := res.From - 1; i < res.To && i < n; i++ {
		if c.pending[i] == res.ID {
			c.pending[i] = uuid.Nil
		}
	}
	if res.Err != nil {
		c.log.Warn().Err(res.Err).Str("batch", res.ID.String()).Msg("batch failed")
		return nil
	}
	return c.store(res.Headers, res.Completed)
}

func (c *Cache) store(headers []model.Header, stamp uint64) []model.Header {
	fresh := headers[:0:0]
	for _, h := range headers {
		if h.SeqNum == 0 || int(h.SeqNum) > len(c.stamps) {
			c.log.Warn().Uint32("seq", h.SeqNum).Msg("header outside folder")
			continue
		}
		i := h.SeqNum - 1
		if c.stamps[i] > stamp {
			continue
		}
		c.stamps[i] = stamp
		fresh = append(fresh, h)
	}
	c.idx.SetRecords(fresh...)
	return fresh
}

// ForceGet returns the header shown at pos, retrieving it synchronously
// if needed.
func (c *Cache) ForceGet(ctx context.Context, pos uint32) (model.Header, error) {
	if c.idx.Closed() {
		return model.Header{}, listing.ErrClosed
	}
	idx := c.idx.GetIndexFromPosition(pos)
	if idx == listing.NotFound {
		return model.Header{}, listing.ErrOutOfRange
	}
	if c.idx.IsPopulated(idx) {
		return c.idx.Record(idx)
	}

	seq := idx + 1
	headers, err := c.src.FetchRange(ctx, seq, seq)
	if err != nil {
		return model.Header{}, &source.FetchError{From: seq, To: seq, Err: err}
	}
	c.store(headers, c.fetcher.Stamp())
	if !c.idx.IsPopulated(idx) {
		return model.Header{}, &source.FetchError{From: seq, To: seq, Err: errors.New("no header returned")}
	}
	return c.idx.Record(idx)
}

// RecordAtPosition returns the header shown at pos. A missing header is
// scheduled for retrieval and reported as ErrNotCached together with a
// placeholder.
func (c *Cache) RecordAtPosition(pos uint32) (model.Header, error) {
	h, err := c.idx.RecordAtPosition(pos)
	if err != nil || h.IsValid() {
		return h, err
	}
	idx := c.idx.GetIndexFromPosition(pos)
	c.request([]uint32{idx})
	return h, ErrNotCached
}

// OnInsert appends count new messages.
func (c *Cache) OnInsert(count uint32) {
	c.idx.OnInsert(count)
	for range count {
		c.stamps = append(c.stamps, 0)
		c.pending = append(c.pending, uuid.Nil)
	}
}

// OnRemove removes message seq.
func (c *Cache) OnRemove(seq uint32) {
	c.idx.OnRemove(seq)
	i := int(seq - 1)
	c.stamps = slices.Delete(c.stamps, i, i+1)
	c.pending = slices.Delete(c.pending, i, i+1)
}

// OnClose closes the listing and forgets all bookkeeping.
func (c *Cache) OnClose() {
	c.idx.OnClose()
	c.stamps = nil
	c.pending = nil
}
