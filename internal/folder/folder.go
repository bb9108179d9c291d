// Package folder ties a source to its listing. A Folder owns the index,
// the display cache and the background fetcher of one open mailbox,
// and applies all changes on the goroutine that calls Pump or
// PumpPending.
package folder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mlist/internal/cache"
	"github.com/nhle/mlist/internal/listing"
	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/sorting"
	"github.com/nhle/mlist/internal/source"
	"github.com/nhle/mlist/internal/sync"
)

// Config holds the listing and retrieval settings of a folder.
type Config struct {
	Sort   model.SortParams
	Thread model.ThreadParams

	BatchGap     uint32
	Workers      int
	FetchTimeout time.Duration
}

// ConfigFromApp extracts the folder settings from the application
// configuration.
func ConfigFromApp(app *model.AppConfig) (Config, error) {
	sp, err := app.SortParams()
	if err != nil {
		return Config{}, err
	}
	tp := app.ThreadParams()
	if err := tp.Validate(); err != nil {
		return Config{}, err
	}
	return Config{
		Sort:         sp,
		Thread:       tp,
		BatchGap:     uint32(max(app.Cache.BatchGap, 0)),
		Workers:      app.Cache.Workers,
		FetchTimeout: time.Duration(app.Cache.FetchTimeoutSec) * time.Second,
	}, nil
}

// Archive receives retrieved headers, e.g. the sqlite header cache.
type Archive interface {
	UpsertHeaders(ctx context.Context, folder string, headers []model.Header) error
	DeleteHeader(ctx context.Context, folder string, seq uint32) error
}

// Folder is an open mailbox.
type Folder struct {
	name    string
	src     source.Source
	log     zerolog.Logger
	scorer  sorting.Scorer
	archive Archive

	idx     *listing.Index
	cache   *cache.Cache
	fetcher *sync.Fetcher
}

// Option configures a Folder.
type Option func(*Folder)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Folder) { f.log = log }
}

// WithScorer sets the message scores used by score sorting.
func WithScorer(s sorting.Scorer) Option {
	return func(f *Folder) { f.scorer = s }
}

// WithArchive makes the folder save every retrieved header to a.
func WithArchive(a Archive) Option {
	return func(f *Folder) { f.archive = a }
}

// Open opens src and starts retrieving headers. When the listing order
// depends on every header, all of them are requested right away.
func Open(ctx context.Context, name string, src source.Source, cfg Config, opts ...Option) (*Folder, error) {
	f := &Folder{
		name: name,
		src:  src,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With().Str("folder", name).Logger()

	count, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening folder %s: %w", name, err)
	}

	idxOpts := []listing.Option{listing.WithLogger(f.log)}
	if f.scorer != nil {
		idxOpts = append(idxOpts, listing.WithScorer(f.scorer))
	}
	f.idx = listing.New(idxOpts...)
	f.idx.SetSortOrder(cfg.Sort)
	f.idx.SetThreadParameters(cfg.Thread)

	f.fetcher = sync.New(src,
		sync.WithLogger(f.log),
		sync.WithWorkers(cfg.Workers),
		sync.WithTimeout(cfg.FetchTimeout),
	)
	f.fetcher.Start()

	f.cache = cache.New(f.idx, src, f.fetcher,
		cache.WithLogger(f.log),
		cache.WithBatchGap(cfg.BatchGap),
	)
	f.cache.OnInsert(count)
	f.prefetch()

	f.log.Debug().Uint32("count", count).Msg("folder opened")
	return f, nil
}

func (f *Folder) prefetch() {
	if f.idx.NeedsAllRecords() {
		f.cache.CacheAll()
	}
}

// Name returns the folder name.
func (f *Folder) Name() string {
	return f.name
}

// Index exposes the listing for lookups not wrapped by Folder.
func (f *Folder) Index() *listing.Index {
	return f.idx
}

// Count returns the number of messages.
func (f *Folder) Count() uint32 {
	return f.idx.Count()
}

// LastMod returns the listing modification counter.
func (f *Folder) LastMod() uint64 {
	return f.idx.LastMod()
}

// HasChanged reports whether the listing changed since LastMod
// returned since.
func (f *Folder) HasChanged(since uint64) bool {
	return f.idx.HasChanged(since)
}

// Closed reports whether the folder went away.
func (f *Folder) Closed() bool {
	return f.idx.Closed()
}

// Missing returns the number of headers neither retrieved nor pending.
func (f *Folder) Missing() int {
	if f.idx.Closed() {
		return 0
	}
	return f.cache.Missing()
}

// FetchStatus reports background retrieval progress.
func (f *Folder) FetchStatus() sync.FetchStatus {
	return f.fetcher.Status()
}

// RecordAtPosition returns the header shown at pos, or a placeholder
// and cache.ErrNotCached while it is being retrieved.
func (f *Folder) RecordAtPosition(pos uint32) (model.Header, error) {
	return f.cache.RecordAtPosition(pos)
}

// ForceGet returns the header shown at pos, retrieving it synchronously
// if needed.
func (f *Folder) ForceGet(ctx context.Context, pos uint32) (model.Header, error) {
	return f.cache.ForceGet(ctx, pos)
}

// GetIndentation returns the thread depth of the message shown at pos.
func (f *Folder) GetIndentation(pos uint32) uint32 {
	return f.idx.GetIndentation(pos)
}

// GetChildrenCount returns how many messages are threaded below pos.
func (f *Folder) GetChildrenCount(pos uint32) uint32 {
	return f.idx.GetChildrenCount(pos)
}

// CacheRange schedules retrieval of the headers shown at positions.
func (f *Folder) CacheRange(positions []uint32) int {
	return f.cache.CacheRange(positions)
}

// SetSortOrder changes the sort order and reports whether the listing
// changed.
func (f *Folder) SetSortOrder(params model.SortParams) bool {
	if f.idx.Closed() {
		return false
	}
	changed := f.idx.SetSortOrder(params)
	if changed {
		f.prefetch()
	}
	return changed
}

// SetThreadParameters changes the threading parameters and reports
// whether the listing changed.
func (f *Folder) SetThreadParameters(params model.ThreadParams) bool {
	if f.idx.Closed() {
		return false
	}
	changed := f.idx.SetThreadParameters(params)
	if changed {
		f.prefetch()
	}
	return changed
}

// Pump applies source events and fetch results until ctx is done or the
// source stops delivering events. Events already queued are applied
// before each result, so a result never lands on a folder that lags
// the source.
func (f *Folder) Pump(ctx context.Context) error {
	events := f.src.Events()
	results := f.fetcher.Results()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			f.handleEvent(ctx, ev)
		case res, ok := <-results:
			if !ok {
				return nil
			}
			if _, open := f.drainEvents(ctx, events); !open {
				return nil
			}
			f.handleResult(ctx, res)
		}
	}
}

// PumpPending applies whatever events and results are ready without
// blocking and returns how many it handled.
func (f *Folder) PumpPending() int {
	ctx := context.Background()
	events := f.src.Events()
	n := 0
	for {
		handled, open := f.drainEvents(ctx, events)
		n += handled
		if !open {
			return n
		}
		select {
		case res, ok := <-f.fetcher.Results():
			if !ok {
				return n
			}
			if handled, open = f.drainEvents(ctx, events); !open {
				return n + handled
			}
			n += handled
			f.handleResult(ctx, res)
			n++
		default:
			return n
		}
	}
}

// drainEvents applies the events queued so far. It reports how many it
// handled and false once the event stream is closed.
func (f *Folder) drainEvents(ctx context.Context, events <-chan source.Event) (int, bool) {
	n := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return n, false
			}
			f.handleEvent(ctx, ev)
			n++
		default:
			return n, true
		}
	}
}

func (f *Folder) handleEvent(ctx context.Context, ev source.Event) {
	if f.idx.Closed() {
		return
	}
	log := f.log.With().Str("event", ev.Kind.String()).Logger()

	switch ev.Kind {
	case source.EventAdd:
		f.cache.OnInsert(ev.Count)
		log.Debug().Uint32("count", ev.Count).Msg("messages added")
		f.prefetch()
	case source.EventRemove:
		if ev.SeqNum == 0 || ev.SeqNum > f.idx.Count() {
			log.Warn().Uint32("seq", ev.SeqNum).Uint32("count", f.idx.Count()).Msg("ignoring removal of unknown message")
			return
		}
		f.cache.OnRemove(ev.SeqNum)
		log.Debug().Uint32("seq", ev.SeqNum).Msg("message removed")
		if f.archive != nil {
			if err := f.archive.DeleteHeader(ctx, f.name, ev.SeqNum); err != nil {
				log.Warn().Err(err).Msg("archiving removal failed")
			}
		}
	case source.EventClose:
		f.cache.OnClose()
		log.Info().Msg("folder closed by source")
	default:
		log.Warn().Msg("unknown event")
	}
}

func (f *Folder) handleResult(ctx context.Context, res sync.Result) {
	stored := f.cache.Apply(res)
	if len(stored) == 0 || f.archive == nil {
		return
	}
	if err := f.archive.UpsertHeaders(ctx, f.name, stored); err != nil {
		f.log.Warn().Err(err).Msg("archiving headers failed")
	}
}

// Close stops retrieval and releases the source.
func (f *Folder) Close() error {
	f.fetcher.Stop()
	err := f.src.Close()
	if !f.idx.Closed() {
		f.cache.OnClose()
	}
	if err != nil {
		return fmt.Errorf("closing folder %s: %w", f.name, err)
	}
	return nil
}
