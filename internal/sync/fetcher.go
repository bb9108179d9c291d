package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/source"
)

// FetchState represents what the fetcher is doing.
type FetchState int

const (
	FetchIdle FetchState = iota
	FetchRunning
	FetchError
)

// FetchStatus is a snapshot of the fetcher's progress.
type FetchStatus struct {
	State     FetchState
	Queued    int
	InFlight  int
	LastFetch time.Time
	Error     error
}

// Request asks for the headers of messages From..To (inclusive). It
// remembers the listing generation it was issued under so stale
// results can be recognized.
type Request struct {
	ID         uuid.UUID
	From, To   uint32
	Generation uint64
}

// Result is the outcome of a Request. Completed is a stamp from a
// counter shared by all results of one Fetcher: a result with a higher
// stamp finished later.
type Result struct {
	Request
	Headers   []model.Header
	Err       error
	Completed uint64
}

// defaultFetchTimeout is the maximum time allowed for a single batch.
const defaultFetchTimeout = 30 * time.Second

// Fetcher retrieves header batches from a source in the background.
// Request never blocks; each result carries a completion stamp.
type Fetcher struct {
	src     source.Source
	log     zerolog.Logger
	timeout time.Duration
	workers int

	mu      gosync.Mutex
	queue   []Request
	status  FetchStatus
	running bool
	stopped bool
	wake    chan struct{}
	stopCh  chan struct{}
	wg      gosync.WaitGroup
	results chan Result
	stamps  atomic.Uint64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

// WithTimeout bounds each batch fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithWorkers sets how many batches are fetched concurrently.
func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// New creates a Fetcher for src. Call Start before issuing requests.
func New(src source.Source, opts ...Option) *Fetcher {
	f := &Fetcher{
		src:     src,
		log:     zerolog.Nop(),
		timeout: defaultFetchTimeout,
		workers: 1,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		results: make(chan Result, 64),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the worker goroutines.
func (f *Fetcher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running || f.stopped {
		return
	}
	f.running = true

	for range f.workers {
		f.wg.Add(1)
		go f.work()
	}
}

// Stop halts the workers, waits for in-flight batches and closes the
// Results channel. Queued requests are discarded.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	wasRunning := f.running
	f.running = false
	f.queue = nil
	close(f.stopCh)
	f.mu.Unlock()

	if wasRunning {
		f.wg.Wait()
	}
	close(f.results)
}

// Request queues req. It never blocks.
func (f *Fetcher) Request(req Request) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, req)
	f.status.Queued = len(f.queue)
	f.mu.Unlock()

	f.signal()
}

func (f *Fetcher) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
		// Already signalled.
	}
}

// Results delivers completed batches.
func (f *Fetcher) Results() <-chan Result {
	return f.results
}

// Stamp returns a fresh completion stamp, for data fetched outside the
// Fetcher that must be ordered against its results.
func (f *Fetcher) Stamp() uint64 {
	return f.stamps.Add(1)
}

// Status returns the current fetch status.
func (f *Fetcher) Status() FetchStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Fetcher) next() (Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.queue) == 0 {
		return Request{}, false
	}
	req := f.queue[0]
	f.queue = f.queue[1:]
	f.status.Queued = len(f.queue)
	f.status.InFlight++
	f.status.State = FetchRunning
	if len(f.queue) > 0 {
		// Let another worker pick up the rest.
		f.signal()
	}
	return req, true
}

// work runs the loop of one worker.
func (f *Fetcher) work() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopCh:
			return
		case <-f.wake:
		}

		for {
			req, ok := f.next()
			if !ok {
				break
			}
			f.fetch(req)

			select {
			case <-f.stopCh:
				return
			default:
			}
		}
	}
}

// fetch performs one batch and delivers its result.
func (f *Fetcher) fetch(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	go func() {
		select {
		case <-f.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	log := f.log.With().
		Str("batch", req.ID.String()).
		Uint32("from", req.From).
		Uint32("to", req.To).
		Logger()

	start := time.Now()
	headers, err := f.src.FetchRange(ctx, req.From, req.To)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", f.timeout, err)
		}
		err = &source.FetchError{From: req.From, To: req.To, Err: err}
		log.Warn().Err(err).Msg("header fetch failed")
	} else {
		log.Debug().Int("count", len(headers)).Dur("took", time.Since(start)).Msg("headers fetched")
	}

	f.setStatus(err)
	f.deliver(Result{Request: req, Headers: headers, Err: err})
}

// deliver stamps res and sends it. Results of concurrent workers may
// be received out of stamp order; consumers compare stamps.
func (f *Fetcher) deliver(res Result) {
	res.Completed = f.stamps.Add(1)
	select {
	case f.results <- res:
	case <-f.stopCh:
	}
}

func (f *Fetcher) setStatus(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status.InFlight--
	f.status.Error = err
	switch {
	case err != nil:
		f.status.State = FetchError
	case f.status.InFlight == 0 && len(f.queue) == 0:
		f.status.State = FetchIdle
		f.status.LastFetch = time.Now()
	default:
		f.status.LastFetch = time.Now()
	}
}
