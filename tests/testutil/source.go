package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/source"
)

// Range is one FetchRange call observed by a FakeSource.
type Range struct {
	From, To uint32
}

// FakeSource is an in-memory source.Source for tests. Fetches can be
// held back with Hold and failed with SetFetchError.
type FakeSource struct {
	mu       sync.Mutex
	headers  []model.Header
	queue    *source.Queue
	fetchErr error
	gate     chan struct{}
	calls    []Range
	closed   bool
}

// NewFakeSource returns a source holding headers, renumbered 1..n.
func NewFakeSource(headers ...model.Header) *FakeSource {
	s := &FakeSource{queue: source.NewQueue(64)}
	s.headers = make([]model.Header, len(headers))
	copy(s.headers, headers)
	renumber(s.headers)
	return s
}

// Headers builds n distinct valid headers with ascending dates.
func Headers(n int) []model.Header {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hs := make([]model.Header, n)
	for i := range hs {
		hs[i] = model.Header{
			Subject:   fmt.Sprintf("message %d", i+1),
			From:      fmt.Sprintf("user%d@example.com", i+1),
			MessageID: fmt.Sprintf("<%d@example.com>", i+1),
			Date:      base.Add(time.Duration(i) * time.Hour),
			Size:      uint64(100 * (i + 1)),
			SeqNum:    uint32(i + 1),
			UID:       uint64(1000 + i),
		}
	}
	return hs
}

func renumber(hs []model.Header) {
	for i := range hs {
		hs[i].SeqNum = uint32(i + 1)
	}
}

func (s *FakeSource) Type() source.SourceType {
	return source.SourceTypeLocal
}

func (s *FakeSource) Open(_ context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(len(s.headers)), nil
}

func (s *FakeSource) FetchRange(ctx context.Context, from, to uint32) ([]model.Header, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Range{From: from, To: to})
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if from < 1 || from > to || int(to) > len(s.headers) {
		return nil, fmt.Errorf("range %d:%d outside 1:%d", from, to, len(s.headers))
	}
	out := make([]model.Header, 0, to-from+1)
	out = append(out, s.headers[from-1:to]...)
	return out, nil
}

func (s *FakeSource) Events() <-chan source.Event {
	return s.queue.C()
}

func (s *FakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.queue.Close()
	}
	return nil
}

// SetFetchError makes every following fetch fail with err (nil clears it).
func (s *FakeSource) SetFetchError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

// Hold makes fetches block until Release.
func (s *FakeSource) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Release lets held fetches complete.
func (s *FakeSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Calls returns the ranges fetched so far.
func (s *FakeSource) Calls() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Range, len(s.calls))
	copy(out, s.calls)
	return out
}

// Set replaces the stored header of message seq without notifying.
func (s *FakeSource) Set(seq uint32, h model.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.SeqNum = seq
	s.headers[seq-1] = h
}

// Append adds messages at the end and reports them.
func (s *FakeSource) Append(ctx context.Context, hs ...model.Header) error {
	s.mu.Lock()
	s.headers = append(s.headers, hs...)
	renumber(s.headers)
	s.mu.Unlock()
	return s.queue.Push(ctx, source.Event{Kind: source.EventAdd, Count: uint32(len(hs))})
}

// Expunge removes message seq and reports it.
func (s *FakeSource) Expunge(ctx context.Context, seq uint32) error {
	s.mu.Lock()
	if seq < 1 || int(seq) > len(s.headers) {
		s.mu.Unlock()
		return fmt.Errorf("no message %d", seq)
	}
	s.headers = append(s.headers[:seq-1], s.headers[seq:]...)
	renumber(s.headers)
	s.mu.Unlock()
	return s.queue.Push(ctx, source.Event{Kind: source.EventRemove, SeqNum: seq})
}

// Vanish reports that the folder is gone.
func (s *FakeSource) Vanish(ctx context.Context) error {
	return s.queue.Push(ctx, source.Event{Kind: source.EventClose})
}
