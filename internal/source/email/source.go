// Package email serves an IMAP mailbox as a source.Source.
package email

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/source"
)

// ErrNotOpen is returned by FetchRange before Open succeeded.
var ErrNotOpen = errors.New("email: mailbox not open")

// Source is one selected IMAP mailbox. Expunges and new messages the
// server reports are turned into events.
type Source struct {
	client  *IMAPClient
	mailbox string
	log     zerolog.Logger
	queue   *source.Queue

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conn  *imapclient.Client
	count uint32

	pushMu sync.Mutex
	closed bool
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Source) { s.log = log }
}

// New returns a Source for the mailbox of acct. Nothing is dialed
// until Open.
func New(acct model.AccountConfig, password string, opts ...Option) *Source {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		client:  NewIMAPClient(acct, password),
		mailbox: acct.Mailbox,
		log:     zerolog.Nop(),
		queue:   source.NewQueue(1024),
		ctx:     ctx,
		cancel:  cancel,
	}
	if s.mailbox == "" {
		s.mailbox = "INBOX"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Type() source.SourceType {
	return source.SourceTypeIMAP
}

// Open connects, selects the mailbox read-only and returns its message
// count.
func (s *Source) Open(ctx context.Context) (uint32, error) {
	conn, err := s.client.Connect(&imapclient.UnilateralDataHandler{
		Expunge: s.onExpunge,
		Mailbox: s.onMailbox,
	})
	if err != nil {
		return 0, err
	}

	data, err := wait(ctx, func() (*imap.SelectData, error) {
		return conn.Select(s.mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	})
	if err != nil {
		_ = conn.Close()
		return 0, fmt.Errorf("selecting %s: %w", s.mailbox, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.count = data.NumMessages
	s.mu.Unlock()

	s.log.Info().Str("folder", s.mailbox).Uint32("count", data.NumMessages).Msg("mailbox selected")
	return data.NumMessages, nil
}

// FetchRange retrieves the headers of messages from..to.
func (s *Source) FetchRange(ctx context.Context, from, to uint32) ([]model.Header, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrNotOpen
	}

	var set imap.SeqSet
	set.AddRange(from, to)

	msgs, err := wait(ctx, func() ([]*imapclient.FetchMessageBuffer, error) {
		return conn.Fetch(set, fetchOptions).Collect()
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %d:%d: %w", from, to, err)
	}

	headers := make([]model.Header, 0, len(msgs))
	for _, buf := range msgs {
		headers = append(headers, toHeader(buf, buf.FindBodySection(headerSection)))
	}
	slices.SortFunc(headers, func(a, b model.Header) int {
		return int(a.SeqNum) - int(b.SeqNum)
	})
	return headers, nil
}

// wait runs a blocking IMAP command, giving up when ctx is done. The
// command itself keeps running; its result is discarded.
func wait[T any](ctx context.Context, run func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := run()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *Source) Events() <-chan source.Event {
	return s.queue.C()
}

func (s *Source) onExpunge(seqNum uint32) {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
	}
	s.mu.Unlock()
	s.push(source.Event{Kind: source.EventRemove, SeqNum: seqNum})
}

func (s *Source) onMailbox(data *imapclient.UnilateralDataMailbox) {
	if data.NumMessages == nil {
		return
	}
	n := *data.NumMessages

	s.mu.Lock()
	added := uint32(0)
	if n > s.count {
		added = n - s.count
	}
	s.count = n
	s.mu.Unlock()

	if added > 0 {
		s.push(source.Event{Kind: source.EventAdd, Count: added})
	}
}

// push runs on the IMAP reader goroutine.
func (s *Source) push(ev source.Event) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	if s.closed {
		return
	}
	if err := s.queue.Push(s.ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Kind.String()).Msg("dropping mailbox event")
	}
}

// Close logs out and stops event delivery.
func (s *Source) Close() error {
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		// Attempt graceful logout with timeout; force-close on timeout
		done := make(chan error, 1)
		go func() { done <- conn.Logout().Wait() }()
		select {
		case err = <-done:
			if err != nil {
				s.log.Warn().Err(err).Msg("error during IMAP logout")
			}
		case <-time.After(2 * time.Second):
			s.log.Warn().Msg("IMAP logout timed out, force closing connection")
		}
		err = conn.Close()
	}

	s.pushMu.Lock()
	if !s.closed {
		s.closed = true
		s.queue.Close()
	}
	s.pushMu.Unlock()
	return err
}
