package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mlist/internal/model"
)

// AuthError indicates that authentication has failed or expired for a
// source.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// FetchError reports that headers in a sequence range could not be
// retrieved. The affected messages stay unpopulated.
type FetchError struct {
	From, To uint32
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching messages %d:%d: %v", e.From, e.To, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err (or any error in its chain) is a
// FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// SourceType identifies the kind of folder backend.
type SourceType string

const (
	SourceTypeIMAP  SourceType = "imap"
	SourceTypeLocal SourceType = "local"
)

// EventKind tells what changed in the folder.
type EventKind int

const (
	// EventAdd reports Count new messages at the end of the folder.
	EventAdd EventKind = iota + 1
	// EventRemove reports that the message SeqNum was expunged.
	EventRemove
	// EventClose reports that the folder is gone.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a change notification from the folder backend.
type Event struct {
	Kind   EventKind
	Count  uint32
	SeqNum uint32
}

// Source is an open mail folder.
//
// Events must be delivered in the order the changes happened; for
// several expunges at once that is from the highest sequence number
// down.
type Source interface {
	// Type returns the backend identifier.
	Type() SourceType

	// Open returns the number of messages currently in the folder.
	Open(ctx context.Context) (uint32, error)

	// FetchRange retrieves the headers of messages from..to (inclusive,
	// 1-based). Headers are returned in sequence order with SeqNum set.
	FetchRange(ctx context.Context, from, to uint32) ([]model.Header, error)

	// Events delivers folder changes. The channel is closed by Close.
	Events() <-chan Event

	// Close releases the folder.
	Close() error
}

// Queue is a buffered event channel shared by Source implementations.
type Queue struct {
	ch chan Event
}

// NewQueue returns a Queue holding up to size undelivered events.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Event, size)}
}

// Push delivers ev, blocking while the consumer is behind. It gives up
// when ctx is done, since dropping a change would corrupt numbering.
func (q *Queue) Push(ctx context.Context, ev Event) error {
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C returns the receive side.
func (q *Queue) C() <-chan Event {
	return q.ch
}

// Close closes the channel. It must be called once, after the last Push.
func (q *Queue) Close() {
	close(q.ch)
}
