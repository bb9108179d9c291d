package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/source"
)

// FolderSource serves a folder stored in a SQLiteStore as a
// source.Source. It is the local backend: changes made through Append
// and Expunge are reported as events.
type FolderSource struct {
	store  *SQLiteStore
	folder string
	queue  *source.Queue

	mu     sync.Mutex
	closed bool
}

// NewFolderSource returns the source for folder in s.
func NewFolderSource(s *SQLiteStore, folder string) *FolderSource {
	return &FolderSource{
		store:  s,
		folder: folder,
		queue:  source.NewQueue(64),
	}
}

func (f *FolderSource) Type() source.SourceType {
	return source.SourceTypeLocal
}

// Open returns the number of stored messages.
func (f *FolderSource) Open(ctx context.Context) (uint32, error) {
	return f.store.CountHeaders(ctx, f.folder)
}

// FetchRange returns the stored headers from..to. A gap in the stored
// range is an error.
func (f *FolderSource) FetchRange(ctx context.Context, from, to uint32) ([]model.Header, error) {
	if from < 1 || from > to {
		return nil, fmt.Errorf("invalid range %d:%d", from, to)
	}
	headers, err := f.store.HeaderRange(ctx, f.folder, from, to)
	if err != nil {
		return nil, err
	}
	if want := int(to - from + 1); len(headers) != want {
		return nil, fmt.Errorf("folder %s has %d of %d messages in %d:%d",
			f.folder, len(headers), want, from, to)
	}
	return headers, nil
}

func (f *FolderSource) Events() <-chan source.Event {
	return f.queue.C()
}

// Close stops event delivery.
func (f *FolderSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.queue.Close()
	}
	return nil
}

// Append stores headers as new messages at the end of the folder.
func (f *FolderSource) Append(ctx context.Context, headers ...model.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("folder %s is closed", f.folder)
	}

	n, err := f.store.CountHeaders(ctx, f.folder)
	if err != nil {
		return err
	}
	batch := make([]model.Header, len(headers))
	for i, h := range headers {
		h.SeqNum = n + uint32(i) + 1
		batch[i] = h
	}
	if err := f.store.UpsertHeaders(ctx, f.folder, batch); err != nil {
		return err
	}
	return f.queue.Push(ctx, source.Event{Kind: source.EventAdd, Count: uint32(len(batch))})
}

// Expunge deletes message seq.
func (f *FolderSource) Expunge(ctx context.Context, seq uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("folder %s is closed", f.folder)
	}

	if err := f.store.DeleteHeader(ctx, f.folder, seq); err != nil {
		return err
	}
	return f.queue.Push(ctx, source.Event{Kind: source.EventRemove, SeqNum: seq})
}
