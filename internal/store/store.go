package store

import (
	"context"
	"time"

	"github.com/nhle/mlist/internal/model"
)

// SyncRun records one download of a folder's headers.
type SyncRun struct {
	ID         string    `db:"id"`
	Folder     string    `db:"folder"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Fetched    int       `db:"fetched"`
	Error      string    `db:"error"`
}

// Store persists folder headers by sequence number.
type Store interface {
	// === Headers ===

	UpsertHeaders(ctx context.Context, folder string, headers []model.Header) error
	ReplaceFolder(ctx context.Context, folder string, headers []model.Header) error
	LoadHeaders(ctx context.Context, folder string) ([]model.Header, error)
	HeaderRange(ctx context.Context, folder string, from, to uint32) ([]model.Header, error)
	CountHeaders(ctx context.Context, folder string) (uint32, error)
	DeleteHeader(ctx context.Context, folder string, seq uint32) error
	Folders(ctx context.Context) ([]string, error)

	// === Sync runs ===

	RecordSyncRun(ctx context.Context, run SyncRun) (string, error)
	LastSyncRun(ctx context.Context, folder string) (*SyncRun, error)
}
