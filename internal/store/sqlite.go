package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mlist/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// headerRow is the database form of a model.Header.
type headerRow struct {
	Folder     string    `db:"folder"`
	Seq        uint32    `db:"seq"`
	UID        int64     `db:"uid"`
	Subject    string    `db:"subject"`
	From       string    `db:"from_addr"`
	To         string    `db:"to_addr"`
	Newsgroups string    `db:"newsgroups"`
	MessageID  string    `db:"message_id"`
	References string    `db:"refs"`
	InReplyTo  string    `db:"in_reply_to"`
	Date       time.Time `db:"date"`
	Status     uint8     `db:"status"`
	Size       int64     `db:"size"`
	Lines      uint32    `db:"lines"`
	FetchedAt  time.Time `db:"fetched_at"`
}

func (r headerRow) header() model.Header {
	return model.Header{
		Subject:    r.Subject,
		From:       r.From,
		To:         r.To,
		Newsgroups: r.Newsgroups,
		MessageID:  r.MessageID,
		References: r.References,
		InReplyTo:  r.InReplyTo,
		Date:       r.Date,
		Status:     model.Status(r.Status),
		Size:       uint64(r.Size),
		Lines:      r.Lines,
		SeqNum:     r.Seq,
		UID:        uint64(r.UID),
	}
}

const upsertHeaderQuery = `
	INSERT OR REPLACE INTO headers (
		folder, seq, uid,
		subject, from_addr, to_addr, newsgroups,
		message_id, refs, in_reply_to,
		date, status, size, lines, fetched_at
	) VALUES (
		?, ?, ?,
		?, ?, ?, ?,
		?, ?, ?,
		?, ?, ?, ?, ?
	)`

func insertHeaders(ctx context.Context, tx *sqlx.Tx, folder string, headers []model.Header) error {
	stmt, err := tx.PreparexContext(ctx, upsertHeaderQuery)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, h := range headers {
		if !h.IsValid() {
			return fmt.Errorf("header %d is a placeholder", h.SeqNum)
		}
		_, err = stmt.ExecContext(ctx,
			folder, h.SeqNum, int64(h.UID),
			h.Subject, h.From, h.To, h.Newsgroups,
			h.MessageID, h.References, h.InReplyTo,
			h.Date.UTC(), uint8(h.Status), int64(h.Size), h.Lines, now,
		)
		if err != nil {
			return fmt.Errorf("upserting header %d: %w", h.SeqNum, err)
		}
	}
	return nil
}

// UpsertHeaders inserts or replaces a batch of headers of folder, keyed
// by sequence number.
func (s *SQLiteStore) UpsertHeaders(ctx context.Context, folder string, headers []model.Header) error {
	if len(headers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertHeaders(ctx, tx, folder, headers); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceFolder stores headers as the complete content of folder.
func (s *SQLiteStore) ReplaceFolder(ctx context.Context, folder string, headers []model.Header) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM headers WHERE folder = ?", folder); err != nil {
		return fmt.Errorf("clearing folder %s: %w", folder, err)
	}
	if err := insertHeaders(ctx, tx, folder, headers); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadHeaders returns every stored header of folder in sequence order.
func (s *SQLiteStore) LoadHeaders(ctx context.Context, folder string) ([]model.Header, error) {
	var rows []headerRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM headers WHERE folder = ? ORDER BY seq", folder)
	if err != nil {
		return nil, fmt.Errorf("loading headers of %s: %w", folder, err)
	}
	return toHeaders(rows), nil
}

// HeaderRange returns the headers of messages from..to (inclusive) of
// folder in sequence order.
func (s *SQLiteStore) HeaderRange(ctx context.Context, folder string, from, to uint32) ([]model.Header, error) {
	var rows []headerRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM headers WHERE folder = ? AND seq BETWEEN ? AND ? ORDER BY seq",
		folder, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading headers %d:%d of %s: %w", from, to, folder, err)
	}
	return toHeaders(rows), nil
}

func toHeaders(rows []headerRow) []model.Header {
	headers := make([]model.Header, len(rows))
	for i, r := range rows {
		headers[i] = r.header()
	}
	return headers
}

// CountHeaders returns the number of stored headers of folder.
func (s *SQLiteStore) CountHeaders(ctx context.Context, folder string) (uint32, error) {
	var n uint32
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM headers WHERE folder = ?", folder)
	if err != nil {
		return 0, fmt.Errorf("counting headers of %s: %w", folder, err)
	}
	return n, nil
}

// DeleteHeader removes message seq of folder and renumbers the
// messages after it.
func (s *SQLiteStore) DeleteHeader(ctx context.Context, folder string, seq uint32) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM headers WHERE folder = ? AND seq = ?", folder, seq)
	if err != nil {
		return fmt.Errorf("deleting header %d of %s: %w", seq, folder, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting header %d of %s: %w", seq, folder, sql.ErrNoRows)
	}

	// Shift through negative numbers so no two rows share a key midway.
	_, err = tx.ExecContext(ctx,
		"UPDATE headers SET seq = -(seq - 1) WHERE folder = ? AND seq > ?", folder, seq)
	if err != nil {
		return fmt.Errorf("renumbering %s: %w", folder, err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE headers SET seq = -seq WHERE folder = ? AND seq < 0", folder)
	if err != nil {
		return fmt.Errorf("renumbering %s: %w", folder, err)
	}

	return tx.Commit()
}

// Folders lists the folders that have stored headers.
func (s *SQLiteStore) Folders(ctx context.Context) ([]string, error) {
	var folders []string
	err := s.db.SelectContext(ctx, &folders,
		"SELECT DISTINCT folder FROM headers ORDER BY folder")
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	return folders, nil
}

// RecordSyncRun stores run and returns its ID. If the run has no ID, a
// new UUID is generated.
func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run SyncRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO sync_runs (id, folder, started_at, finished_at, fetched, error)
		VALUES (:id, :folder, :started_at, :finished_at, :fetched, :error)`,
		SyncRun{
			ID:         run.ID,
			Folder:     run.Folder,
			StartedAt:  run.StartedAt.UTC(),
			FinishedAt: run.FinishedAt.UTC(),
			Fetched:    run.Fetched,
			Error:      run.Error,
		},
	)
	if err != nil {
		return "", fmt.Errorf("recording sync run: %w", err)
	}
	return run.ID, nil
}

// LastSyncRun returns the most recent run of folder, or nil if there
// was none.
func (s *SQLiteStore) LastSyncRun(ctx context.Context, folder string) (*SyncRun, error) {
	var run SyncRun
	err := s.db.GetContext(ctx, &run, `
		SELECT * FROM sync_runs WHERE folder = ?
		ORDER BY finished_at DESC LIMIT 1`, folder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last sync run of %s: %w", folder, err)
	}
	return &run, nil
}
