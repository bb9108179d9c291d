package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/store"
	"github.com/nhle/mlist/tests/testutil"
)

func TestUpsertAndLoadHeaders(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	hs := testutil.Headers(3)
	hs[1].References = "<1@example.com>"
	hs[1].InReplyTo = "<1@example.com>"
	hs[1].Status = model.StatusSeen | model.StatusAnswered
	hs[2].UID = model.UIDIllegal
	require.NoError(t, s.UpsertHeaders(ctx, "INBOX", hs))

	got, err := s.LoadHeaders(ctx, "INBOX")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range hs {
		assert.Equal(t, hs[i].Subject, got[i].Subject)
		assert.Equal(t, hs[i].SeqNum, got[i].SeqNum)
		assert.True(t, hs[i].Date.Equal(got[i].Date))
	}
	assert.Equal(t, "<1@example.com>", got[1].References)
	assert.Equal(t, model.StatusSeen|model.StatusAnswered, got[1].Status)
	assert.Equal(t, model.UIDIllegal, got[2].UID)

	n, err := s.CountHeaders(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	n, err = s.CountHeaders(ctx, "Archive")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertHeaders_RejectsPlaceholders(t *testing.T) {
	s := testutil.NewTestStore(t)
	err := s.UpsertHeaders(context.Background(), "INBOX", []model.Header{model.Placeholder(1)})
	assert.Error(t, err)
}

func TestHeaderRange(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHeaders(ctx, "INBOX", testutil.Headers(10)))

	got, err := s.HeaderRange(ctx, "INBOX", 4, 6)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint32(4), got[0].SeqNum)
	assert.Equal(t, "message 6", got[2].Subject)
}

func TestDeleteHeader_Renumbers(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHeaders(ctx, "INBOX", testutil.Headers(5)))

	require.NoError(t, s.DeleteHeader(ctx, "INBOX", 3))
	require.NoError(t, s.DeleteHeader(ctx, "INBOX", 1))

	got, err := s.LoadHeaders(ctx, "INBOX")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range []string{"message 2", "message 4", "message 5"} {
		assert.Equal(t, want, got[i].Subject)
		assert.Equal(t, uint32(i+1), got[i].SeqNum)
	}

	assert.Error(t, s.DeleteHeader(ctx, "INBOX", 9))
}

func TestReplaceFolder(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHeaders(ctx, "INBOX", testutil.Headers(5)))
	require.NoError(t, s.UpsertHeaders(ctx, "Archive", testutil.Headers(1)))

	require.NoError(t, s.ReplaceFolder(ctx, "INBOX", testutil.Headers(2)))

	n, err := s.CountHeaders(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	folders, err := s.Folders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "INBOX"}, folders)
}

func TestSyncRuns(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	last, err := s.LastSyncRun(ctx, "INBOX")
	require.NoError(t, err)
	assert.Nil(t, last)

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err = s.RecordSyncRun(ctx, store.SyncRun{
		Folder: "INBOX", StartedAt: start, FinishedAt: start.Add(time.Second), Fetched: 10,
	})
	require.NoError(t, err)
	id, err := s.RecordSyncRun(ctx, store.SyncRun{
		Folder: "INBOX", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + time.Second),
		Error: "connection reset",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	last, err = s.LastSyncRun(ctx, "INBOX")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, id, last.ID)
	assert.Equal(t, "connection reset", last.Error)
	assert.Zero(t, last.Fetched)
}
