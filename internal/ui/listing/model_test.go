package listing_test

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mlist/internal/folder"
	"github.com/nhle/mlist/internal/keys"
	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/ui/listing"
	"github.com/nhle/mlist/tests/testutil"
)

func setup(t *testing.T, hs []model.Header, cfg folder.Config) (*folder.Folder, *testutil.FakeSource) {
	t.Helper()
	src := testutil.NewFakeSource(hs...)
	f, err := folder.Open(context.Background(), "INBOX", src, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, src
}

func settle(t *testing.T, f *folder.Folder) {
	t.Helper()
	all := make([]uint32, f.Count())
	for i := range all {
		all[i] = uint32(i)
	}
	f.CacheRange(all)

	deadline := time.Now().Add(5 * time.Second)
	for f.Missing() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("headers never arrived")
		}
		if f.PumpPending() == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

func press(m listing.Model, r rune) (listing.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
}

func TestView_ShowsPendingThenHeaders(t *testing.T) {
	f, _ := setup(t, testutil.Headers(3), folder.Config{})
	m := listing.New(f, keys.DefaultKeyMap(), 100, 10)

	assert.Contains(t, m.View(), "retrieving")

	settle(t, f)
	m.Refresh()
	view := m.View()
	assert.Contains(t, view, "message 1")
	assert.Contains(t, view, "message 3")
	assert.Contains(t, view, "user2@example.com")
}

func TestUpdate_Navigation(t *testing.T) {
	f, _ := setup(t, testutil.Headers(5), folder.Config{})
	m := listing.New(f, keys.DefaultKeyMap(), 100, 3)
	settle(t, f)

	m, _ = press(m, 'j')
	m, _ = press(m, 'j')
	assert.Equal(t, uint32(2), m.Cursor())

	m, _ = press(m, 'G')
	assert.Equal(t, uint32(4), m.Cursor())
	assert.Contains(t, m.View(), "message 5")
	assert.NotContains(t, m.View(), "message 1")

	m, _ = press(m, 'j')
	assert.Equal(t, uint32(4), m.Cursor(), "cursor stops at the last row")

	m, _ = press(m, 'g')
	assert.Equal(t, uint32(0), m.Cursor())
}

func TestUpdate_SelectSendsPosition(t *testing.T) {
	f, _ := setup(t, testutil.Headers(3), folder.Config{})
	m := listing.New(f, keys.DefaultKeyMap(), 100, 10)

	m, _ = press(m, 'j')
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, listing.SelectedMsg{Pos: 1}, cmd())
}

func TestUpdate_NextUnreadWraps(t *testing.T) {
	hs := testutil.Headers(4)
	for i := range hs {
		hs[i].Status = model.StatusSeen
	}
	hs[0].Status = 0
	hs[2].Status = 0
	f, _ := setup(t, hs, folder.Config{})
	m := listing.New(f, keys.DefaultKeyMap(), 100, 10)
	settle(t, f)

	m, _ = press(m, 'n')
	assert.Equal(t, uint32(2), m.Cursor())
	m, _ = press(m, 'n')
	assert.Equal(t, uint32(0), m.Cursor())

	m, _ = press(m, 'f')
	assert.Equal(t, uint32(0), m.Cursor())
	assert.Equal(t, "No flagged messages", m.Message())
}

func TestRefresh_FollowsSelectionAcrossReverse(t *testing.T) {
	f, _ := setup(t, testutil.Headers(4), folder.Config{
		Sort: model.SortParams{Criteria: []model.SortCriterion{{Key: model.SortDate}}},
	})
	settle(t, f)
	m := listing.New(f, keys.DefaultKeyMap(), 100, 10)
	m, _ = press(m, 'j')
	require.Equal(t, uint32(1), m.Cursor())

	sp := f.Index().SortParams()
	sp.Reverse = true
	require.True(t, f.SetSortOrder(sp))
	m.Refresh()

	assert.Equal(t, uint32(2), m.Cursor(), "message 2 moved to position 2")
}
