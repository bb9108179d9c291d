package email

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"

	"github.com/nhle/mlist/internal/model"
)

func TestToHeader(t *testing.T) {
	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		SeqNum:     4,
		UID:        120,
		RFC822Size: 2048,
		Flags:      []imap.Flag{imap.FlagSeen, imap.FlagFlagged},
		Envelope: &imap.Envelope{
			Date:      date,
			Subject:   "Re: build failure",
			MessageID: "abc@example.com",
			InReplyTo: []string{"parent@example.com"},
			From:      []imap.Address{{Name: "Ann", Mailbox: "ann", Host: "example.com"}},
			To: []imap.Address{
				{Mailbox: "dev", Host: "lists.example.com"},
				{Name: "Bob", Mailbox: "bob", Host: "example.com"},
			},
		},
	}
	raw := []byte("References: <root@example.com>\r\n <parent@example.com>\r\nNewsgroups: comp.lang.go\r\n\r\n")

	h := toHeader(buf, raw)

	assert.Equal(t, uint32(4), h.SeqNum)
	assert.Equal(t, uint64(120), h.UID)
	assert.Equal(t, uint64(2048), h.Size)
	assert.Equal(t, model.StatusSeen|model.StatusFlagged, h.Status)
	assert.Equal(t, "Re: build failure", h.Subject)
	assert.Equal(t, "<abc@example.com>", h.MessageID)
	assert.Equal(t, "<parent@example.com>", h.InReplyTo)
	assert.Equal(t, "Ann <ann@example.com>", h.From)
	assert.Equal(t, "dev@lists.example.com, Bob <bob@example.com>", h.To)
	assert.Equal(t, "<root@example.com> <parent@example.com>", h.References)
	assert.Equal(t, "comp.lang.go", h.Newsgroups)
	assert.True(t, h.Date.Equal(date))
	assert.True(t, h.IsValid())
}

func TestToHeader_WithoutEnvelope(t *testing.T) {
	internal := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	h := toHeader(&imapclient.FetchMessageBuffer{SeqNum: 1, InternalDate: internal}, nil)

	assert.Equal(t, model.UIDIllegal, h.UID)
	assert.True(t, h.Date.Equal(internal))
	assert.Empty(t, h.References)
	assert.Empty(t, h.MessageID)
}

func TestStatusFromFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags []imap.Flag
		want  model.Status
	}{
		{"none", nil, 0},
		{"answered deleted", []imap.Flag{imap.FlagAnswered, imap.FlagDeleted}, model.StatusAnswered | model.StatusDeleted},
		{"recent", []imap.Flag{`\Recent`, "$Junk"}, model.StatusRecent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFromFlags(tt.flags))
		})
	}
}

func TestBracketAll(t *testing.T) {
	assert.Equal(t, "<a@x> <b@y>", bracketAll([]string{"a@x", " <b@y> ", ""}))
	assert.Empty(t, bracketAll(nil))
}

func TestParseExtraHeaders_Malformed(t *testing.T) {
	refs, ng := parseExtraHeaders([]byte("References: not-an-id\r\n\r\n"))
	assert.Equal(t, "not-an-id", refs)
	assert.Empty(t, ng)
}
