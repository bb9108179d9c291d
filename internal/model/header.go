package model

import (
	"math"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Status is the bitset of per-message status flags.
type Status uint8

// Status flags as reported by the folder layer.
const (
	StatusSeen Status = 1 << iota
	StatusDeleted
	StatusAnswered
	StatusRecent
	StatusSearched
	StatusFlagged
)

// Has reports whether all bits of flag are set in s.
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

// String returns a compact representation, one letter per set flag
// (e.g. "SA" for seen and answered).
func (s Status) String() string {
	var b strings.Builder
	for _, f := range []struct {
		flag Status
		c    byte
	}{
		{StatusSeen, 'S'},
		{StatusDeleted, 'D'},
		{StatusAnswered, 'A'},
		{StatusRecent, 'R'},
		{StatusSearched, 'F'},
		{StatusFlagged, '*'},
	} {
		if s.Has(f.flag) {
			b.WriteByte(f.c)
		}
	}
	return b.String()
}

// UIDIllegal marks a header whose envelope has not been retrieved yet.
const UIDIllegal uint64 = math.MaxUint64

// HeaderKind tells which header FromOrTo returned.
type HeaderKind int

const (
	KindInvalid HeaderKind = iota
	KindFrom
	KindTo
	KindNewsgroup
)

// Header is the envelope snapshot of one message in a folder listing.
type Header struct {
	// Subject is the MIME-decoded subject line.
	Subject string `json:"subject"`

	// From, To and Newsgroups are display strings of the corresponding
	// headers.
	From       string `json:"from"`
	To         string `json:"to"`
	Newsgroups string `json:"newsgroups"`

	// MessageID is the raw Message-ID header.
	MessageID string `json:"message_id"`

	// References is the raw, unparsed References header.
	References string `json:"references"`

	// InReplyTo is the raw In-Reply-To header.
	InReplyTo string `json:"in_reply_to"`

	Date   time.Time `json:"date"`
	Status Status    `json:"status"`

	// Size is the message size in bytes, Lines its size in lines.
	Size  uint64 `json:"size"`
	Lines uint32 `json:"lines"`

	// SeqNum is the 1-based position of the message in the folder as
	// the transport layer sees it. It changes when earlier messages are
	// expunged.
	SeqNum uint32 `json:"seq_num"`

	// UID is stable for the lifetime of the message in the folder.
	// UIDIllegal means the envelope was not retrieved yet.
	UID uint64 `json:"uid"`
}

// Placeholder returns an unpopulated header for the given sequence number.
func Placeholder(seq uint32) Header {
	return Header{SeqNum: seq, UID: UIDIllegal}
}

// IsValid reports whether the envelope data has been retrieved.
func (h *Header) IsValid() bool {
	return h.UID != UIDIllegal
}

// FromOrTo returns the sender of the message, or its recipient if the
// sender is one of ownAddresses, so that one's own sent messages are
// shown by the person they were sent to. Passing no addresses disables
// the replacement.
func (h *Header) FromOrTo(ownAddresses []string) (string, HeaderKind) {
	if !h.IsValid() {
		return "", KindInvalid
	}

	if len(ownAddresses) == 0 || !isOwnAddress(h.From, ownAddresses) {
		return h.From, KindFrom
	}

	if h.To != "" {
		return h.To, KindTo
	}
	if h.Newsgroups != "" {
		return h.Newsgroups, KindNewsgroup
	}

	return h.From, KindFrom
}

// isOwnAddress reports whether the address in from matches one of own,
// ignoring case and display names.
func isOwnAddress(from string, own []string) bool {
	addr := bareAddress(from)
	if addr == "" {
		return false
	}
	for _, o := range own {
		if strings.EqualFold(addr, bareAddress(o)) {
			return true
		}
	}
	return false
}

// bareAddress extracts "user@host" from an address header value.
func bareAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr == nil {
		return strings.Trim(value, "<>")
	}
	return addr.Address
}
