package email

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/mlist/internal/model"
)

// headerSection asks for the header fields the envelope lacks.
var headerSection = &imap.FetchItemBodySection{
	Specifier:    imap.PartSpecifierHeader,
	HeaderFields: []string{"References", "Newsgroups"},
	Peek:         true,
}

var fetchOptions = &imap.FetchOptions{
	Envelope:     true,
	Flags:        true,
	UID:          true,
	RFC822Size:   true,
	InternalDate: true,
	BodySection:  []*imap.FetchItemBodySection{headerSection},
}

const flagRecent imap.Flag = `\Recent`

// toHeader converts a fetched message. raw is the fetched header
// section, possibly nil.
func toHeader(buf *imapclient.FetchMessageBuffer, raw []byte) model.Header {
	h := model.Header{
		SeqNum: buf.SeqNum,
		UID:    uint64(buf.UID),
		Size:   uint64(max(buf.RFC822Size, 0)),
		Date:   buf.InternalDate,
		Status: statusFromFlags(buf.Flags),
	}
	if buf.UID == 0 {
		h.UID = model.UIDIllegal
	}

	if env := buf.Envelope; env != nil {
		h.Subject = env.Subject
		h.MessageID = bracket(env.MessageID)
		h.InReplyTo = bracketAll(env.InReplyTo)
		if !env.Date.IsZero() {
			h.Date = env.Date
		}
		if len(env.From) > 0 {
			h.From = formatAddress(env.From[0])
		}
		to := make([]string, 0, len(env.To))
		for _, a := range env.To {
			to = append(to, formatAddress(a))
		}
		h.To = strings.Join(to, ", ")
	}

	if len(raw) > 0 {
		h.References, h.Newsgroups = parseExtraHeaders(raw)
	}
	return h
}

// parseExtraHeaders reads References and Newsgroups from a header
// block.
func parseExtraHeaders(raw []byte) (refs, newsgroups string) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return "", ""
	}
	mh := mail.Header{Header: message.Header{Header: th}}

	if ids, err := mh.MsgIDList("References"); err == nil {
		refs = bracketAll(ids)
	} else {
		refs = strings.TrimSpace(mh.Get("References"))
	}
	if ng, err := mh.Text("Newsgroups"); err == nil {
		newsgroups = strings.TrimSpace(ng)
	}
	return refs, newsgroups
}

func statusFromFlags(flags []imap.Flag) model.Status {
	var s model.Status
	for _, f := range flags {
		switch f {
		case imap.FlagSeen:
			s |= model.StatusSeen
		case imap.FlagDeleted:
			s |= model.StatusDeleted
		case imap.FlagAnswered:
			s |= model.StatusAnswered
		case imap.FlagFlagged:
			s |= model.StatusFlagged
		case flagRecent:
			s |= model.StatusRecent
		}
	}
	return s
}

func formatAddress(a imap.Address) string {
	addr := a.Addr()
	if a.Name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", a.Name, addr)
}

func bracket(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}

func bracketAll(ids []string) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = bracket(id); id != "" {
			out = append(out, id)
		}
	}
	return strings.Join(out, " ")
}
