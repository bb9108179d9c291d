// Package sorting orders the messages of a folder by one or more
// criteria.
package sorting

import (
	"cmp"
	"slices"

	"golang.org/x/text/cases"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/threading"
)

// Scorer returns the externally assigned score of a message.
type Scorer func(h *model.Header) int64

type options struct {
	scorer     Scorer
	simplifier *threading.Simplifier
}

// Option configures Sort.
type Option func(*options)

// WithScorer sets the source of scores for SortScore. Without it all
// messages score 0.
func WithScorer(s Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// WithSimplifier makes subject sorting use the given simplifier, so the
// listing groups subjects the same way threading does.
func WithSimplifier(s *threading.Simplifier) Option {
	return func(o *options) { o.simplifier = s }
}

// Sort returns the sequence numbers of headers ordered by
// params.Criteria, where headers[i] has sequence number i+1. Messages
// that compare equal keep ascending sequence order. params.Reverse is
// not applied here; see ReverseStable.
//
// Unpopulated headers come before all populated ones.
func Sort(headers []model.Header, params model.SortParams, opts ...Option) []uint32 {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	perm := make([]uint32, len(headers))
	for i := range perm {
		perm[i] = uint32(i + 1)
	}
	if !params.IsSorting() {
		return perm
	}

	slices.SortStableFunc(perm, newComparator(headers, params, &o))
	return perm
}

// ReverseStable turns the result of Sort into descending order while
// keeping messages that compare equal in ascending sequence order. It
// is its own inverse, so flipping a reversed listing back works the same
// way. Without any sort criteria it is a plain Reverse.
func ReverseStable(headers []model.Header, params model.SortParams, perm []uint32, opts ...Option) {
	slices.Reverse(perm)
	if !params.IsSorting() {
		return
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	compare := newComparator(headers, params, &o)
	for start := 0; start < len(perm); {
		end := start + 1
		for end < len(perm) && compare(perm[start], perm[end]) == 0 {
			end++
		}
		slices.Reverse(perm[start:end])
		start = end
	}
}

func newComparator(headers []model.Header, params model.SortParams, o *options) func(a, b uint32) int {
	keys := newKeyCache(headers, params, o)
	return func(a, b uint32) int {
		ha, hb := &headers[a-1], &headers[b-1]
		va, vb := ha.IsValid(), hb.IsValid()
		if !va || !vb {
			switch {
			case va == vb:
				return 0
			case !va:
				return -1
			default:
				return 1
			}
		}

		for _, c := range params.Criteria {
			r := keys.compare(c.Key, a, b)
			if c.Reverse {
				r = -r
			}
			if r != 0 {
				return r
			}
		}
		return 0
	}
}

// Reverse flips perm in place.
func Reverse(perm []uint32) {
	slices.Reverse(perm)
}

// statusRank orders deleted < answered < read < unread < new; flagged
// messages rank above unflagged ones with the same state.
func statusRank(s model.Status) int {
	if s.Has(model.StatusDeleted) {
		return -100
	}
	rank := 0
	if s.Has(model.StatusRecent) {
		rank += 2
	}
	if !s.Has(model.StatusSeen) {
		rank += 3
	}
	if s.Has(model.StatusFlagged) {
		rank += 4
	}
	if s.Has(model.StatusAnswered) {
		rank--
	}
	return rank
}

// CompareStatus compares two status sets by rank.
func CompareStatus(a, b model.Status) int {
	return cmp.Compare(statusRank(a), statusRank(b))
}

// FromOrTo returns the header to show as the correspondent of h. With
// detect set and the sender being one of own, that is the recipient.
func FromOrTo(h *model.Header, detect bool, own []string) (string, model.HeaderKind) {
	if !detect {
		return h.FromOrTo(nil)
	}
	return h.FromOrTo(own)
}

// keyCache computes string keys once per message instead of once per
// comparison.
type keyCache struct {
	headers  []model.Header
	subjects []string
	senders  []string
	scores   []int64
}

func newKeyCache(headers []model.Header, params model.SortParams, o *options) *keyCache {
	k := &keyCache{headers: headers}
	fold := cases.Fold()

	if params.Uses(model.SortSubject) {
		k.subjects = make([]string, len(headers))
		for i := range headers {
			subj, _ := o.simplifier.Simplify(headers[i].Subject)
			k.subjects[i] = fold.String(subj)
		}
	}
	if params.Uses(model.SortSender) {
		k.senders = make([]string, len(headers))
		for i := range headers {
			s, _ := FromOrTo(&headers[i], params.DetectOwnAddresses, params.OwnAddresses)
			k.senders[i] = fold.String(s)
		}
	}
	if params.Uses(model.SortScore) && o.scorer != nil {
		k.scores = make([]int64, len(headers))
		for i := range headers {
			k.scores[i] = o.scorer(&headers[i])
		}
	}
	return k
}

func (k *keyCache) compare(key model.SortKey, a, b uint32) int {
	ha, hb := &k.headers[a-1], &k.headers[b-1]
	switch key {
	case model.SortDate:
		return ha.Date.Compare(hb.Date)
	case model.SortSubject:
		return cmp.Compare(k.subjects[a-1], k.subjects[b-1])
	case model.SortSender:
		return cmp.Compare(k.senders[a-1], k.senders[b-1])
	case model.SortStatus:
		return CompareStatus(ha.Status, hb.Status)
	case model.SortScore:
		if k.scores == nil {
			return 0
		}
		return cmp.Compare(k.scores[a-1], k.scores[b-1])
	case model.SortSize:
		return cmp.Compare(ha.Size, hb.Size)
	default:
		return cmp.Compare(a, b)
	}
}
