package model

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// SortKey identifies a single sorting criterion.
type SortKey int

const (
	// SortNone keeps the arrival order.
	SortNone SortKey = iota
	SortDate
	SortSubject
	// SortSender sorts by sender, or by recipient for one's own messages.
	SortSender
	// SortStatus sorts deleted < answered < unread < new.
	SortStatus
	SortScore
	SortSize
)

var sortKeyNames = map[SortKey]string{
	SortNone:    "none",
	SortDate:    "date",
	SortSubject: "subject",
	SortSender:  "sender",
	SortStatus:  "status",
	SortScore:   "score",
	SortSize:    "size",
}

// String returns the configuration name of the key.
func (k SortKey) String() string {
	if name, ok := sortKeyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SortKey(%d)", int(k))
}

// SortCriterion is one key of a (possibly multi-key) sort order.
type SortCriterion struct {
	Key     SortKey `mapstructure:"key" yaml:"key"`
	Reverse bool    `mapstructure:"reverse" yaml:"reverse"`
}

// String renders the criterion as used in the config file,
// e.g. "date" or "date-rev".
func (c SortCriterion) String() string {
	if c.Reverse {
		return c.Key.String() + "-rev"
	}
	return c.Key.String()
}

// ParseSortCriterion parses "date", "subject-rev" and the like. The old
// name "author" is accepted for "sender".
func ParseSortCriterion(s string) (SortCriterion, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	var c SortCriterion
	if strings.HasSuffix(name, "-rev") {
		c.Reverse = true
		name = strings.TrimSuffix(name, "-rev")
	}
	if name == "author" {
		name = "sender"
	}
	for k, n := range sortKeyNames {
		if n == name {
			c.Key = k
			return c, nil
		}
	}
	return SortCriterion{}, fmt.Errorf("unknown sort criterion %q", s)
}

// maxPackedCriteria is how many criteria fit in a packed sort order.
const maxPackedCriteria = 8

// BuildSortOrder packs up to 8 criteria into one value, 4 bits each,
// first criterion in the lowest bits. Extra criteria are ignored.
func BuildSortOrder(criteria []SortCriterion) uint32 {
	n := min(len(criteria), maxPackedCriteria)
	var packed uint32
	for i := n - 1; i >= 0; i-- {
		v := uint32(criteria[i].Key) << 1
		if criteria[i].Reverse {
			v |= 1
		}
		packed = packed<<4 | v
	}
	return packed
}

// SplitSortOrder is the inverse of BuildSortOrder.
func SplitSortOrder(packed uint32) []SortCriterion {
	var criteria []SortCriterion
	for packed != 0 {
		v := packed & 0xF
		criteria = append(criteria, SortCriterion{
			Key:     SortKey(v >> 1),
			Reverse: v&1 != 0,
		})
		packed >>= 4
	}
	return criteria
}

// SortParams holds everything that determines the sorted order.
type SortParams struct {
	// Criteria are compared in order; ties fall through to the next one
	// and finally to the ascending sequence number.
	Criteria []SortCriterion

	// Reverse flips the final listing. It does not reverse the
	// tie-breaking order of equal messages.
	Reverse bool

	// DetectOwnAddresses enables sorting one's own messages by recipient.
	DetectOwnAddresses bool
	OwnAddresses       []string
}

// IsSorting reports whether any criterion other than arrival order is set.
func (p SortParams) IsSorting() bool {
	for _, c := range p.Criteria {
		if c.Key != SortNone || c.Reverse {
			return true
		}
	}
	return false
}

// Uses reports whether key is one of the criteria.
func (p SortParams) Uses(key SortKey) bool {
	return slices.ContainsFunc(p.Criteria, func(c SortCriterion) bool {
		return c.Key == key
	})
}

// Clone returns a deep copy.
func (p SortParams) Clone() SortParams {
	p.Criteria = slices.Clone(p.Criteria)
	p.OwnAddresses = slices.Clone(p.OwnAddresses)
	return p
}

// effective strips settings that cannot influence the resulting order.
func (p SortParams) effective() SortParams {
	var out SortParams
	for _, c := range p.Criteria {
		if c.Key == SortNone && !c.Reverse {
			continue
		}
		out.Criteria = append(out.Criteria, c)
	}
	out.Reverse = p.Reverse
	if p.DetectOwnAddresses && out.Uses(SortSender) {
		out.DetectOwnAddresses = true
		out.OwnAddresses = p.OwnAddresses
	}
	return out
}

// SameOrder reports whether p and other produce the same listing.
func (p SortParams) SameOrder(other SortParams) bool {
	a, b := p.effective(), other.effective()
	return a.Reverse == b.Reverse && a.sameCriteria(b)
}

// Equal is SameOrder.
func (p SortParams) Equal(other SortParams) bool {
	return p.SameOrder(other)
}

// SameOrderIgnoringReverse is SameOrder without looking at Reverse.
func (p SortParams) SameOrderIgnoringReverse(other SortParams) bool {
	return p.effective().sameCriteria(other.effective())
}

func (p SortParams) sameCriteria(other SortParams) bool {
	return slices.Equal(p.Criteria, other.Criteria) &&
		p.DetectOwnAddresses == other.DetectOwnAddresses &&
		slices.Equal(p.OwnAddresses, other.OwnAddresses)
}

// ThreadParams holds all threading options.
type ThreadParams struct {
	// UseThreading turns threading on; all other fields are ignored
	// when it is false.
	UseThreading bool

	// GatherSubjects merges threads with the same simplified subject
	// even when no references link them.
	GatherSubjects bool

	// BreakThreads detaches a message from its parent when its
	// simplified subject differs from the parent's.
	BreakThreads bool

	// IndentIfDummyNode makes a missing ancestor consume an indentation
	// level.
	IndentIfDummyNode bool

	// RemoveListPrefix strips one leading "[ListName]" when comparing
	// subjects with the built-in simplifier.
	RemoveListPrefix bool

	// SimplifyingRegex, if set, replaces the built-in simplifier: its
	// first match is replaced with ReplacementString (Go regexp
	// expansion syntax, e.g. "$1").
	SimplifyingRegex  string
	ReplacementString string
}

// Equal compares two sets of threading options.
func (p ThreadParams) Equal(other ThreadParams) bool {
	if p.UseThreading != other.UseThreading {
		return false
	}
	if !p.UseThreading {
		return true
	}
	return p == other
}

// Validate checks that the simplifying regex compiles.
func (p ThreadParams) Validate() error {
	if p.SimplifyingRegex == "" {
		return nil
	}
	if _, err := regexp.Compile(p.SimplifyingRegex); err != nil {
		return fmt.Errorf("compiling simplifying regex: %w", err)
	}
	return nil
}
