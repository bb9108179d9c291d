package threading

import (
	"regexp"
	"strings"

	"github.com/nhle/mlist/internal/model"
)

// Simplifier reduces subjects to the form used to compare them.
type Simplifier struct {
	re               *regexp.Regexp
	replacement      string
	removeListPrefix bool
}

// NewSimplifier returns a Simplifier for the given options. A configured
// regex that does not compile is ignored in favour of the built-in rules;
// callers that care should run ThreadParams.Validate first.
func NewSimplifier(params model.ThreadParams) *Simplifier {
	s := &Simplifier{
		replacement:      params.ReplacementString,
		removeListPrefix: params.RemoveListPrefix,
	}
	if params.SimplifyingRegex != "" {
		if re, err := regexp.Compile(params.SimplifyingRegex); err == nil {
			s.re = re
		}
	}
	return s
}

// Simplify returns the simplified subject and whether it was a reply.
//
// With a regex, only its first match is replaced and the subject counts
// as a reply when that changed its length.
func (s *Simplifier) Simplify(subject string) (string, bool) {
	if s == nil {
		return SimplifySubject(subject, false)
	}
	if s.re == nil {
		return SimplifySubject(subject, s.removeListPrefix)
	}

	loc := s.re.FindStringSubmatchIndex(subject)
	if loc == nil {
		return strings.TrimSpace(subject), false
	}
	var b []byte
	b = append(b, subject[:loc[0]]...)
	b = s.re.ExpandString(b, s.replacement, subject, loc)
	b = append(b, subject[loc[1]:]...)
	out := string(b)
	return strings.TrimSpace(out), len(out) != len(subject)
}

// SimplifySubject strips leading reply markers ("Re:", "RE[2]:",
// "re(3):") and takes out the first "[ListName]" token found among them.
// The list token is put back in front of the result unless
// removeListPrefix is set. isReply reports whether at least one reply
// marker was stripped.
//
// The result is stable: simplifying it again returns it unchanged.
func SimplifySubject(subject string, removeListPrefix bool) (simplified string, isReply bool) {
	rest := subject
	list := ""
	for {
		rest = strings.TrimLeft(rest, " \t")
		if n := replyMarkerLen(rest); n > 0 {
			rest = rest[n:]
			isReply = true
			continue
		}
		if n := listTokenLen(rest); n > 0 {
			if list == "" {
				list = rest[:n]
				rest = rest[n:]
				continue
			}
			// The same list tag repeated after a reply marker.
			if strings.EqualFold(list, rest[:n]) {
				rest = rest[n:]
				continue
			}
		}
		break
	}

	rest = strings.TrimSpace(rest)
	if list == "" || removeListPrefix {
		return rest, isReply
	}
	if rest == "" {
		return list, isReply
	}
	return list + " " + rest, isReply
}

// replyMarkerLen returns the length of a reply marker at the start of s,
// or 0.
func replyMarkerLen(s string) int {
	if len(s) < 3 || !strings.EqualFold(s[:2], "re") {
		return 0
	}
	i := 2
	if s[i] == '[' || s[i] == '(' {
		closer := byte(']')
		if s[i] == '(' {
			closer = ')'
		}
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j == i+1 || j >= len(s) || s[j] != closer {
			return 0
		}
		i = j + 1
	}
	if i >= len(s) || s[i] != ':' {
		return 0
	}
	i++
	if i < len(s) && s[i] == ' ' {
		i++
	}
	return i
}

// listTokenLen returns the length of a "[name]" token at the start of s,
// or 0.
func listTokenLen(s string) int {
	if len(s) < 3 || s[0] != '[' {
		return 0
	}
	end := strings.IndexByte(s, ']')
	if end < 2 {
		return 0
	}
	if strings.ContainsAny(s[1:end], "[ \t") {
		return 0
	}
	return end + 1
}
