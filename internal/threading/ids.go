package threading

import "slices"

// MessageID returns the first well-formed "<local@domain>" token of raw,
// or "" if there is none.
func MessageID(raw string) string {
	ids := extractIDs(raw, 1)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// References returns the reference chain of a message, oldest ancestor
// first, built from its References and In-Reply-To headers. In-Reply-To
// is considered last. A reference that occurs more than once is kept at
// its last position only.
func References(refs, inReplyTo string) []string {
	all := extractIDs(refs, -1)
	all = append(all, extractIDs(inReplyTo, -1)...)
	if len(all) < 2 {
		return all
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if _, dup := seen[all[i]]; dup {
			continue
		}
		seen[all[i]] = struct{}{}
		out = append(out, all[i])
	}
	slices.Reverse(out)
	return out
}

// extractIDs scans s for "<...@...>" tokens and returns at most limit of
// them (all of them if limit < 0). Tokens without an '@' are skipped and
// a '<' inside a token restarts it, so garbage between ids is ignored.
func extractIDs(s string, limit int) []string {
	var ids []string
	start := -1
	haveAt := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			start = i
			haveAt = false
		case '@':
			if start >= 0 {
				haveAt = true
			}
		case '>':
			if start >= 0 && haveAt && i-start > 2 {
				ids = append(ids, s[start:i+1])
				if limit > 0 && len(ids) == limit {
					return ids
				}
			}
			start = -1
			haveAt = false
		case ' ', '\t', '\r', '\n':
			// Folded headers may break lines between ids but never
			// inside one.
			start = -1
			haveAt = false
		}
	}
	return ids
}
