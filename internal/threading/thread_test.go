package threading

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mlist/internal/model"
)

type msg struct {
	id, subject, refs, inReplyTo string
}

func headersOf(msgs ...msg) []model.Header {
	out := make([]model.Header, len(msgs))
	for i, m := range msgs {
		out[i] = model.Header{
			MessageID:  m.id,
			Subject:    m.subject,
			References: m.refs,
			InReplyTo:  m.inReplyTo,
			SeqNum:     uint32(i + 1),
			UID:        uint64(100 + i),
		}
	}
	return out
}

// checkForest asserts that every message appears exactly once and that
// the node links cannot loop.
func checkForest(t *testing.T, f *Forest, n int) {
	t.Helper()

	require.Len(t, f.Order, n)
	seen := make(map[uint32]bool, n)
	for _, seq := range f.Order {
		require.False(t, seen[seq], "seq %d listed twice", seq)
		seen[seq] = true
	}

	visited := make(map[int]bool)
	stack := []int{f.Root}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for ; h != NoNode; h = f.Nodes[h].Next {
			require.False(t, visited[h], "node %d reached twice", h)
			visited[h] = true
			stack = append(stack, f.Nodes[h].Child)
		}
	}
	assert.Len(t, visited, len(f.Nodes))
}

var threadOn = model.ThreadParams{UseThreading: true}

func TestThreadGathersRepliesBySubject(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "Test"},
		msg{id: "<2@x>", subject: "Re: Test"},
		msg{id: "<3@x>", subject: "Re: Re: Test"},
	)
	params := threadOn
	params.GatherSubjects = true

	f, err := Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, f, 3)

	assert.Equal(t, []uint32{1, 2, 3}, f.Order)
	assert.Equal(t, []uint32{0, 1, 1}, f.Indent)
	assert.Equal(t, uint32(2), f.Children[0])
	assert.Equal(t, uint32(1), f.Nodes[f.Root].Seq)
	assert.Equal(t, uint32(2), f.Child[0])
	assert.Equal(t, uint32(3), f.Next[1])

	replies := 0
	for _, h := range headers {
		if _, reply := SimplifySubject(h.Subject, false); reply {
			replies++
		}
	}
	assert.Equal(t, 2, replies)
}

func TestThreadWithoutGatherKeepsUnlinkedSubjectsApart(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "Test"},
		msg{id: "<2@x>", subject: "Re: Test"},
	)

	f, err := Thread(headers, nil, threadOn)
	require.NoError(t, err)
	checkForest(t, f, 2)
	assert.Equal(t, []uint32{0, 0}, f.Indent)
}

func TestThreadFollowsReferenceChain(t *testing.T) {
	headers := headersOf(
		msg{id: "<a@x>", subject: "Re: topic", refs: "<1@x> <2@x>"},
		msg{id: "<2@x>", subject: "Re: topic", refs: "<1@x>"},
		msg{id: "<1@x>", subject: "topic"},
	)

	f, err := Thread(headers, nil, threadOn)
	require.NoError(t, err)
	checkForest(t, f, 3)

	assert.Equal(t, []uint32{3, 2, 1}, f.Order)
	assert.Equal(t, uint32(2), f.Indent[0])
	assert.Equal(t, uint32(1), f.Indent[1])
	assert.Equal(t, uint32(0), f.Indent[2])
	assert.Equal(t, uint32(2), f.Child[2])
	assert.Equal(t, uint32(1), f.Child[1])
	assert.Equal(t, uint32(2), f.Children[2])
}

func TestThreadPlaceholderIsUnparentedRoot(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "one"},
		msg{id: "<2@x>", subject: "Re: one", refs: "<1@x>"},
		msg{},
		msg{id: "<4@x>", subject: "Re: one", refs: "<1@x> <2@x>"},
		msg{id: "<5@x>", subject: "five"},
	)
	headers[2] = model.Placeholder(3)

	params := threadOn
	params.GatherSubjects = true
	params.BreakThreads = true

	f, err := Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, f, 5)

	assert.Equal(t, []uint32{1, 2, 4, 3, 5}, f.Order)
	assert.Equal(t, uint32(0), f.Indent[2])
	assert.Equal(t, uint32(2), f.Indent[3])
	assert.Equal(t, uint32(0), f.Children[2])
}

func TestThreadDummyGroupsSiblings(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "a", refs: "<p@x>"},
		msg{id: "<2@x>", subject: "b", inReplyTo: "<p@x>"},
	)

	tests := []struct {
		name   string
		indent bool
		want   []uint32
	}{
		{"dummy not indented", false, []uint32{0, 0}},
		{"dummy indented", true, []uint32{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := threadOn
			params.IndentIfDummyNode = tt.indent

			f, err := Thread(headers, nil, params)
			require.NoError(t, err)
			checkForest(t, f, 2)

			assert.Equal(t, tt.want, f.Indent)
			root := f.Nodes[f.Root]
			assert.Equal(t, uint32(0), root.Seq)
			assert.Equal(t, uint32(1), f.Nodes[root.Child].Seq)
			assert.Equal(t, uint32(2), f.Next[0])
		})
	}
}

func TestThreadSplicesDummyWithOneChild(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "a", refs: "<p@x> <q@x>"},
	)

	f, err := Thread(headers, nil, model.ThreadParams{UseThreading: true, IndentIfDummyNode: true})
	require.NoError(t, err)
	checkForest(t, f, 1)

	require.Len(t, f.Nodes, 1)
	assert.Equal(t, uint32(0), f.Indent[0])
}

func TestThreadDuplicateMessageID(t *testing.T) {
	headers := headersOf(
		msg{id: "<d@x>", subject: "first"},
		msg{id: "<d@x>", subject: "second"},
		msg{id: "<3@x>", subject: "Re: first", refs: "<d@x>"},
	)

	f, err := Thread(headers, nil, threadOn)
	require.NoError(t, err)
	checkForest(t, f, 3)

	assert.Equal(t, []uint32{1, 3, 2}, f.Order)
	assert.Equal(t, uint32(3), f.Child[0])
	assert.Equal(t, uint32(0), f.Indent[1])
}

func TestThreadIgnoresCycles(t *testing.T) {
	headers := headersOf(
		msg{id: "<a@x>", subject: "a", refs: "<b@x>"},
		msg{id: "<b@x>", subject: "b", refs: "<a@x>"},
		msg{id: "<c@x>", subject: "c", refs: "<c@x>"},
	)

	f, err := Thread(headers, nil, threadOn)
	require.NoError(t, err)
	checkForest(t, f, 3)

	assert.Equal(t, []uint32{2, 1, 3}, f.Order)
	assert.Equal(t, uint32(1), f.Indent[0])
	assert.Equal(t, uint32(0), f.Indent[2])
}

func TestThreadFirstSeenParentWins(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "x", refs: "<a@x> <b@x>"},
		msg{id: "<2@x>", subject: "x", refs: "<c@x> <b@x>"},
	)

	f, err := Thread(headers, nil, threadOn)
	require.NoError(t, err)
	checkForest(t, f, 2)

	// <b@x> stays below <a@x>; both messages share the dummy for <a@x>.
	root := f.Nodes[f.Root]
	assert.Equal(t, uint32(0), root.Seq)
	assert.Equal(t, NoNode, root.Next)
	assert.Equal(t, []uint32{0, 0}, f.Indent)
}

func TestThreadBreaksOnSubjectChange(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "Apples"},
		msg{id: "<2@x>", subject: "Re: Apples", refs: "<1@x>"},
		msg{id: "<3@x>", subject: "Pears", refs: "<1@x> <2@x>"},
	)

	f, err := Thread(headers, nil, threadOn)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), f.Indent[2])
	assert.Equal(t, uint32(2), f.Children[0])

	params := threadOn
	params.BreakThreads = true
	f, err = Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, f, 3)

	assert.Equal(t, []uint32{1, 2, 3}, f.Order)
	assert.Equal(t, uint32(0), f.Indent[2])
	assert.Equal(t, uint32(1), f.Children[0])
	assert.Equal(t, uint32(3), f.Next[0])
}

func TestThreadBreaksBelowMissingAncestor(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "Foo", refs: "<missing@x>"},
		msg{id: "<2@x>", subject: "Bar", refs: "<missing@x>"},
	)

	params := threadOn
	params.BreakThreads = true
	params.IndentIfDummyNode = true
	f, err := Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, f, 2)

	assert.Equal(t, []uint32{0, 0}, f.Indent)
	for _, n := range f.Nodes {
		assert.NotZero(t, n.Seq, "no empty container may survive")
	}
}

func TestThreadBreaksReplyWithEmptySubject(t *testing.T) {
	headers := headersOf(
		msg{id: "<a@x>", subject: "Foo"},
		msg{id: "<b@x>", subject: "", refs: "<a@x>"},
	)

	params := threadOn
	params.BreakThreads = true
	f, err := Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, f, 2)

	assert.Equal(t, []uint32{0, 0}, f.Indent)
	assert.Equal(t, uint32(0), f.Child[0])
}

func TestThreadSiblingsFollowInputOrder(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "root"},
		msg{id: "<2@x>", subject: "Re: root", refs: "<1@x>"},
		msg{id: "<3@x>", subject: "Re: root", refs: "<1@x>"},
	)

	f, err := Thread(headers, []uint32{3, 2, 1}, threadOn)
	require.NoError(t, err)
	checkForest(t, f, 3)
	assert.Equal(t, []uint32{1, 3, 2}, f.Order)
}

func TestThreadGatherNonReplyBecomesParent(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "Re: Topic"},
		msg{id: "<2@x>", subject: "Topic"},
	)
	params := threadOn
	params.GatherSubjects = true

	f, err := Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, f, 2)
	assert.Equal(t, []uint32{2, 1}, f.Order)
	assert.Equal(t, uint32(1), f.Indent[0])
}

func TestThreadGatherEqualSubjectsUnderDummy(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "Topic"},
		msg{id: "<2@x>", subject: "Topic"},
		msg{id: "<3@x>", subject: "   "},
		msg{id: "<4@x>", subject: ""},
	)
	params := threadOn
	params.GatherSubjects = true

	f, err := Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, f, 4)

	assert.Equal(t, []uint32{1, 2, 3, 4}, f.Order)
	assert.Equal(t, []uint32{0, 0, 0, 0}, f.Indent)
	assert.Equal(t, uint32(0), f.Nodes[f.Root].Seq)
	// The blank subjects stay single threads.
	assert.Len(t, f.Nodes, 5)
}

func TestThreadRegexSimplifier(t *testing.T) {
	headers := headersOf(
		msg{id: "<1@x>", subject: "Topic"},
		msg{id: "<2@x>", subject: "AW: Topic"},
	)
	params := threadOn
	params.GatherSubjects = true
	params.SimplifyingRegex = `^(?i)aw:\s*`

	f, err := Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, f, 2)
	assert.Equal(t, []uint32{0, 1}, f.Indent)
}

func TestThreadDeterministic(t *testing.T) {
	var msgs []msg
	for i := 1; i <= 60; i++ {
		m := msg{id: fmt.Sprintf("<%d@x>", i), subject: fmt.Sprintf("subject %d", i%7)}
		if i%3 != 0 {
			m.refs = fmt.Sprintf("<%d@x>", i/2)
			m.subject = "Re: " + m.subject
		}
		msgs = append(msgs, m)
	}
	headers := headersOf(msgs...)
	params := model.ThreadParams{UseThreading: true, GatherSubjects: true, BreakThreads: true}

	first, err := Thread(headers, nil, params)
	require.NoError(t, err)
	checkForest(t, first, len(headers))

	for range 5 {
		again, err := Thread(headers, nil, params)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestThreadTooDeep(t *testing.T) {
	saved := maxDepth
	maxDepth = 10
	t.Cleanup(func() { maxDepth = saved })

	var msgs []msg
	for i := 1; i <= 20; i++ {
		m := msg{id: fmt.Sprintf("<%d@x>", i), subject: "chain"}
		if i > 1 {
			m.inReplyTo = fmt.Sprintf("<%d@x>", i-1)
		}
		msgs = append(msgs, m)
	}

	f, err := Thread(headersOf(msgs...), nil, threadOn)
	require.ErrorIs(t, err, ErrTooDeep)
	assert.Nil(t, f)
}

func TestThreadRejectsBadOrder(t *testing.T) {
	headers := headersOf(msg{id: "<1@x>"}, msg{id: "<2@x>"})

	_, err := Thread(headers, []uint32{1}, threadOn)
	assert.Error(t, err)
	_, err = Thread(headers, []uint32{1, 1}, threadOn)
	assert.Error(t, err)
	_, err = Thread(headers, []uint32{1, 3}, threadOn)
	assert.Error(t, err)
}

func TestThreadEmpty(t *testing.T) {
	f, err := Thread(nil, nil, threadOn)
	require.NoError(t, err)
	assert.Equal(t, NoNode, f.Root)
	assert.Empty(t, f.Order)
}
