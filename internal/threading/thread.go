// Package threading groups the messages of a folder into conversation
// threads using Jamie Zawinski's algorithm.
//
// The algorithm works on an arena of containers addressed by int handles.
// All state lives in one Thread call; nothing is shared between calls.
package threading

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nhle/mlist/internal/model"
)

// ErrTooDeep is returned when a thread is nested deeper than the
// recursion guard allows.
var ErrTooDeep = errors.New("threading: thread nesting too deep")

// NoNode is the "no node" handle in Forest links.
const NoNode = -1

// maxDepth bounds the nesting depth walked by recursive phases.
var maxDepth = 100000

// Node is one entry of the thread forest. Seq is 0 for a dummy node
// standing in for a message that is referenced but not in the folder.
type Node struct {
	Seq   uint32
	Child int
	Next  int
}

// Forest is the result of threading a folder.
type Forest struct {
	// Nodes holds the forest; Root is the handle of the first top-level
	// node (NoNode for an empty folder).
	Nodes []Node
	Root  int

	// Order maps display position to sequence number. Dummy nodes are
	// not displayed.
	Order []uint32

	// Indent, Children, Child and Next are indexed by sequence number
	// minus one. Children counts the messages below a message; Child
	// and Next are the sequence numbers of its first child and next
	// sibling, 0 if there is none or if that node is a dummy.
	Indent   []uint32
	Children []uint32
	Child    []uint32
	Next     []uint32
}

type container struct {
	seq    uint32 // 0 while the container holds no message
	rank   int    // position of the message in the input order
	parent int
	child  int
	next   int

	subject string
	isReply bool
}

type threader struct {
	headers []model.Header
	params  model.ThreadParams
	simp    *Simplifier

	nodes []container
	root  int
	ids   map[string]int
	bogus int
}

// Thread builds the thread forest of headers, where headers[i] is the
// message with sequence number i+1. order lists the sequence numbers in
// the order siblings and threads should appear when nothing else
// decides; nil means arrival order. Unpopulated headers become single
// message threads.
//
// On ErrTooDeep no partial result is returned.
func Thread(headers []model.Header, order []uint32, params model.ThreadParams) (*Forest, error) {
	n := len(headers)
	if order == nil {
		order = make([]uint32, n)
		for i := range order {
			order[i] = uint32(i + 1)
		}
	}
	if len(order) != n {
		return nil, fmt.Errorf("threading: order has %d entries for %d headers", len(order), n)
	}

	t := &threader{
		headers: headers,
		params:  params,
		simp:    NewSimplifier(params),
		nodes:   make([]container, 0, n+n/2+1),
		ids:     make(map[string]int, n),
	}
	t.root = t.newContainer()

	seen := make([]bool, n)
	for rank, seq := range order {
		if seq == 0 || int(seq) > n {
			return nil, fmt.Errorf("threading: sequence number %d out of range", seq)
		}
		if seen[seq-1] {
			return nil, fmt.Errorf("threading: sequence number %d listed twice", seq)
		}
		seen[seq-1] = true
		t.addMessage(seq, rank)
	}

	t.findRootSet()

	if err := t.prune(t.root, 0); err != nil {
		return nil, err
	}
	if params.BreakThreads {
		t.breakThreads()
		t.fixRootDummies()
	}
	if params.GatherSubjects {
		t.gatherSubjects()
		t.fixRootDummies()
	}
	if err := t.sortSiblings(t.root, 0); err != nil {
		return nil, err
	}
	return t.flatten(), nil
}

func (t *threader) newContainer() int {
	t.nodes = append(t.nodes, container{
		rank:   -1,
		parent: NoNode,
		child:  NoNode,
		next:   NoNode,
	})
	return len(t.nodes) - 1
}

// lookup returns the container for id, creating an empty one if needed.
func (t *threader) lookup(id string) int {
	if c, ok := t.ids[id]; ok {
		return c
	}
	c := t.newContainer()
	t.ids[id] = c
	return c
}

func (t *threader) addMessage(seq uint32, rank int) {
	h := &t.headers[seq-1]

	var id string
	var refs []string
	if h.IsValid() {
		id = MessageID(h.MessageID)
		refs = References(h.References, h.InReplyTo)
	}
	if id == "" {
		id = fmt.Sprintf("<empty-id:%d>", seq)
	}

	c, ok := t.ids[id]
	if ok && t.nodes[c].seq != 0 {
		// Duplicate message-id: the first message keeps it.
		t.bogus++
		c = t.lookup(fmt.Sprintf("<bogus-id:%d>", t.bogus))
	} else if !ok {
		c = t.lookup(id)
	}

	node := &t.nodes[c]
	node.seq = seq
	node.rank = rank
	if h.IsValid() {
		node.subject, node.isReply = t.simp.Simplify(h.Subject)
	}

	prev := NoNode
	for _, ref := range refs {
		r := t.lookup(ref)
		if prev != NoNode {
			t.link(prev, r)
		}
		prev = r
	}
	if prev != NoNode {
		t.link(prev, c)
	}
}

// link makes c a child of parent unless c already has a parent or the
// link would create a cycle.
func (t *threader) link(parent, c int) {
	if parent == c || t.nodes[c].parent != NoNode {
		return
	}
	// A childless container cannot be an ancestor of anything.
	if t.nodes[c].child != NoNode && t.isAncestor(c, parent) {
		return
	}
	t.appendChild(parent, c)
}

// isAncestor reports whether a is on the parent chain of c.
func (t *threader) isAncestor(a, c int) bool {
	for steps := 0; c != NoNode && steps <= len(t.nodes); steps++ {
		if c == a {
			return true
		}
		c = t.nodes[c].parent
	}
	return false
}

func (t *threader) appendChild(parent, c int) {
	t.nodes[c].parent = parent
	t.nodes[c].next = NoNode
	p := &t.nodes[parent]
	if p.child == NoNode {
		p.child = c
		return
	}
	last := p.child
	for t.nodes[last].next != NoNode {
		last = t.nodes[last].next
	}
	t.nodes[last].next = c
}

// unlink removes c from its parent's child list.
func (t *threader) unlink(c int) {
	parent := t.nodes[c].parent
	if parent == NoNode {
		return
	}
	p := &t.nodes[parent]
	if p.child == c {
		p.child = t.nodes[c].next
	} else {
		for s := p.child; s != NoNode; s = t.nodes[s].next {
			if t.nodes[s].next == c {
				t.nodes[s].next = t.nodes[c].next
				break
			}
		}
	}
	t.nodes[c].parent = NoNode
	t.nodes[c].next = NoNode
}

// replace puts the child list starting at kids in c's place within its
// parent's list. c is left detached and childless.
func (t *threader) replace(c, kids int) {
	parent := t.nodes[c].parent
	next := t.nodes[c].next

	last := kids
	for k := kids; k != NoNode; k = t.nodes[k].next {
		t.nodes[k].parent = parent
		last = k
	}
	t.nodes[last].next = next

	p := &t.nodes[parent]
	if p.child == c {
		p.child = kids
	} else {
		for s := p.child; s != NoNode; s = t.nodes[s].next {
			if t.nodes[s].next == c {
				t.nodes[s].next = kids
				break
			}
		}
	}
	t.nodes[c].parent = NoNode
	t.nodes[c].next = NoNode
	t.nodes[c].child = NoNode
}

// effectiveRank orders containers: a message by its input position, an
// empty container by its first message below it.
func (t *threader) effectiveRank(c int) int {
	for steps := 0; steps <= len(t.nodes); steps++ {
		if t.nodes[c].seq != 0 || t.nodes[c].child == NoNode {
			break
		}
		c = t.nodes[c].child
	}
	if t.nodes[c].seq == 0 {
		return len(t.nodes)
	}
	return t.nodes[c].rank
}

// findRootSet hangs every parentless container below the root, ordered
// by rank and then by creation.
func (t *threader) findRootSet() {
	var roots []int
	for c := range t.nodes {
		if c != t.root && t.nodes[c].parent == NoNode {
			roots = append(roots, c)
		}
	}
	ranks := make(map[int]int, len(roots))
	for _, c := range roots {
		ranks[c] = t.effectiveRank(c)
	}
	sort.SliceStable(roots, func(i, j int) bool {
		return ranks[roots[i]] < ranks[roots[j]]
	})
	for _, c := range roots {
		t.appendChild(t.root, c)
	}
}

// prune removes empty containers without children and splices out empty
// containers with children, except top-level ones holding two or more
// threads, which remain as dummies.
func (t *threader) prune(parent, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	c := t.nodes[parent].child
	for c != NoNode {
		if t.nodes[c].child != NoNode {
			if err := t.prune(c, depth+1); err != nil {
				return err
			}
		}
		next := t.nodes[c].next

		if t.nodes[c].seq == 0 {
			kids := t.nodes[c].child
			switch {
			case kids == NoNode:
				t.unlink(c)
			case parent != t.root || t.nodes[kids].next == NoNode:
				t.replace(c, kids)
			}
		}
		c = next
	}
	return nil
}

// fixRootDummies removes top-level dummies left with fewer than two
// children.
func (t *threader) fixRootDummies() {
	c := t.nodes[t.root].child
	for c != NoNode {
		next := t.nodes[c].next
		if t.nodes[c].seq == 0 {
			kids := t.nodes[c].child
			if kids == NoNode {
				t.unlink(c)
			} else if t.nodes[kids].next == NoNode {
				t.replace(c, kids)
			}
		}
		c = next
	}
}

// breakThreads moves every message whose subject differs from its
// parent's to the top level. A dummy parent carries the subject of its
// first child as it was before any message moved; dummies left with a
// single child are spliced out by fixRootDummies afterwards.
func (t *threader) breakThreads() {
	dummySubject := make(map[int]string)
	for c := t.nodes[t.root].child; c != NoNode; c = t.nodes[c].next {
		if t.nodes[c].seq == 0 {
			dummySubject[c], _ = t.subjectOf(c)
		}
	}

	var all []int
	stack := []int{t.nodes[t.root].child}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for ; c != NoNode; c = t.nodes[c].next {
			all = append(all, c)
			if t.nodes[c].child != NoNode {
				stack = append(stack, t.nodes[c].child)
			}
		}
	}

	for _, c := range all {
		node := &t.nodes[c]
		parent := node.parent
		if parent == t.root || node.seq == 0 {
			continue
		}
		parentSubject := t.nodes[parent].subject
		if t.nodes[parent].seq == 0 {
			parentSubject = dummySubject[parent]
		}
		if parentSubject == node.subject {
			continue
		}
		t.unlink(c)
		t.appendChild(t.root, c)
	}
}

// subjectOf returns the subject of c, taken from its first child for an
// empty container.
func (t *threader) subjectOf(c int) (string, bool) {
	if t.nodes[c].seq == 0 {
		if k := t.nodes[c].child; k != NoNode {
			return t.nodes[k].subject, t.nodes[k].isReply
		}
		return "", false
	}
	return t.nodes[c].subject, t.nodes[c].isReply
}

// collectSubjects maps each simplified subject to the container that
// best represents it anywhere in the forest: an empty container beats a
// message, and a non-reply beats a reply.
func (t *threader) collectSubjects() map[string]int {
	table := make(map[string]int)
	stack := []int{t.nodes[t.root].child}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for ; c != NoNode; c = t.nodes[c].next {
			if t.nodes[c].child != NoNode {
				stack = append(stack, t.nodes[c].child)
			}
			subj, reply := t.subjectOf(c)
			if subj == "" {
				continue
			}
			old, ok := table[subj]
			if !ok {
				table[subj] = c
				continue
			}
			_, oldReply := t.subjectOf(old)
			if (t.nodes[old].seq != 0 && t.nodes[c].seq == 0) ||
				(oldReply && !reply && t.nodes[c].seq != 0 && t.nodes[old].seq != 0) {
				table[subj] = c
			}
		}
	}
	return table
}

// inSubtree reports whether target is c or below c.
func (t *threader) inSubtree(c, target int) bool {
	if c == target {
		return true
	}
	stack := []int{t.nodes[c].child}
	for steps := 0; len(stack) > 0 && steps <= len(t.nodes); steps++ {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for ; k != NoNode; k = t.nodes[k].next {
			if k == target {
				return true
			}
			if t.nodes[k].child != NoNode {
				stack = append(stack, t.nodes[k].child)
			}
		}
	}
	return false
}

// moveChildren appends all children of from to to.
func (t *threader) moveChildren(from, to int) {
	for k := t.nodes[from].child; k != NoNode; {
		next := t.nodes[k].next
		t.unlink(k)
		t.appendChild(to, k)
		k = next
	}
}

// gatherSubjects merges top-level threads sharing a simplified subject.
func (t *threader) gatherSubjects() {
	table := t.collectSubjects()
	if len(table) == 0 {
		return
	}

	var roots []int
	for c := t.nodes[t.root].child; c != NoNode; c = t.nodes[c].next {
		roots = append(roots, c)
	}

	for _, c := range roots {
		if t.nodes[c].parent != t.root {
			continue
		}
		subj, reply := t.subjectOf(c)
		if subj == "" {
			continue
		}
		old, ok := table[subj]
		if !ok || old == c || t.inSubtree(c, old) {
			continue
		}

		cEmpty := t.nodes[c].seq == 0
		oldEmpty := t.nodes[old].seq == 0
		_, oldReply := t.subjectOf(old)

		switch {
		case cEmpty && oldEmpty:
			t.moveChildren(c, old)
			t.unlink(c)

		case cEmpty:
			if t.nodes[old].parent == t.root {
				t.unlink(old)
				t.appendChild(c, old)
				table[subj] = c
			} else {
				t.moveChildren(c, t.nodes[old].parent)
				t.unlink(c)
			}

		case oldEmpty || (reply && !oldReply):
			t.unlink(c)
			t.appendChild(old, c)

		case t.nodes[old].parent == t.root:
			first, second := old, c
			if t.nodes[c].rank < t.nodes[old].rank {
				first, second = c, old
			}
			d := t.newContainer()
			t.replaceWith(old, d)
			t.unlink(c)
			t.appendChild(d, first)
			t.appendChild(d, second)
			table[subj] = d

		default:
			t.unlink(c)
			t.appendChild(t.nodes[old].parent, c)
		}
	}
}

// replaceWith puts the detached container d in c's place and detaches c.
func (t *threader) replaceWith(c, d int) {
	parent := t.nodes[c].parent
	t.nodes[d].parent = parent
	t.nodes[d].next = t.nodes[c].next

	p := &t.nodes[parent]
	if p.child == c {
		p.child = d
	} else {
		for s := p.child; s != NoNode; s = t.nodes[s].next {
			if t.nodes[s].next == c {
				t.nodes[s].next = d
				break
			}
		}
	}
	t.nodes[c].parent = NoNode
	t.nodes[c].next = NoNode
}

// sortSiblings stably orders every child list by rank. A dummy ranks as
// its lowest ranked child.
func (t *threader) sortSiblings(parent, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	var kids []int
	for c := t.nodes[parent].child; c != NoNode; c = t.nodes[c].next {
		if t.nodes[c].child != NoNode {
			if err := t.sortSiblings(c, depth+1); err != nil {
				return err
			}
		}
		kids = append(kids, c)
	}
	if len(kids) == 0 {
		return nil
	}

	sort.SliceStable(kids, func(i, j int) bool {
		return t.nodes[kids[i]].rank < t.nodes[kids[j]].rank
	})
	t.nodes[parent].child = kids[0]
	for i, c := range kids {
		if i+1 < len(kids) {
			t.nodes[c].next = kids[i+1]
		} else {
			t.nodes[c].next = NoNode
		}
	}
	if t.nodes[parent].seq == 0 && parent != t.root {
		t.nodes[parent].rank = t.nodes[kids[0]].rank
	}
	return nil
}

// flatten walks the forest in pre-order and produces the Forest.
func (t *threader) flatten() *Forest {
	n := len(t.headers)
	f := &Forest{
		Root:     NoNode,
		Order:    make([]uint32, 0, n),
		Indent:   make([]uint32, n),
		Children: make([]uint32, n),
		Child:    make([]uint32, n),
		Next:     make([]uint32, n),
	}

	// Compact the reachable containers into the output arena.
	handle := make(map[int]int, len(t.nodes))
	type frame struct {
		c      int
		indent uint32
	}
	var visit []int
	stack := []frame{}
	for c := t.nodes[t.root].child; c != NoNode; c = t.nodes[c].next {
		stack = append(stack, frame{c: c})
	}
	// Reverse so the first root is processed first.
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}

	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &t.nodes[fr.c]

		handle[fr.c] = len(f.Nodes)
		f.Nodes = append(f.Nodes, Node{Seq: node.seq, Child: NoNode, Next: NoNode})
		visit = append(visit, fr.c)

		childIndent := fr.indent
		if node.seq != 0 {
			f.Order = append(f.Order, node.seq)
			f.Indent[node.seq-1] = fr.indent
			childIndent++
		} else if t.params.IndentIfDummyNode {
			childIndent++
		}

		var kids []int
		for k := node.child; k != NoNode; k = t.nodes[k].next {
			kids = append(kids, k)
		}
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{c: kids[i], indent: childIndent})
		}
	}

	for _, c := range visit {
		node := &t.nodes[c]
		h := handle[c]
		if node.child != NoNode {
			f.Nodes[h].Child = handle[node.child]
		}
		if node.next != NoNode {
			f.Nodes[h].Next = handle[node.next]
		}
		if node.seq == 0 {
			continue
		}
		if node.child != NoNode {
			f.Child[node.seq-1] = t.nodes[node.child].seq
		}
		if node.next != NoNode {
			f.Next[node.seq-1] = t.nodes[node.next].seq
		}
	}
	if first := t.nodes[t.root].child; first != NoNode {
		f.Root = handle[first]
	}

	// Descendant counts, children before parents.
	count := make([]uint32, len(f.Nodes))
	for h := len(f.Nodes) - 1; h >= 0; h-- {
		for k := f.Nodes[h].Child; k != NoNode; k = f.Nodes[k].Next {
			count[h] += count[k]
			if f.Nodes[k].Seq != 0 {
				count[h]++
			}
		}
		if seq := f.Nodes[h].Seq; seq != 0 {
			f.Children[seq-1] = count[h]
		}
	}
	return f
}
