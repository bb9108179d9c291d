// Package listing maintains the display order of one folder.
//
// An Index owns the folder's headers, indexed by sequence number, and
// the translation tables between sequence numbers and display
// positions. The tables are rebuilt lazily from the sorter and threader
// output. An Index is not safe for concurrent use; the folder layer
// serializes all calls.
package listing

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/sorting"
	"github.com/nhle/mlist/internal/threading"
)

// NotFound is returned by lookups that have no answer.
const NotFound uint32 = math.MaxUint32

var (
	// ErrClosed is returned by accessors once the folder was closed.
	ErrClosed = errors.New("listing: folder closed")

	// ErrOutOfRange is returned for an index or position past the end.
	ErrOutOfRange = errors.New("listing: out of range")
)

// Index is the header listing of one folder. Indices are 0-based
// (sequence number minus one), as are display positions.
type Index struct {
	log    zerolog.Logger
	scorer sorting.Scorer

	records []model.Header
	// changed flags records whose status changed since TakeChanged.
	changed []bool

	sortParams   model.SortParams
	threadParams model.ThreadParams

	// order maps position to sequence number and pos maps index to
	// position. indents and children are by index and only set when
	// threading produced them.
	order    []uint32
	pos      []uint32
	indents  []uint32
	children []uint32

	builtCount     uint32
	haveTables     bool
	tablesDirty    bool
	firstSortEver  bool
	reversedTables bool
	closed         bool

	lastMod    uint64
	generation uint64
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used to report soft failures.
func WithLogger(log zerolog.Logger) Option {
	return func(x *Index) { x.log = log }
}

// WithScorer sets the source of message scores for score sorting.
func WithScorer(s sorting.Scorer) Option {
	return func(x *Index) { x.scorer = s }
}

// New returns an empty Index listing messages in arrival order.
func New(opts ...Option) *Index {
	x := &Index{
		log:           zerolog.Nop(),
		firstSortEver: true,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Index) mustBeOpen(op string) {
	if x.closed {
		panic(fmt.Sprintf("listing: %s after OnClose", op))
	}
}

// Count returns the number of messages.
func (x *Index) Count() uint32 {
	return uint32(len(x.records))
}

// LastMod returns the modification counter. It changes whenever
// positions or indices handed out earlier may have become stale.
func (x *Index) LastMod() uint64 {
	return x.lastMod
}

// HasChanged reports whether the listing changed since LastMod returned
// since.
func (x *Index) HasChanged(since uint64) bool {
	return x.lastMod != since
}

// Generation changes only when existing messages are renumbered, i.e.
// on removal and close. Fetch results issued under an older generation
// carry stale sequence numbers.
func (x *Index) Generation() uint64 {
	return x.generation
}

// Closed reports whether OnClose was called.
func (x *Index) Closed() bool {
	return x.closed
}

// SortParams returns the current sort parameters.
func (x *Index) SortParams() model.SortParams {
	return x.sortParams.Clone()
}

// ThreadParams returns the current threading parameters.
func (x *Index) ThreadParams() model.ThreadParams {
	return x.threadParams
}

// NeedsAllRecords reports whether building the tables looks at every
// header, so all of them should be retrieved first.
func (x *Index) NeedsAllRecords() bool {
	return x.sortParams.IsSorting() || x.threadParams.UseThreading
}

func (x *Index) needsTables() bool {
	return x.NeedsAllRecords() || x.sortParams.Reverse
}

func (x *Index) invalidate() {
	x.tablesDirty = true
	x.lastMod++
}

// SetSortOrder changes the sort parameters and reports whether the
// listing order changes.
func (x *Index) SetSortOrder(params model.SortParams) bool {
	x.mustBeOpen("SetSortOrder")

	old := x.sortParams
	x.sortParams = params.Clone()
	if old.SameOrder(params) {
		return false
	}

	onlyReverse := old.SameOrderIgnoringReverse(params)
	if onlyReverse && !x.firstSortEver && !x.tablesDirty && !x.threadParams.UseThreading {
		x.reversedTables = !x.reversedTables
	} else {
		x.tablesDirty = true
	}
	x.lastMod++
	return true
}

// SetThreadParameters changes the threading parameters and reports
// whether the listing changes.
func (x *Index) SetThreadParameters(params model.ThreadParams) bool {
	x.mustBeOpen("SetThreadParameters")

	if x.threadParams.Equal(params) {
		x.threadParams = params
		return false
	}
	x.threadParams = params
	x.invalidate()
	return true
}

// EnsureTablesBuilt brings the translation tables up to date. It is
// called by every position lookup. It must not be called from code
// running inside a transport notification; use GetOldPositionFromIndex
// there.
func (x *Index) EnsureTablesBuilt() {
	if x.closed {
		return
	}
	if x.reversedTables && x.haveTables && !x.tablesDirty {
		x.flip()
		return
	}
	if !x.tablesDirty && !x.reversedTables {
		return
	}
	x.rebuild()
}

// flip turns tables built for the opposite direction around.
func (x *Index) flip() {
	sorting.ReverseStable(x.records, x.sortParams, x.order, x.sortOptions()...)
	for p, seq := range x.order {
		x.pos[seq-1] = uint32(p)
	}
	x.reversedTables = false
}

func (x *Index) sortOptions() []sorting.Option {
	opts := []sorting.Option{sorting.WithSimplifier(threading.NewSimplifier(x.threadParams))}
	if x.scorer != nil {
		opts = append(opts, sorting.WithScorer(x.scorer))
	}
	return opts
}

func (x *Index) rebuild() {
	x.builtCount = uint32(len(x.records))
	x.tablesDirty = false
	x.reversedTables = false
	x.firstSortEver = false

	if !x.needsTables() {
		x.dropTables()
		return
	}

	n := len(x.records)
	opts := x.sortOptions()
	order := sorting.Sort(x.records, x.sortParams, opts...)
	if x.sortParams.Reverse {
		sorting.ReverseStable(x.records, x.sortParams, order, opts...)
	}

	x.indents, x.children = nil, nil
	if x.threadParams.UseThreading {
		forest, err := threading.Thread(x.records, order, x.threadParams)
		if err != nil {
			x.log.Warn().Err(err).Int("count", n).Msg("threading failed, showing unthreaded listing")
		} else {
			order = forest.Order
			x.indents = forest.Indent
			x.children = forest.Children
		}
	}

	x.order = order
	if cap(x.pos) >= n {
		x.pos = x.pos[:n]
	} else {
		x.pos = make([]uint32, n)
	}
	for p, seq := range order {
		x.pos[seq-1] = uint32(p)
	}
	x.haveTables = true
}

func (x *Index) dropTables() {
	x.order, x.pos = nil, nil
	x.indents, x.children = nil, nil
	x.haveTables = false
}

// OnInsert appends count unpopulated messages.
func (x *Index) OnInsert(count uint32) {
	x.mustBeOpen("OnInsert")
	if count == 0 {
		return
	}
	first := uint32(len(x.records)) + 1
	for i := range count {
		x.records = append(x.records, model.Placeholder(first+i))
		x.changed = append(x.changed, false)
	}
	x.invalidate()
}

// OnRemove deletes the message with sequence number seq, as reported by
// an expunge, and renumbers the ones after it. Removing several
// messages must go from the highest sequence number down.
func (x *Index) OnRemove(seq uint32) {
	x.mustBeOpen("OnRemove")
	if seq == 0 || int(seq) > len(x.records) {
		panic(fmt.Sprintf("listing: OnRemove(%d) with %d messages", seq, len(x.records)))
	}

	idx := seq - 1
	x.records = append(x.records[:idx], x.records[idx+1:]...)
	x.changed = append(x.changed[:idx], x.changed[idx+1:]...)
	for i := int(idx); i < len(x.records); i++ {
		x.records[i].SeqNum = uint32(i + 1)
	}
	x.generation++
	x.invalidate()
}

// OnClose releases all messages. Only accessors may be used afterwards.
func (x *Index) OnClose() {
	x.mustBeOpen("OnClose")
	x.records = nil
	x.changed = nil
	x.dropTables()
	x.closed = true
	x.generation++
	x.lastMod++
}

// SetRecords stores populated headers, each at the index given by its
// sequence number.
func (x *Index) SetRecords(headers ...model.Header) {
	x.mustBeOpen("SetRecords")
	if len(headers) == 0 {
		return
	}
	for _, h := range headers {
		if h.SeqNum == 0 || int(h.SeqNum) > len(x.records) {
			panic(fmt.Sprintf("listing: SetRecords seq %d with %d messages", h.SeqNum, len(x.records)))
		}
		x.records[h.SeqNum-1] = h
	}
	if x.needsTables() {
		x.invalidate()
	}
}

// UpdateStatus changes the status flags of the populated message at idx
// and reports whether the listing order may have changed. The record is
// reported by TakeChanged either way.
func (x *Index) UpdateStatus(idx uint32, status model.Status) bool {
	x.mustBeOpen("UpdateStatus")
	if int(idx) >= len(x.records) || !x.records[idx].IsValid() {
		return false
	}
	if x.records[idx].Status == status {
		return false
	}
	x.records[idx].Status = status
	x.changed[idx] = true
	if x.sortParams.Uses(model.SortStatus) {
		x.invalidate()
		return true
	}
	return false
}

// TakeChanged returns the indices whose status changed since the last
// call, in ascending order, and forgets them.
func (x *Index) TakeChanged() []uint32 {
	var out []uint32
	for i, c := range x.changed {
		if c {
			out = append(out, uint32(i))
			x.changed[i] = false
		}
	}
	return out
}

// IsPopulated reports whether the header at idx was retrieved.
func (x *Index) IsPopulated(idx uint32) bool {
	return int(idx) < len(x.records) && x.records[idx].IsValid()
}

// Record returns a copy of the header at idx.
func (x *Index) Record(idx uint32) (model.Header, error) {
	if x.closed {
		return model.Header{}, ErrClosed
	}
	if int(idx) >= len(x.records) {
		return model.Header{}, ErrOutOfRange
	}
	return x.records[idx], nil
}

// RecordAtPosition returns a copy of the header shown at pos.
func (x *Index) RecordAtPosition(pos uint32) (model.Header, error) {
	if x.closed {
		return model.Header{}, ErrClosed
	}
	idx := x.GetIndexFromPosition(pos)
	if idx == NotFound {
		return model.Header{}, ErrOutOfRange
	}
	return x.records[idx], nil
}

// GetPositionFromIndex returns the display position of the message at
// idx.
func (x *Index) GetPositionFromIndex(idx uint32) uint32 {
	x.EnsureTablesBuilt()
	if x.closed || int(idx) >= len(x.records) {
		return NotFound
	}
	if !x.haveTables {
		return idx
	}
	return x.pos[idx]
}

// GetIndexFromPosition returns the index of the message shown at pos.
func (x *Index) GetIndexFromPosition(pos uint32) uint32 {
	x.EnsureTablesBuilt()
	if x.closed || int(pos) >= len(x.records) {
		return NotFound
	}
	if !x.haveTables {
		return pos
	}
	return x.order[pos] - 1
}

// GetOldPositionFromIndex returns the position idx had when the tables
// were last built, without rebuilding them. Indices added since then
// have no old position.
func (x *Index) GetOldPositionFromIndex(idx uint32) uint32 {
	if x.closed || idx >= x.builtCount {
		return NotFound
	}
	if !x.haveTables {
		return idx
	}
	return x.pos[idx]
}

// GetIndentation returns the thread depth of the message shown at pos.
func (x *Index) GetIndentation(pos uint32) uint32 {
	idx := x.GetIndexFromPosition(pos)
	if idx == NotFound || x.indents == nil {
		return 0
	}
	return x.indents[idx]
}

// GetChildrenCount returns how many messages are threaded below the one
// shown at pos.
func (x *Index) GetChildrenCount(pos uint32) uint32 {
	idx := x.GetIndexFromPosition(pos)
	if idx == NotFound || x.children == nil {
		return 0
	}
	return x.children[idx]
}

// FindByFlag returns the first position after startPosExclusive whose
// message has flag set (or cleared, if set is false). NotFound as start
// searches from the top. Unpopulated messages never match.
func (x *Index) FindByFlag(flag model.Status, set bool, startPosExclusive uint32) uint32 {
	x.EnsureTablesBuilt()
	start := uint32(0)
	if startPosExclusive != NotFound {
		start = startPosExclusive + 1
	}
	return x.scan(flag, set, start, x.Count())
}

// FindByFlagWrap is FindByFlag continuing from the top when nothing is
// found before the end.
func (x *Index) FindByFlagWrap(flag model.Status, set bool, startPosExclusive uint32) uint32 {
	if p := x.FindByFlag(flag, set, startPosExclusive); p != NotFound {
		return p
	}
	if startPosExclusive == NotFound {
		return NotFound
	}
	end := min(startPosExclusive+1, x.Count())
	return x.scan(flag, set, 0, end)
}

func (x *Index) scan(flag model.Status, set bool, from, to uint32) uint32 {
	for p := from; p < to; p++ {
		idx := p
		if x.haveTables {
			idx = x.order[p] - 1
		}
		r := &x.records[idx]
		if r.IsValid() && r.Status.Has(flag) == set {
			return p
		}
	}
	return NotFound
}

// GetAllByFlag returns, in index order, the indices of all populated
// messages with flag set (or cleared).
func (x *Index) GetAllByFlag(flag model.Status, set bool) []uint32 {
	var out []uint32
	for i := range x.records {
		r := &x.records[i]
		if r.IsValid() && r.Status.Has(flag) == set {
			out = append(out, uint32(i))
		}
	}
	return out
}

// GetIndexFromUID returns the index of the message with the given
// unique id.
func (x *Index) GetIndexFromUID(uid uint64) uint32 {
	if uid == model.UIDIllegal {
		return NotFound
	}
	for i := range x.records {
		if x.records[i].UID == uid {
			return uint32(i)
		}
	}
	return NotFound
}

// GetRecordByUID returns the message with the given unique id.
func (x *Index) GetRecordByUID(uid uint64) (model.Header, error) {
	idx := x.GetIndexFromUID(uid)
	if idx == NotFound {
		return model.Header{}, fmt.Errorf("uid %d: %w", uid, ErrOutOfRange)
	}
	return x.records[idx], nil
}
