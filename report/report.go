// Package report implements the deduplicating error recorder: every
// candidate error is classified by (kind, execution-context fingerprint),
// matched against suppressions, and either folded into an existing record
// (bumping its count and promoting it to most-recently-used) or appended as
// a new one, subject to a hard cap on how many distinct records are kept
// (reaching the soft cap only logs a one-shot warning).
package report

import (
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/shadowcheck/core/execontext"
)

// Kind identifies the category of an error (e.g. "InvalidRead",
// "InvalidWrite", "UninitialisedValue"); tools define their own kind
// strings.
type Kind string

// SuppressionView is what a Matcher needs to decide whether an error should
// be hidden; report depends only on this interface, not on package suppress
// directly, so a tool can plug in any matcher that satisfies it.
type SuppressionView struct {
	Kind    Kind
	Context execontext.Fingerprint
}

// Matcher is satisfied by suppress.Matcher; kept as a narrow interface here
// so report doesn't need to import suppress.
type Matcher interface {
	Matches(v SuppressionView) bool
}

// Entry is one recorded, deduplicated error.
type Entry struct {
	Kind    Kind
	Addr    uint32
	Msg     string
	Payload interface{}
	Context execontext.Fingerprint
	Handle  execontext.Handle
	Count   int

	prev, next int // index-linked MRU list; -1 means "no neighbour"
}

const (
	defaultSoftCap = 1000
	defaultHardCap = 10000
)

// Recorder is the engine's single error-deduplication table.
type Recorder struct {
	Store *execontext.Store
	Match Matcher
	Log   *logrus.Logger

	SoftCap int
	HardCap int // <= 0 disables the hard cap

	arena []Entry
	index map[Kind]map[execontext.Handle]int // (kind, handle) -> arena index

	mruHead, mruTail int // indices into arena; -1 when empty

	suppressedCount int
	droppedCount    int
	softCapWarned   bool
	hardCapWarned   bool
}

// NewRecorder constructs a Recorder backed by the given context store and
// (optional, may be nil) suppression matcher.
func NewRecorder(store *execontext.Store, match Matcher) *Recorder {
	return &Recorder{
		Store:   store,
		Match:   match,
		Log:     logrus.StandardLogger(),
		SoftCap: defaultSoftCap,
		HardCap: defaultHardCap,
		index:   make(map[Kind]map[execontext.Handle]int),
		mruHead: -1,
		mruTail: -1,
	}
}

// MaybeRecord classifies one candidate error. It returns the Entry actually
// stored (which may be a pre-existing one whose count was incremented),
// whether it was newly created, and whether it was recorded at all. A
// suppressed error, or a new error arriving once the hard cap is reached,
// is not recorded: entry is nil and recorded is false. Suppressed errors
// are not counted against the caps.
func (r *Recorder) MaybeRecord(kind Kind, addr uint32, msg string, payload interface{}, fp execontext.Fingerprint) (entry *Entry, created bool, recorded bool) {
	handle := r.Store.Intern(fp)

	if r.Match != nil && r.Match.Matches(SuppressionView{Kind: kind, Context: fp}) {
		r.suppressedCount++
		return nil, false, false
	}

	if byHandle, ok := r.index[kind]; ok {
		if idx, ok := byHandle[handle]; ok {
			e := &r.arena[idx]
			e.Count++
			r.promote(idx)
			return e, false, true
		}
	}

	if r.HardCap > 0 && len(r.arena) >= r.HardCap {
		r.droppedCount++
		if !r.hardCapWarned {
			r.hardCapWarned = true
			if r.Log != nil {
				r.Log.Warnf("report: hard cap of %d distinct errors reached; further new errors are dropped", r.HardCap)
			}
		}
		return nil, false, false
	}

	if len(r.arena) >= r.SoftCap && !r.softCapWarned {
		r.softCapWarned = true
		if r.Log != nil {
			r.Log.Warnf("report: soft cap of %d distinct errors reached; recording continues up to the hard cap", r.SoftCap)
		}
	}

	e := Entry{
		Kind: kind, Addr: addr, Msg: msg, Payload: payload,
		Context: fp, Handle: handle, Count: 1,
		prev: r.mruHead, next: -1,
	}
	idx := len(r.arena)
	r.arena = append(r.arena, e)
	r.linkAsNewest(idx)

	if r.index[kind] == nil {
		r.index[kind] = make(map[execontext.Handle]int)
	}
	r.index[kind][handle] = idx

	return &r.arena[idx], true, true
}

// promote moves the entry at idx to the head of the MRU list.
func (r *Recorder) promote(idx int) {
	if r.mruHead == idx {
		return
	}
	r.unlink(idx)
	r.linkAsNewest(idx)
}

func (r *Recorder) unlink(idx int) {
	e := &r.arena[idx]
	if e.prev != -1 {
		r.arena[e.prev].next = e.next
	}
	if e.next != -1 {
		r.arena[e.next].prev = e.prev
	}
	if r.mruHead == idx {
		r.mruHead = e.next
	}
	if r.mruTail == idx {
		r.mruTail = e.prev
	}
	e.prev, e.next = -1, -1
}

func (r *Recorder) linkAsNewest(idx int) {
	e := &r.arena[idx]
	e.prev = -1
	e.next = r.mruHead
	if r.mruHead != -1 {
		r.arena[r.mruHead].prev = idx
	}
	r.mruHead = idx
	if r.mruTail == -1 {
		r.mruTail = idx
	}
}

// SlowReductionMode reports whether the recorder is within a tenth of the
// soft cap of the hard cap, the point at which a tool is expected to start
// raising its own suppression/merge aggressiveness rather than relying on
// report alone.
func (r *Recorder) SlowReductionMode() bool {
	return len(r.arena) >= r.HardCap-defaultSoftCapSlack(r.SoftCap)
}

func defaultSoftCapSlack(softCap int) int {
	if softCap <= 0 {
		return 0
	}
	return softCap / 10
}

// Entries returns all recorded entries in most-recently-used order.
func (r *Recorder) Entries() []Entry {
	out := make([]Entry, 0, len(r.arena))
	for idx := r.mruHead; idx != -1; idx = r.arena[idx].next {
		out = append(out, r.arena[idx])
	}
	return out
}

// SummaryLine is one row of Recorder.Summary().
type SummaryLine struct {
	Kind  Kind
	Count int
}

// Summary aggregates recorded entries by kind, ascending by count, matching
// the spec's "least-frequent-first" leak-check-style summary ordering.
func (r *Recorder) Summary() []SummaryLine {
	totals := make(map[Kind]int)
	for _, e := range r.arena {
		totals[e.Kind] += e.Count
	}
	lines := make([]SummaryLine, 0, len(totals))
	for k, c := range totals {
		lines = append(lines, SummaryLine{Kind: k, Count: c})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Count != lines[j].Count {
			return lines[i].Count < lines[j].Count
		}
		return lines[i].Kind < lines[j].Kind
	})
	return lines
}

// SuppressedCount reports how many candidate errors were suppressed rather
// than recorded.
func (r *Recorder) SuppressedCount() int { return r.suppressedCount }

// DroppedCount reports how many new (non-duplicate) errors were discarded
// after the hard cap was reached.
func (r *Recorder) DroppedCount() int { return r.droppedCount }
