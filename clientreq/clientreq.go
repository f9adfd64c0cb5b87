// Package clientreq recognises and dispatches client requests: the
// mechanism by which an instrumented guest program asks the engine to do
// something outside the normal instruction stream (mark memory, check a
// value's definedness, report a malloc-like block, trigger a leak check), by
// executing a fixed "magic sequence" of guest instructions followed by a
// request-code/argument handoff.
package clientreq

import "github.com/sirupsen/logrus"

// MagicSequence is the fixed four-word instruction pattern a guest program
// executes immediately before a client request, chosen to be vanishingly
// unlikely to occur in ordinary code (a rotate-by-zero idiom doubled over
// two registers, mirroring the convention used by real DBI client-request
// macros).
var MagicSequence = [4]uint32{0x0ff00ff0, 0x0ff00ff1, 0x0ff00ff2, 0x0ff00ff3}

// IsMagicSequence reports whether the four words in seq match the
// recognised client-request preamble.
func IsMagicSequence(seq [4]uint32) bool {
	return seq == MagicSequence
}

// Code identifies a client request.
type Code uint32

const (
	CodeMakeMemNoAccess Code = iota
	CodeMakeMemUndefined
	CodeMakeMemDefined
	CodeDiscardTranslations
	CodeMallocLikeBlock
	CodeFreeLikeBlock
	CodeCreateMempool
	CodeDestroyMempool
	CodeMempoolAlloc
	CodeMempoolFree
	CodeDoLeakCheck
	CodeCountLeaks
	CodeCheckValue
)

// Args is the fixed four-word argument tuple accompanying a request code,
// matching the guest-register convention (arg0..arg3).
type Args [4]uint32

// Result is what a handler returns to be placed back into the guest's
// result register.
type Result uint32

// Handler implements one client request's behaviour.
type Handler func(args Args) (Result, error)

// Engine is the narrow surface clientreq needs from the engine to implement
// the built-in request table; engine.Engine satisfies it.
type Engine interface {
	MakeMemNoAccess(addr, length uint32)
	MakeMemUndefined(addr, length uint32)
	MakeMemDefined(addr, length uint32)
	DiscardTranslations(addr, length uint32)
	MallocLikeBlock(addr, size uint32, redzone uint32, isZeroed bool)
	FreeLikeBlock(addr uint32, redzone uint32)
	DoLeakCheck() (leaked uint32)
	CheckValue(addr uint32, size uint32) bool
}

// Table dispatches recognised request codes to handlers bound against an
// Engine. Built as a map rather than a switch so a tool can add or override
// entries (e.g. mempool requests, which have no generic engine-level
// meaning and are tool-specific).
type Table struct {
	handlers map[Code]Handler
	unknown  map[Code]int
	Log      *logrus.Logger
}

// NewTable builds the built-in request table wired to eng.
func NewTable(eng Engine) *Table {
	t := &Table{
		handlers: make(map[Code]Handler),
		unknown:  make(map[Code]int),
		Log:      logrus.StandardLogger(),
	}
	t.handlers[CodeMakeMemNoAccess] = func(a Args) (Result, error) {
		eng.MakeMemNoAccess(a[0], a[1])
		return 0, nil
	}
	t.handlers[CodeMakeMemUndefined] = func(a Args) (Result, error) {
		eng.MakeMemUndefined(a[0], a[1])
		return 0, nil
	}
	t.handlers[CodeMakeMemDefined] = func(a Args) (Result, error) {
		eng.MakeMemDefined(a[0], a[1])
		return 0, nil
	}
	t.handlers[CodeDiscardTranslations] = func(a Args) (Result, error) {
		eng.DiscardTranslations(a[0], a[1])
		return 0, nil
	}
	t.handlers[CodeMallocLikeBlock] = func(a Args) (Result, error) {
		eng.MallocLikeBlock(a[0], a[1], a[2], a[3] != 0)
		return 0, nil
	}
	t.handlers[CodeFreeLikeBlock] = func(a Args) (Result, error) {
		eng.FreeLikeBlock(a[0], a[1])
		return 0, nil
	}
	t.handlers[CodeDoLeakCheck] = func(a Args) (Result, error) {
		return Result(eng.DoLeakCheck()), nil
	}
	t.handlers[CodeCheckValue] = func(a Args) (Result, error) {
		if eng.CheckValue(a[0], a[1]) {
			return 1, nil
		}
		return 0, nil
	}
	return t
}

// Register installs or replaces the handler for code, letting a tool add
// tool-specific requests (mempool ops) or override a built-in one.
func (t *Table) Register(code Code, h Handler) {
	t.handlers[code] = h
}

const maxUnknownWarnings = 3

// Dispatch runs the handler registered for code. An unrecognised code is
// not an error: it is warned about at most maxUnknownWarnings times (to
// avoid flooding logs from a guest that spams bogus requests) and returns
// zero.
func (t *Table) Dispatch(code Code, args Args) (Result, error) {
	if h, ok := t.handlers[code]; ok {
		return h(args)
	}
	if t.unknown[code] < maxUnknownWarnings {
		t.unknown[code]++
		if t.Log != nil {
			t.Log.Warnf("clientreq: unrecognised request code %d, ignoring", code)
		}
	}
	return 0, nil
}
