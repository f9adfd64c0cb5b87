// Package engine composes the instrumentation core's subsystems into the
// single handle the rest of the codebase operates on: shadow memory,
// the event dispatcher, execution-context interning, the error recorder,
// suppression matching, process services, client requests, and the active
// tool.
package engine

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/shadowcheck/core/clientreq"
	"github.com/shadowcheck/core/execontext"
	"github.com/shadowcheck/core/procsvc"
	"github.com/shadowcheck/core/report"
	"github.com/shadowcheck/core/shadow"
	"github.com/shadowcheck/core/suppress"
	"github.com/shadowcheck/core/track"
)

// HeapBlock records one live allocation made through MallocLikeBlock, used
// to implement DoLeakCheck and FreeLikeBlock's size lookup. Redzone is
// recorded but not read back: FreeLikeBlock leaves the redzones banned.
type HeapBlock struct {
	Addr     uint32
	Size     uint32
	Redzone  uint32
	IsZeroed bool
	Context  execontext.Fingerprint
}

// freedBlock is one entry of the free-like quarantine FIFO: a block that
// has been freed but is kept banned rather than genuinely forgotten, so a
// realistic-sized window of use-after-free accesses still lands an
// AddressError instead of silently touching memory some unrelated later
// allocation has since reused.
type freedBlock struct {
	Addr uint32
	Size uint32
}

// defaultFreelistVolume matches config.DefaultConfig's LeakCheck.FreelistVolume.
const defaultFreelistVolume = 20 * 1024 * 1024

// Engine is the single handle composing every subsystem. It is always
// passed by pointer; nothing in this codebase relies on package-level
// static-initialisation order.
type Engine struct {
	Shadow     *shadow.Map
	Track      *track.Dispatcher
	Contexts   *execontext.Store
	Recorder   *report.Recorder
	Suppress   *suppress.Matcher
	Threads    *procsvc.ThreadTable
	Requests   *clientreq.Table
	Log        *logrus.Logger

	// Tool is the currently active tool, set by Attach. It is nil until a
	// tool is attached, at which point Requests/Track are wired to it.
	Tool Tool

	mu sync.Mutex

	heap map[uint32]HeapBlock

	// FreelistVol bounds the free-like quarantine's total byte volume
	// (--freelist-vol); once exceeded, the oldest quarantined blocks are
	// genuinely forgotten. Zero means use defaultFreelistVolume.
	FreelistVol uint32
	freed       []freedBlock
	freedBytes  uint32
}

// Tool is the narrow surface engine needs from an attached tool beyond the
// track.Callbacks it may register; see package tool for the full
// registration struct this is satisfied by.
type Tool interface {
	Name() string
}

// New constructs an Engine with all subsystems wired together but no tool
// attached yet. trackValidity controls whether the shadow map tracks V-bytes
// in addition to A-bits, matching the active tool's needs (a pure
// addressability checker can leave this false to halve memory use).
func New(trackValidity bool) *Engine {
	contexts := execontext.NewStore()
	recorder := report.NewRecorder(contexts, nil)

	e := &Engine{
		Shadow:      shadow.NewMap(trackValidity),
		Track:       track.NewDispatcher(track.Callbacks{}),
		Contexts:    contexts,
		Recorder:    recorder,
		Threads:     procsvc.NewThreadTable(),
		Log:         logrus.StandardLogger(),
		heap:        make(map[uint32]HeapBlock),
		FreelistVol: defaultFreelistVolume,
	}
	e.Requests = clientreq.NewTable(e)
	return e
}

// AttachSuppressions replaces the active suppression matcher and rewires
// the recorder to consult it. Passing nil clears suppression matching
// entirely (every candidate error is recorded).
func (e *Engine) AttachSuppressions(m *suppress.Matcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Suppress = m
	if m == nil {
		e.Recorder.Match = nil
		return
	}
	e.Recorder.Match = m
}

// Run executes fn while holding the engine's run-lock, the single point of
// serialisation around state-mutating operations (memory shadow updates,
// recorder writes, thread table changes). Guest execution on multiple
// goroutines must go through Run rather than touching subsystems directly.
func (e *Engine) Run(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// --- clientreq.Engine implementation ---

// MakeMemNoAccess marks [addr, addr+length) inaccessible and notifies the
// active tool before the shadow state changes.
func (e *Engine) MakeMemNoAccess(addr, length uint32) {
	e.Track.FireDieMem(addr, length)
	e.Shadow.MakeInaccessible(addr, length)
}

// MakeMemUndefined marks [addr, addr+length) accessible but undefined.
func (e *Engine) MakeMemUndefined(addr, length uint32) {
	e.Track.FireNewMem(addr, length)
	e.Shadow.MakeWritableUndefined(addr, length)
}

// MakeMemDefined marks [addr, addr+length) accessible and defined.
func (e *Engine) MakeMemDefined(addr, length uint32) {
	e.Track.FireNewMem(addr, length)
	e.Shadow.MakeDefined(addr, length)
}

// DiscardTranslations is a no-op at the shadow-memory level in this
// implementation (there is no JIT translation cache to invalidate), kept as
// a distinct operation so the client-request table has an entry for it. It
// fires no track event.
func (e *Engine) DiscardTranslations(addr, length uint32) {}

// MallocLikeBlock records addr as a live allocation of size bytes so a
// subsequent DoLeakCheck can report it if never freed, marks the block
// accessible (defined if isZeroed, else undefined), and bans redzone bytes
// immediately before and after it so an overrun into either guard band is a
// bounded-overflow AddressError rather than a silent touch of whatever
// happens to sit next to the block.
func (e *Engine) MallocLikeBlock(addr, size uint32, redzone uint32, isZeroed bool) {
	if isZeroed {
		e.MakeMemDefined(addr, size)
	} else {
		e.MakeMemUndefined(addr, size)
	}
	e.heap[addr] = HeapBlock{Addr: addr, Size: size, Redzone: redzone, IsZeroed: isZeroed}
	if redzone > 0 {
		e.banRedzone(addr-redzone, redzone)
		e.banRedzone(addr+size, redzone)
	}
}

// banRedzone marks [addr, addr+length) permanently inaccessible as a guard
// band, notifying the active tool via FireBanMem first.
func (e *Engine) banRedzone(addr, length uint32) {
	e.Track.FireBanMem(addr, length)
	e.Shadow.MakeInaccessible(addr, length)
}

// FreeLikeBlock marks addr's block inaccessible and moves it onto the
// free-like quarantine FIFO instead of forgetting it outright, so accesses
// within a realistic use-after-free window still land an AddressError
// (spec's "freelist volume" contract). A later DoLeakCheck no longer
// reports it. Freeing an address that was never handed back by
// MallocLikeBlock is itself an error: a live block not found in the heap
// but still sitting in quarantine is a mismatched/double free; anything
// else is a bad free against an address no allocator ever produced.
func (e *Engine) FreeLikeBlock(addr uint32, redzone uint32) {
	blk, ok := e.heap[addr]
	if !ok {
		if e.isQuarantined(addr) {
			e.Track.FireMismatchedFree(addr)
			e.Recorder.MaybeRecord(report.MismatchedFreeError, addr,
				fmt.Sprintf("free of address 0x%08X which was already freed", addr), nil, execontext.Fingerprint{})
			return
		}
		e.Track.FireBadFree(addr)
		e.Recorder.MaybeRecord(report.FreeError, addr,
			fmt.Sprintf("free of address 0x%08X which was not malloc'd", addr), nil, execontext.Fingerprint{})
		return
	}
	e.MakeMemNoAccess(addr, blk.Size)
	delete(e.heap, addr)
	e.enqueueFreed(addr, blk.Size)
}

func (e *Engine) isQuarantined(addr uint32) bool {
	for _, f := range e.freed {
		if f.Addr == addr {
			return true
		}
	}
	return false
}

// enqueueFreed appends a newly-freed block to the quarantine FIFO, then
// evicts from the front (oldest first) until the tracked volume is back
// within FreelistVol. Eviction means genuinely forgetting the block: a
// subsequent free of that address is then treated as a fresh bad free
// rather than a mismatched one, matching real allocators eventually
// recycling quarantined memory.
func (e *Engine) enqueueFreed(addr, size uint32) {
	e.freed = append(e.freed, freedBlock{Addr: addr, Size: size})
	e.freedBytes += size

	vol := e.FreelistVol
	if vol == 0 {
		vol = defaultFreelistVolume
	}
	for e.freedBytes > vol && len(e.freed) > 0 {
		oldest := e.freed[0]
		e.freed = e.freed[1:]
		e.freedBytes -= oldest.Size
	}
}

// CheckValue is the engine-level half of the value-check client request:
// it consults the shadow map's definedness state for [addr, addr+size)
// without touching addressability, and records a ValueError if any byte
// in the range is inaccessible or undefined. Returns whether the value
// was fully defined, so a tool-side handler can also branch on the
// result if it wants to.
func (e *Engine) CheckValue(addr uint32, size uint32) bool {
	if e.Shadow.CheckDefined(addr, int(size)) {
		return true
	}
	e.Recorder.MaybeRecord(report.ValueError, addr,
		fmt.Sprintf("use of undefined value of size %d at address 0x%08X", size, addr), nil, execontext.Fingerprint{})
	return false
}

// DoLeakCheck reports every still-live heap block as a leak to the
// recorder and returns the count found.
func (e *Engine) DoLeakCheck() uint32 {
	var n uint32
	for _, blk := range e.heap {
		n++
		e.Recorder.MaybeRecord("MemoryLeak", blk.Addr,
			fmt.Sprintf("%d bytes lost, allocated block never freed", blk.Size), blk, blk.Context)
	}
	return n
}
