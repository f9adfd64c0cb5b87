// Package track implements the event-dispatch fabric that connects the
// instrumentation core to an active tool: a fixed set of typed callback
// slots, not an interface or vtable, fired at well-defined points before and
// after the core mutates shadow/thread/process state.
package track

// NewMemHandler is called once for every newly accessible memory region
// (heap allocation, stack growth, new mapping) before the core updates its
// own bookkeeping for that region.
type NewMemHandler func(addr uint32, length uint32)

// DieMemHandler is called once for every region about to become
// inaccessible (free, stack shrink, unmap), before the shadow state for
// those bytes is cleared.
type DieMemHandler func(addr uint32, length uint32)

// CopyMemHandler is called when a region's shadow state is copied wholesale
// from one address range to another (realloc, mremap), after the copy has
// completed.
type CopyMemHandler func(src, dst uint32, length uint32)

// PreMemAccessHandler is called immediately before a checked memory access,
// letting a tool inspect (but not veto) the pending access.
type PreMemAccessHandler func(addr uint32, size int, isWrite bool)

// PostMemAccessHandler is called immediately after a checked memory access
// has been classified, carrying whether it was found to be invalid.
type PostMemAccessHandler func(addr uint32, size int, isWrite bool, invalid bool)

// BanMemHandler is called when a range is marked permanently inaccessible as
// a guard band rather than as an ordinary free (heap/stack redzones).
type BanMemHandler func(addr uint32, length uint32)

// ChangeMemMprotectHandler is called when a region's page permissions
// change, carrying the new read/write/execute bits.
type ChangeMemMprotectHandler func(addr uint32, length uint32, r, w, x bool)

// SyscallPart identifies which subsystem a syscall-parameter check is being
// made on behalf of.
type SyscallPart int

const (
	PartSyscall SyscallPart = iota
	PartSignal
	PartPthread
	PartTranslate
)

// PreMemReadHandler is called before the core reads a syscall/signal/pthread
// parameter out of guest memory on the tool's behalf, naming which part of
// the core is asking and what it calls the parameter.
type PreMemReadHandler func(part SyscallPart, tid uint32, name string, addr uint32, size uint32)

// PreMemReadAsciizHandler is the NUL-terminated-string counterpart of
// PreMemReadHandler; size is discovered by the scan itself, not known ahead
// of time.
type PreMemReadAsciizHandler func(part SyscallPart, tid uint32, name string, addr uint32)

// PreMemWriteHandler is called before the core writes a syscall result back
// into guest memory.
type PreMemWriteHandler func(part SyscallPart, tid uint32, name string, addr uint32, size uint32)

// PostMemWriteHandler is called after that write has completed.
type PostMemWriteHandler func(part SyscallPart, tid uint32, name string, addr uint32, size uint32)

// ThreadCreateHandler is called when a new guest thread is registered with
// the process services table.
type ThreadCreateHandler func(tid uint32)

// ThreadExitHandler is called when a guest thread is deregistered, after
// its final state has been recorded.
type ThreadExitHandler func(tid uint32)

// PostThreadCreateHandler is called after a parent thread successfully
// spawns child, distinct from ThreadCreateHandler's table-registration event:
// this one names the parent/child relationship a happens-before-tracking
// tool needs.
type PostThreadCreateHandler func(parent, child uint32)

// PostThreadJoinHandler is called after joiner successfully joins joinee.
type PostThreadJoinHandler func(joiner, joinee uint32)

// MutexHandler covers the pre/post mutex lock/unlock events; all three share
// a shape since none of them carry more than the mutex identity and the
// locking thread.
type MutexHandler func(tid uint32, mutexAddr uint32)

// BadFreeHandler is called when free-like-block names an address that was
// never handed out by a matching malloc-like-block call.
type BadFreeHandler func(addr uint32)

// MismatchedFreeHandler is called for a MismatchedFreeError. The engine
// raises one when free-like-block names an address that is still in its
// post-free quarantine (a second free of the same block); it does not track
// which allocator produced a block.
type MismatchedFreeHandler func(addr uint32)

// ClientRequestHandler is called through Dispatcher.FireClientRequest;
// returning handled true reports that the tool consumed the request, with
// result as its answer. clientreq.Table.Dispatch does not call
// FireClientRequest.
type ClientRequestHandler func(code uint32, args [4]uint32) (handled bool, result uint32)

// Callbacks is a flat struct of optional handler slots. Each field is
// independently nilable; Dispatcher checks for nil before calling, so a tool
// that only cares about memory events leaves every other field unset.
type Callbacks struct {
	NewMem        NewMemHandler
	DieMem        DieMemHandler
	CopyMem       CopyMemHandler
	BanMem        BanMemHandler
	ChangeMemMprotect ChangeMemMprotectHandler
	PreMemAccess  PreMemAccessHandler
	PostMemAccess PostMemAccessHandler
	PreMemRead       PreMemReadHandler
	PreMemReadAsciiz PreMemReadAsciizHandler
	PreMemWrite      PreMemWriteHandler
	PostMemWrite     PostMemWriteHandler
	ThreadCreate     ThreadCreateHandler
	ThreadExit       ThreadExitHandler
	PostThreadCreate PostThreadCreateHandler
	PostThreadJoin   PostThreadJoinHandler
	PreMutexLock     MutexHandler
	PostMutexLock    MutexHandler
	PostMutexUnlock  MutexHandler
	BadFree          BadFreeHandler
	MismatchedFree   MismatchedFreeHandler
	ClientRequest    ClientRequestHandler
}

// Dispatcher owns the currently registered Callbacks and fires them. A
// Dispatcher with a zero-value Callbacks behaves as a no-op tool: every Fire
// method becomes a cheap nil check.
type Dispatcher struct {
	cb Callbacks
}

// NewDispatcher creates a Dispatcher wired to cb. Passing the zero value is
// valid and means no callbacks fire.
func NewDispatcher(cb Callbacks) *Dispatcher {
	return &Dispatcher{cb: cb}
}

// Set replaces the registered callbacks wholesale, used when a tool attaches
// after the engine has already constructed its Dispatcher.
func (d *Dispatcher) Set(cb Callbacks) {
	d.cb = cb
}

// FireNewMem notifies the active tool of newly accessible memory. Called by
// shadow range operators' callers (engine-level, not shadow itself) before
// the A/V state transition is applied, so a tool can snapshot prior state if
// it needs to.
func (d *Dispatcher) FireNewMem(addr uint32, length uint32) {
	if d.cb.NewMem != nil {
		d.cb.NewMem(addr, length)
	}
}

// FireDieMem notifies the active tool that a region is about to become
// inaccessible, before the core clears its shadow state.
func (d *Dispatcher) FireDieMem(addr uint32, length uint32) {
	if d.cb.DieMem != nil {
		d.cb.DieMem(addr, length)
	}
}

// FireCopyMem notifies the active tool after a shadow-state copy completes.
func (d *Dispatcher) FireCopyMem(src, dst uint32, length uint32) {
	if d.cb.CopyMem != nil {
		d.cb.CopyMem(src, dst, length)
	}
}

// FireBanMem notifies the active tool that a range is being permanently
// banned (a redzone), before the shadow state is marked inaccessible.
func (d *Dispatcher) FireBanMem(addr uint32, length uint32) {
	if d.cb.BanMem != nil {
		d.cb.BanMem(addr, length)
	}
}

// FireChangeMemMprotect notifies the active tool of a page-permission
// change.
func (d *Dispatcher) FireChangeMemMprotect(addr uint32, length uint32, r, w, x bool) {
	if d.cb.ChangeMemMprotect != nil {
		d.cb.ChangeMemMprotect(addr, length, r, w, x)
	}
}

// FirePreMemRead notifies the active tool before a syscall/signal/pthread
// parameter is read out of guest memory on its behalf.
func (d *Dispatcher) FirePreMemRead(part SyscallPart, tid uint32, name string, addr uint32, size uint32) {
	if d.cb.PreMemRead != nil {
		d.cb.PreMemRead(part, tid, name, addr, size)
	}
}

// FirePreMemReadAsciiz is the NUL-terminated-string counterpart of
// FirePreMemRead.
func (d *Dispatcher) FirePreMemReadAsciiz(part SyscallPart, tid uint32, name string, addr uint32) {
	if d.cb.PreMemReadAsciiz != nil {
		d.cb.PreMemReadAsciiz(part, tid, name, addr)
	}
}

// FirePreMemWrite notifies the active tool before the core writes a
// syscall result back into guest memory.
func (d *Dispatcher) FirePreMemWrite(part SyscallPart, tid uint32, name string, addr uint32, size uint32) {
	if d.cb.PreMemWrite != nil {
		d.cb.PreMemWrite(part, tid, name, addr, size)
	}
}

// FirePostMemWrite notifies the active tool after that write completes.
func (d *Dispatcher) FirePostMemWrite(part SyscallPart, tid uint32, name string, addr uint32, size uint32) {
	if d.cb.PostMemWrite != nil {
		d.cb.PostMemWrite(part, tid, name, addr, size)
	}
}

// FirePostThreadCreate notifies the active tool after parent spawns child.
func (d *Dispatcher) FirePostThreadCreate(parent, child uint32) {
	if d.cb.PostThreadCreate != nil {
		d.cb.PostThreadCreate(parent, child)
	}
}

// FirePostThreadJoin notifies the active tool after joiner joins joinee.
func (d *Dispatcher) FirePostThreadJoin(joiner, joinee uint32) {
	if d.cb.PostThreadJoin != nil {
		d.cb.PostThreadJoin(joiner, joinee)
	}
}

// FirePreMutexLock, FirePostMutexLock and FirePostMutexUnlock notify the
// active tool around mutex operations, letting a race/deadlock-detecting
// tool maintain lock-order or happens-before state.
func (d *Dispatcher) FirePreMutexLock(tid uint32, mutexAddr uint32) {
	if d.cb.PreMutexLock != nil {
		d.cb.PreMutexLock(tid, mutexAddr)
	}
}

func (d *Dispatcher) FirePostMutexLock(tid uint32, mutexAddr uint32) {
	if d.cb.PostMutexLock != nil {
		d.cb.PostMutexLock(tid, mutexAddr)
	}
}

func (d *Dispatcher) FirePostMutexUnlock(tid uint32, mutexAddr uint32) {
	if d.cb.PostMutexUnlock != nil {
		d.cb.PostMutexUnlock(tid, mutexAddr)
	}
}

// FireBadFree notifies the active tool that free-like-block named an
// address no allocator ever handed out.
func (d *Dispatcher) FireBadFree(addr uint32) {
	if d.cb.BadFree != nil {
		d.cb.BadFree(addr)
	}
}

// FireMismatchedFree notifies the active tool of a MismatchedFreeError (see
// MismatchedFreeHandler for when the engine raises one).
func (d *Dispatcher) FireMismatchedFree(addr uint32) {
	if d.cb.MismatchedFree != nil {
		d.cb.MismatchedFree(addr)
	}
}

// FirePreMemAccess notifies the active tool immediately before a checked
// access is classified.
func (d *Dispatcher) FirePreMemAccess(addr uint32, size int, isWrite bool) {
	if d.cb.PreMemAccess != nil {
		d.cb.PreMemAccess(addr, size, isWrite)
	}
}

// FirePostMemAccess notifies the active tool immediately after a checked
// access has been classified, carrying the outcome.
func (d *Dispatcher) FirePostMemAccess(addr uint32, size int, isWrite bool, invalid bool) {
	if d.cb.PostMemAccess != nil {
		d.cb.PostMemAccess(addr, size, isWrite, invalid)
	}
}

// FireThreadCreate notifies the active tool of a newly registered thread.
func (d *Dispatcher) FireThreadCreate(tid uint32) {
	if d.cb.ThreadCreate != nil {
		d.cb.ThreadCreate(tid)
	}
}

// FireThreadExit notifies the active tool that a thread has exited.
func (d *Dispatcher) FireThreadExit(tid uint32) {
	if d.cb.ThreadExit != nil {
		d.cb.ThreadExit(tid)
	}
}

// FireClientRequest offers a client request to the active tool. handled
// reports whether the tool consumed it. Nothing in the built-in client
// request path (clientreq.Table.Dispatch, the executor's SWI handling)
// calls it.
func (d *Dispatcher) FireClientRequest(code uint32, args [4]uint32) (handled bool, result uint32) {
	if d.cb.ClientRequest == nil {
		return false, 0
	}
	return d.cb.ClientRequest(code, args)
}
