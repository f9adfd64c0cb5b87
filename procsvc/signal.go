package procsvc

// Signal identifies a guest-visible signal number. Numbering follows the
// conventional Unix assignment far enough to be recognisable; only the
// subset the engine actually reacts to is named.
type Signal int

const (
	SIGSEGV Signal = 11
	SIGBUS  Signal = 7
	SIGILL  Signal = 4
	SIGFPE  Signal = 8
	SIGABRT Signal = 6
	SIGTRAP Signal = 5
)

// SignalDisposition is what the engine does when a signal is raised.
type SignalDisposition int

const (
	// DispositionRetry means the faulting instruction should be retried
	// after state is fixed up (used for synthetic access faults that the
	// engine itself resolves, e.g. a recoverable addressability check).
	DispositionRetry SignalDisposition = iota
	// DispositionFatal means the guest thread (and, for process-wide
	// signals, the whole guest process) must terminate.
	DispositionFatal
	// DispositionIgnore means the signal carries no guest-visible effect
	// under instrumentation (masked or otherwise suppressed).
	DispositionIgnore
)

// fatalSignals are never retryable: by the time the engine raises one of
// these against a guest thread, continuing execution would be meaningless.
var fatalSignals = map[Signal]bool{
	SIGSEGV: true,
	SIGBUS:  true,
	SIGILL:  true,
	SIGABRT: true,
}

// Classify decides the disposition of raising sig against tid, consulting
// whether the thread has already been asked to retry this exact signal
// (tracked via PendingSig) to avoid looping forever on a fault the engine
// cannot actually resolve.
func (t *ThreadTable) Classify(tid uint32, sig Signal) SignalDisposition {
	rec, idx, err := t.find(tid)
	if err != nil {
		return DispositionFatal
	}
	if fatalSignals[sig] {
		return DispositionFatal
	}
	if rec.PendingSig == sig {
		// Already retried once for this exact signal without making
		// progress: escalate rather than spin.
		return DispositionFatal
	}
	rec.PendingSig = sig
	t.slots[idx] = *rec
	return DispositionRetry
}

// ClearPending resets the retry bookkeeping for tid once it makes forward
// progress (e.g. completes an instruction successfully after a retry).
func (t *ThreadTable) ClearPending(tid uint32) {
	if rec, idx, err := t.find(tid); err == nil {
		rec.PendingSig = 0
		t.slots[idx] = *rec
	}
}
