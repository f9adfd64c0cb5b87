package report

// Core-level error kinds, matching the taxonomy every tool built on this
// engine can raise in addition to its own tool-scoped kinds. Tools are free
// to use other Kind strings entirely (suppression matching only cares that
// the string matches), but a tool should prefer these where the failure
// genuinely is one of these core conditions rather than inventing a
// near-duplicate name.
const (
	// AddressError: a read or write touched a byte whose A-bit is invalid.
	AddressError Kind = "AddressError"
	// ValueError: a control decision consumed an undefined V-byte.
	ValueError Kind = "ValueError"
	// ParamError: a syscall pointer argument was unreadable/unwritable, or
	// a NUL-terminated string argument wasn't terminated within mapped
	// memory.
	ParamError Kind = "ParamError"
	// CoreMemError: a core-internal operation touched bad memory.
	CoreMemError Kind = "CoreMemError"
	// JumpError: the instrumenter was asked to translate an unreadable IP.
	JumpError Kind = "JumpError"
	// UserError: a client-request-initiated check failed.
	UserError Kind = "UserError"
	// FreeError: free was called on an address malloc never handed out.
	FreeError Kind = "FreeError"
	// MismatchedFreeError: free/delete/delete[] was inconsistent with the
	// allocating call. The engine records it for a second free of a block
	// still in its post-free quarantine; allocator kinds are not tracked.
	MismatchedFreeError Kind = "MismatchedFreeError"
)
