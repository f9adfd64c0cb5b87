// Package ucode implements the IR instrumenter: the pass that walks a block
// of micro-ops lowered from guest instructions and inserts helper-call ops
// ahead of every load, store, and FPU operation so the active tool's checks
// run before the real memory access happens.
package ucode

// OpKind classifies a micro-op for instrumentation purposes. The classes
// mirror the instruction categories the guest executor already switches on
// when decoding an instruction, generalised from "how do I execute this" to
// "does this need a helper call ahead of it".
type OpKind int

const (
	OpLoad OpKind = iota
	OpStore
	OpFPULoad
	OpFPUStore
	OpArith
	OpBranch
	OpCCall // an inserted helper-call op; never present in the input block
	OpOther
)

// Operand tags a single operand slot: a register number, an immediate
// literal, or unused.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandImm
)

// Operand is one operand slot of an Op.
type Operand struct {
	Kind OperandKind
	Reg  int
	Imm  uint32
}

// Op is a single micro-op. Size is the access width in bytes for memory
// micro-ops (1, 2, 4, 8, or an FPU size); zero for non-memory ops. LiveRegs
// is a bitmask of guest registers live across the op, used by CCALL ops to
// know which registers the inserted helper must preserve.
type Op struct {
	Kind      OpKind
	Size      int
	Operands  [3]Operand
	Literal   uint32
	Flags     uint32
	LiveRegs  uint32
	HelperTag string // set only on OpCCall: which check helper to invoke
}

// Block is a straight-line sequence of micro-ops lowered from one guest
// instruction (or a short run of them sharing a basic block).
type Block struct {
	Addr uint32
	Ops  []Op
}

func isMemoryLoad(k OpKind) bool  { return k == OpLoad || k == OpFPULoad }
func isMemoryStore(k OpKind) bool { return k == OpStore || k == OpFPUStore }

func helperTagFor(op Op) string {
	switch op.Kind {
	case OpLoad:
		return helperName("read", op.Size)
	case OpStore:
		return helperName("write", op.Size)
	case OpFPULoad:
		return helperName("read_fpu", op.Size)
	case OpFPUStore:
		return helperName("write_fpu", op.Size)
	default:
		return ""
	}
}

func helperName(prefix string, size int) string {
	switch size {
	case 1, 2, 4, 8, 10, 16, 28, 108, 512:
		return prefix + "_" + sizeLabel(size)
	default:
		return prefix + "_generic"
	}
}

func sizeLabel(size int) string {
	labels := map[int]string{
		1: "1", 2: "2", 4: "4", 8: "8",
		10: "10", 16: "16", 28: "28", 108: "108", 512: "512",
	}
	if l, ok := labels[size]; ok {
		return l
	}
	return "n"
}

// Instrument returns a new Block with a CCALL helper op inserted immediately
// before every load, store, and FPU access op in the input, and every other
// op copied through unchanged (so opcode classes this pass doesn't
// recognise still survive, per the extensibility requirement). Instrument
// is idempotent: a memory op already preceded by a CCALL gets no second
// one, so running it again on its own output changes nothing.
func Instrument(b Block) Block {
	out := Block{Addr: b.Addr, Ops: make([]Op, 0, len(b.Ops)+4)}
	for _, op := range b.Ops {
		n := len(out.Ops)
		guarded := n > 0 && out.Ops[n-1].Kind == OpCCall
		if (isMemoryLoad(op.Kind) || isMemoryStore(op.Kind)) && !guarded {
			out.Ops = append(out.Ops, Op{
				Kind:      OpCCall,
				Size:      op.Size,
				LiveRegs:  op.LiveRegs,
				HelperTag: helperTagFor(op),
			})
		}
		out.Ops = append(out.Ops, op)
	}
	return out
}

// IsInstrumented reports whether b already carries a CCALL immediately
// before every memory op, i.e. whether Instrument(b) would be a no-op.
func IsInstrumented(b Block) bool {
	for i, op := range b.Ops {
		if !isMemoryLoad(op.Kind) && !isMemoryStore(op.Kind) {
			continue
		}
		if i == 0 || b.Ops[i-1].Kind != OpCCall {
			return false
		}
	}
	return true
}
