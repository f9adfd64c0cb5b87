package guestvm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shadowcheck/core/clientreq"
	"github.com/shadowcheck/core/engine"
	"github.com/shadowcheck/core/execontext"
	"github.com/shadowcheck/core/guestasm"
	"github.com/shadowcheck/core/tool"
	"github.com/shadowcheck/core/ucode"
)

// CPU holds the minimal register file the executor needs: 13 general
// purpose registers plus SP, LR and PC, mirroring the guest ISA's register
// count without carrying the condition-code/flags machinery a real decoder
// would need (out of scope: this executor interprets guestasm.Instruction
// directly rather than decoding machine words).
type CPU struct {
	R  [13]uint32
	SP uint32
	LR uint32
	PC uint32
}

// CallFrame is one entry of the executor's call stack, used both to
// implement BL/mov pc,lr style returns and to satisfy execontext.StackWalker.
type CallFrame struct {
	ReturnAddr uint32
}

// Executor runs a parsed guestasm.Program against a Memory and an attached
// tool, lowering every memory-touching instruction into ucode.Ops that pass
// through the tool's Instrument hook before the real access happens.
type Executor struct {
	CPU    CPU
	Mem    *Memory
	Engine *engine.Engine
	Tool   *tool.Tool

	prog  *guestasm.Program
	stack []CallFrame
	tid   uint32
	halted bool
	exitCode int32
}

// NewExecutor wires prog against mem/eng/t, ready to Step from prog's entry
// point (address 0, by convention of the fixture programs this executor
// targets).
func NewExecutor(prog *guestasm.Program, mem *Memory, eng *engine.Engine, t *tool.Tool) *Executor {
	return &Executor{Mem: mem, Engine: eng, Tool: t, prog: prog, tid: 1}
}

// WalkFrames implements execontext.StackWalker: it returns up to max of the
// call stack's return addresses, nearest first. pc itself is not included;
// execontext.Capture records it separately as Fingerprint.PC.
func (e *Executor) WalkFrames(pc uint32, max int) []uint32 {
	out := make([]uint32, 0, max)
	for i := len(e.stack) - 1; i >= 0 && len(out) < max; i-- {
		out = append(out, e.stack[i].ReturnAddr)
	}
	return out
}

func (e *Executor) fingerprint() execontext.Fingerprint {
	return execontext.Capture(e.CPU.PC, e)
}

// Halted reports whether the guest program has exited.
func (e *Executor) Halted() bool { return e.halted }

// ExitCode returns the guest's exit code, valid once Halted.
func (e *Executor) ExitCode() int32 { return e.exitCode }

// Run steps the program until it halts or maxSteps is exceeded.
func (e *Executor) Run(maxSteps int) error {
	for i := 0; i < maxSteps && !e.halted; i++ {
		if err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) instructionAt(pc uint32) (*guestasm.Instruction, error) {
	for _, inst := range e.prog.Instructions {
		if inst.Address == pc {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("guestvm: no instruction at address 0x%08X", pc)
}

// Step executes the instruction at the current PC. Memory-touching
// mnemonics are lowered into a ucode.Block and run through the active
// tool's Instrument hook, which inserts a CCALL ahead of the load/store
// naming the check helper (HelperTag) the tool wants run; readByte,
// writeByte, readWord and writeWord then dispatch on that CCALL, so the
// checked access actually happens only when the instrumented block asks
// for it, rather than being hardcoded into Memory regardless of which
// tool (or no tool) is attached. The advancing of PC happens last so
// WalkFrames/fingerprint captured mid-instruction still see the
// pre-instruction PC.
func (e *Executor) Step() error {
	if e.halted {
		return nil
	}
	inst, err := e.instructionAt(e.CPU.PC)
	if err != nil {
		return err
	}

	block := ucode.Block{Addr: e.CPU.PC, Ops: lowerInstruction(inst)}
	if e.Tool != nil {
		block = tool.ApplyInstrumentation(e.Tool, block)
	}

	nextPC := e.CPU.PC + 4
	switch strings.ToUpper(inst.Mnemonic) {
	case "LDR":
		addr := e.operandAddress(inst)
		val, res := e.readWord(block, addr)
		if res.Ok {
			e.setReg(inst.Operands[0], val)
		}
	case "STR":
		addr := e.operandAddress(inst)
		e.writeWord(block, addr, e.getReg(inst.Operands[0]))
	case "LDRB":
		addr := e.operandAddress(inst)
		val, res := e.readByte(block, addr)
		if res.Ok {
			e.setReg(inst.Operands[0], uint32(val))
		}
	case "STRB":
		addr := e.operandAddress(inst)
		e.writeByte(block, addr, byte(e.getReg(inst.Operands[0])))
	case "MOV":
		e.setReg(inst.Operands[0], e.operandValue(inst.Operands[1]))
	case "BL":
		target := e.operandValue(inst.Operands[0])
		e.stack = append(e.stack, CallFrame{ReturnAddr: nextPC})
		nextPC = target
	case "MOV_PC_LR", "RET":
		if len(e.stack) > 0 {
			nextPC = e.stack[len(e.stack)-1].ReturnAddr
			e.stack = e.stack[:len(e.stack)-1]
		} else {
			e.halted = true
		}
	case "SWI":
		e.executeSWI(inst)
	case "HALT":
		e.halted = true
	}

	e.CPU.PC = nextPC
	return nil
}

// readHelpers and writeHelpers map a CCALL op's HelperTag (ucode.helperTagFor's
// output for OpLoad/OpStore) to the Memory check it names. Only the sizes
// this executor's lowerInstruction ever produces (1 and 4 byte accesses)
// have an entry; a tool that tags a block with a size this executor
// doesn't generate gets no check for it rather than a panic, matching the
// IR instrumenter's "extensibility without recompiling the core" design.
var readHelpers = map[string]func(m *Memory, addr uint32, fp FingerprintFunc) AccessResult{
	"read_1": func(m *Memory, addr uint32, fp FingerprintFunc) AccessResult { return m.checkRead(addr, 1, fp) },
	"read_4": func(m *Memory, addr uint32, fp FingerprintFunc) AccessResult { return m.checkRead(addr, 4, fp) },
}

var writeHelpers = map[string]func(m *Memory, addr uint32, fp FingerprintFunc) AccessResult{
	"write_1": func(m *Memory, addr uint32, fp FingerprintFunc) AccessResult { return m.checkWrite(addr, 1, fp) },
	"write_4": func(m *Memory, addr uint32, fp FingerprintFunc) AccessResult { return m.checkWrite(addr, 4, fp) },
}

// ccallBefore returns the CCALL op guarding the block's memory op, if the
// active tool's Instrument hook inserted one. A block with no CCALL (the
// none tool's identity hook, or any uninstrumented block) means no check
// runs at all for this access.
func ccallBefore(block ucode.Block) (ucode.Op, bool) {
	for _, op := range block.Ops {
		if op.Kind == ucode.OpCCall {
			return op, true
		}
	}
	return ucode.Op{}, false
}

// readByte and writeByte, readWord and writeWord are the executor's
// CCALL-gated access points: each dispatches the instrumented block's
// HelperTag to the matching Memory check before running the raw touch,
// instead of Memory enforcing a check unconditionally.
func (e *Executor) readByte(block ucode.Block, addr uint32) (byte, AccessResult) {
	if ccall, ok := ccallBefore(block); ok {
		if check, ok := readHelpers[ccall.HelperTag]; ok {
			if res := check(e.Mem, addr, e.fingerprint); !res.Ok {
				return 0, res
			}
		}
	}
	return e.Mem.rawReadByte(addr)
}

func (e *Executor) writeByte(block ucode.Block, addr uint32, value byte) AccessResult {
	if ccall, ok := ccallBefore(block); ok {
		if check, ok := writeHelpers[ccall.HelperTag]; ok {
			if res := check(e.Mem, addr, e.fingerprint); !res.Ok {
				return res
			}
		}
	}
	return e.Mem.rawWriteByte(addr, value)
}

func (e *Executor) readWord(block ucode.Block, addr uint32) (uint32, AccessResult) {
	if ccall, ok := ccallBefore(block); ok {
		if check, ok := readHelpers[ccall.HelperTag]; ok {
			if res := check(e.Mem, addr, e.fingerprint); !res.Ok {
				return 0, res
			}
		}
	}
	return e.Mem.rawReadWord(addr)
}

func (e *Executor) writeWord(block ucode.Block, addr uint32, value uint32) AccessResult {
	if ccall, ok := ccallBefore(block); ok {
		if check, ok := writeHelpers[ccall.HelperTag]; ok {
			if res := check(e.Mem, addr, e.fingerprint); !res.Ok {
				return res
			}
		}
	}
	return e.Mem.rawWriteWord(addr, value)
}

// operandAddress evaluates a [Rn, #imm]-style memory operand. Only the
// minimal addressing modes the fixture programs in this repository use are
// supported.
func (e *Executor) operandAddress(inst *guestasm.Instruction) uint32 {
	if len(inst.Operands) < 2 {
		return 0
	}
	base := strings.Trim(inst.Operands[1], "[]")
	parts := strings.Split(base, ",")
	addr := e.operandValue(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		addr += uint32(int32(e.operandValue(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(parts[1]), "#")))))
	}
	return addr
}

func (e *Executor) operandValue(op string) uint32 {
	op = strings.TrimSpace(strings.TrimPrefix(op, "#"))
	if reg, ok := regIndex(op); ok {
		return e.getRegByIndex(reg)
	}
	n, err := strconv.ParseInt(op, 0, 64)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func (e *Executor) getReg(op string) uint32 {
	if reg, ok := regIndex(op); ok {
		return e.getRegByIndex(reg)
	}
	return 0
}

func (e *Executor) setReg(op string, value uint32) {
	if reg, ok := regIndex(op); ok {
		e.setRegByIndex(reg, value)
	}
}

func (e *Executor) getRegByIndex(r int) uint32 {
	switch {
	case r == 13:
		return e.CPU.SP
	case r == 14:
		return e.CPU.LR
	case r == 15:
		return e.CPU.PC
	case r >= 0 && r < 13:
		return e.CPU.R[r]
	default:
		return 0
	}
}

func (e *Executor) setRegByIndex(r int, value uint32) {
	switch {
	case r == 13:
		e.CPU.SP = value
	case r == 14:
		e.CPU.LR = value
	case r == 15:
		e.CPU.PC = value
	case r >= 0 && r < 13:
		e.CPU.R[r] = value
	}
}

func regIndex(op string) (int, bool) {
	op = strings.ToUpper(strings.TrimSpace(op))
	switch op {
	case "SP":
		return 13, true
	case "LR":
		return 14, true
	case "PC":
		return 15, true
	}
	if strings.HasPrefix(op, "R") {
		if n, err := strconv.Atoi(op[1:]); err == nil {
			return n, true
		}
	}
	return 0, false
}

// lowerInstruction classifies a guest instruction into its micro-op
// sequence for instrumentation purposes. Non-memory instructions lower to
// a single OpOther/OpArith/OpBranch placeholder so Instrument can copy them
// through unchanged.
func lowerInstruction(inst *guestasm.Instruction) []ucode.Op {
	switch strings.ToUpper(inst.Mnemonic) {
	case "LDR":
		return []ucode.Op{{Kind: ucode.OpLoad, Size: 4}}
	case "STR":
		return []ucode.Op{{Kind: ucode.OpStore, Size: 4}}
	case "LDRB":
		return []ucode.Op{{Kind: ucode.OpLoad, Size: 1}}
	case "STRB":
		return []ucode.Op{{Kind: ucode.OpStore, Size: 1}}
	case "BL", "RET", "MOV_PC_LR":
		return []ucode.Op{{Kind: ucode.OpBranch}}
	case "SWI":
		return []ucode.Op{{Kind: ucode.OpOther}}
	default:
		return []ucode.Op{{Kind: ucode.OpArith}}
	}
}

// SWI numbers repurposed by this package as client-request entry points:
// a guest fixture invoking "SWI #0" with R0=addr,R1=size is asking for a
// malloc-like block, and R0 keeps the block address; SWI #1 with R0=addr asks for free-like-block; SWI #2
// asks for a leak check, returning the leak count in R0; SWI #3 with
// R0=addr,R1=size asks for the value-check helper, returning 1 in R0 if
// every byte in range is defined and 0 (with a ValueError recorded) if not.
const (
	swiMallocLikeBlock = 0
	swiFreeLikeBlock   = 1
	swiDoLeakCheck     = 2
	swiCheckValue      = 3
)

func (e *Executor) executeSWI(inst *guestasm.Instruction) {
	if len(inst.Operands) == 0 {
		return
	}
	num := e.operandValue(inst.Operands[0])
	switch num {
	case swiMallocLikeBlock:
		e.Engine.Requests.Dispatch(clientreq.CodeMallocLikeBlock, clientreq.Args{e.CPU.R[0], e.CPU.R[1], 0, 0})
	case swiFreeLikeBlock:
		e.Engine.Requests.Dispatch(clientreq.CodeFreeLikeBlock, clientreq.Args{e.CPU.R[0], 0, 0, 0})
	case swiDoLeakCheck:
		res, _ := e.Engine.Requests.Dispatch(clientreq.CodeDoLeakCheck, clientreq.Args{})
		e.CPU.R[0] = uint32(res)
	case swiCheckValue:
		res, _ := e.Engine.Requests.Dispatch(clientreq.CodeCheckValue, clientreq.Args{e.CPU.R[0], e.CPU.R[1], 0, 0})
		e.CPU.R[0] = uint32(res)
	}
}
