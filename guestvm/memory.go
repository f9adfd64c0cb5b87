// Package guestvm is the instrumented back-end: an interpreter written for
// this module whose Memory can check an access against a shadow.Map before
// touching guest bytes, and whose Executor lowers guest instructions into
// ucode.Op sequences run through the active tool's Instrument hook, running
// the shadow check only for accesses the instrumented block asks to check.
package guestvm

import (
	"fmt"

	"github.com/shadowcheck/core/engine"
	"github.com/shadowcheck/core/execontext"
	"github.com/shadowcheck/core/report"
	"github.com/shadowcheck/core/shadow"
)

// Memory segment layout, carried over from the teacher's fixed four-segment
// address map.
const (
	CodeSegmentStart  = 0x00008000
	CodeSegmentSize   = 0x00010000
	DataSegmentStart  = 0x00020000
	DataSegmentSize   = 0x00010000
	HeapSegmentStart  = 0x00030000
	HeapSegmentSize   = 0x00010000
	StackSegmentStart = 0x00040000
	StackSegmentSize  = 0x00010000
)

// Permission is a segment's coarse read/write/execute capability,
// independent of the shadow map's byte-granular addressability tracking:
// a segment permission violation is a guest configuration bug (wrong
// segment entirely), while a shadow violation is the thing this whole
// package exists to detect (use-after-free, uninitialised read, overrun).
type Permission byte

const (
	PermNone    Permission = 0
	PermRead    Permission = 1 << 0
	PermWrite   Permission = 1 << 1
	PermExecute Permission = 1 << 2
)

// Segment is one mapped region of guest address space.
type Segment struct {
	Start       uint32
	Size        uint32
	Data        []byte
	Permissions Permission
	Name        string
}

// Memory is the guest's byte-addressable memory, backed by fixed segments.
// The exported Read*/Write* methods check every access against a
// shadow.Map; the executor instead runs checkRead/checkWrite only when the
// instrumented block asks for a check, then the raw touch. Reads and writes that
// fail the shadow check are reported to eng.Recorder rather than returned
// as a bare Go error, matching the "reported, not thrown" access-violation
// policy: guest execution continues (producing a poisoned or retried
// result) rather than unwinding the Go call stack.
type Memory struct {
	Segments []*Segment
	Shadow   *shadow.Map
	Engine   *engine.Engine
}

// NewMemory constructs the standard four-segment guest memory. Every
// segment byte is mapped, but accessibility within the segments is
// governed by the shadow map, where every byte starts out inaccessible
// until it is marked as memory is allocated/freed.
func NewMemory(eng *engine.Engine) *Memory {
	m := &Memory{Shadow: eng.Shadow, Engine: eng}
	m.addSegment("code", CodeSegmentStart, CodeSegmentSize, PermRead|PermExecute)
	m.addSegment("data", DataSegmentStart, DataSegmentSize, PermRead|PermWrite)
	m.addSegment("heap", HeapSegmentStart, HeapSegmentSize, PermRead|PermWrite)
	m.addSegment("stack", StackSegmentStart, StackSegmentSize, PermRead|PermWrite)
	return m
}

func (m *Memory) addSegment(name string, start, size uint32, perm Permission) {
	m.Segments = append(m.Segments, &Segment{Start: start, Size: size, Data: make([]byte, size), Permissions: perm, Name: name})
}

func (m *Memory) findSegment(addr uint32) (*Segment, uint32, error) {
	for _, seg := range m.Segments {
		if addr >= seg.Start && addr < seg.Start+seg.Size {
			return seg, addr - seg.Start, nil
		}
	}
	return nil, 0, fmt.Errorf("guestvm: address 0x%08X is not mapped by any segment", addr)
}

// AccessResult is what a checked Read/Write returns: whether the real byte
// value is meaningful (Ok), and, on failure, whether the fault was a
// segment-level mapping error (fatal, always reported as a VM integrity
// problem) versus a shadow-level addressability violation (recorded as a
// tool error, after which the caller may continue with a poisoned value).
type AccessResult struct {
	Ok           bool
	SegmentFault bool
}

// FingerprintFunc captures the calling execution context lazily, so a
// successful access never pays for a stack walk.
type FingerprintFunc func() execontext.Fingerprint

// ReadByte performs a fully-checked single-byte read: shadow check, then
// the raw touch. This is the convenience path used by callers that bypass
// the executor's instrumented-block dispatch entirely (tests, and any
// future direct-access client request); the executor itself only reaches
// the shadow check when the active tool's Instrument hook actually asked
// for one (see checkRead/checkWrite and Executor.readByte/writeByte).
func (m *Memory) ReadByte(addr uint32, fp FingerprintFunc) (byte, AccessResult) {
	if res := m.checkRead(addr, 1, fp); !res.Ok {
		return 0, res
	}
	return m.rawReadByte(addr)
}

// WriteByte performs a fully-checked single-byte write.
func (m *Memory) WriteByte(addr uint32, value byte, fp FingerprintFunc) AccessResult {
	if res := m.checkWrite(addr, 1, fp); !res.Ok {
		return res
	}
	return m.rawWriteByte(addr, value)
}

// ReadWord performs a fully-checked 4-byte little-endian read.
func (m *Memory) ReadWord(addr uint32, fp FingerprintFunc) (uint32, AccessResult) {
	if res := m.checkRead(addr, 4, fp); !res.Ok {
		return 0, res
	}
	return m.rawReadWord(addr)
}

// WriteWord performs a fully-checked 4-byte little-endian write.
func (m *Memory) WriteWord(addr uint32, value uint32, fp FingerprintFunc) AccessResult {
	if res := m.checkWrite(addr, 4, fp); !res.Ok {
		return res
	}
	return m.rawWriteWord(addr, value)
}

// checkRead and checkWrite are the shadow-consulting half of an access,
// split out so the executor can run them only when an instrumented
// block's CCALL op says to (package guestasm/guestvm's equivalent of
// memcheck's MC_(helperc_*) functions: pure checks, no data movement).
// They fire the tool's Pre/PostMemAccess callbacks and, on an invalid
// outcome, report to the engine's recorder; they never touch segment
// data themselves.
func (m *Memory) checkRead(addr uint32, size int, fp FingerprintFunc) AccessResult {
	if _, _, err := m.findSegment(addr); err != nil {
		return AccessResult{SegmentFault: true}
	}
	m.Engine.Track.FirePreMemAccess(addr, size, false)
	valid := m.shadowReadValid(addr, size)
	m.Engine.Track.FirePostMemAccess(addr, size, false, !valid)
	if !valid {
		m.reportInvalidAccess(addr, size, false, fp)
		return AccessResult{Ok: false}
	}
	return AccessResult{Ok: true}
}

func (m *Memory) checkWrite(addr uint32, size int, fp FingerprintFunc) AccessResult {
	if _, _, err := m.findSegment(addr); err != nil {
		return AccessResult{SegmentFault: true}
	}
	m.Engine.Track.FirePreMemAccess(addr, size, true)
	valid := m.shadowWriteValid(addr, size)
	m.Engine.Track.FirePostMemAccess(addr, size, true, !valid)
	if !valid {
		m.reportInvalidAccess(addr, size, true, fp)
		return AccessResult{Ok: false}
	}
	return AccessResult{Ok: true}
}

// shadowReadValid consults the shadow map without touching guest data. A
// word read tolerates a Partial outcome (mixed addressable bytes under
// PartialLoadsOK); a byte read has no such middle ground.
func (m *Memory) shadowReadValid(addr uint32, size int) bool {
	switch size {
	case 1:
		return m.Shadow.ReadCheck1(addr).Outcome == shadow.OutcomeValid
	case 4:
		return m.Shadow.ReadCheck4(addr).Outcome != shadow.OutcomeInvalid
	default:
		return false
	}
}

func (m *Memory) shadowWriteValid(addr uint32, size int) bool {
	switch size {
	case 1:
		return m.Shadow.WriteCheck1(addr).Outcome == shadow.OutcomeValid
	case 4:
		return m.Shadow.WriteCheck4(addr).Outcome == shadow.OutcomeValid
	default:
		return false
	}
}

// rawReadByte, rawWriteByte, rawReadWord and rawWriteWord touch segment
// bytes unconditionally, with no shadow check at all: the raw half of an
// access, run either after checkRead/checkWrite passes or, when no tool
// asked for a check, on its own. A raw write still updates the shadow
// map's V-state, since byte definedness must stay accurate regardless of
// whether this particular access was observed.
func (m *Memory) rawReadByte(addr uint32) (byte, AccessResult) {
	seg, off, err := m.findSegment(addr)
	if err != nil {
		return 0, AccessResult{SegmentFault: true}
	}
	return seg.Data[off], AccessResult{Ok: true}
}

func (m *Memory) rawWriteByte(addr uint32, value byte) AccessResult {
	seg, off, err := m.findSegment(addr)
	if err != nil {
		return AccessResult{SegmentFault: true}
	}
	seg.Data[off] = value
	m.Shadow.SetDefinedByte(addr, 0x00)
	return AccessResult{Ok: true}
}

func (m *Memory) rawReadWord(addr uint32) (uint32, AccessResult) {
	seg, off, err := m.findSegment(addr)
	if err != nil {
		return 0, AccessResult{SegmentFault: true}
	}
	if off+3 >= uint32(len(seg.Data)) {
		return 0, AccessResult{SegmentFault: true}
	}
	value := uint32(seg.Data[off]) | uint32(seg.Data[off+1])<<8 | uint32(seg.Data[off+2])<<16 | uint32(seg.Data[off+3])<<24
	return value, AccessResult{Ok: true}
}

func (m *Memory) rawWriteWord(addr uint32, value uint32) AccessResult {
	seg, off, err := m.findSegment(addr)
	if err != nil {
		return AccessResult{SegmentFault: true}
	}
	if off+3 >= uint32(len(seg.Data)) {
		return AccessResult{SegmentFault: true}
	}
	seg.Data[off] = byte(value)
	seg.Data[off+1] = byte(value >> 8)
	seg.Data[off+2] = byte(value >> 16)
	seg.Data[off+3] = byte(value >> 24)
	m.Shadow.SetDefinedByte(addr, 0x00)
	m.Shadow.SetDefinedByte(addr+1, 0x00)
	m.Shadow.SetDefinedByte(addr+2, 0x00)
	m.Shadow.SetDefinedByte(addr+3, 0x00)
	return AccessResult{Ok: true}
}

func (m *Memory) reportInvalidAccess(addr uint32, size int, isWrite bool, fp FingerprintFunc) {
	kind := report.Kind("InvalidRead")
	msg := fmt.Sprintf("invalid read of size %d at address 0x%08X", size, addr)
	if isWrite {
		kind = "InvalidWrite"
		msg = fmt.Sprintf("invalid write of size %d at address 0x%08X", size, addr)
	}
	var fingerprint execontext.Fingerprint
	if fp != nil {
		fingerprint = fp()
	}
	m.Engine.Recorder.MaybeRecord(kind, addr, msg, nil, fingerprint)
}
