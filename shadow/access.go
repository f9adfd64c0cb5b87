package shadow

// Outcome classifies the result of a checked memory access.
type Outcome int

const (
	// OutcomeValid means every byte touched was addressable (and, for
	// writes, that's the whole story).
	OutcomeValid Outcome = iota
	// OutcomeInvalid means an AddressError should be raised: either every
	// byte was inaccessible, or some were and the access didn't qualify for
	// the partial-load exception.
	OutcomeInvalid
	// OutcomePartial means the tool opted into partial-loads-ok, the access
	// was an aligned read, and a mix of accessible/inaccessible bytes was
	// found; no error, but VWord carries undefined bits for the gaps.
	OutcomePartial
)

// Check is the result of a read or write access check.
type Check struct {
	Outcome Outcome
	// VWord carries up to 8 bytes of definedness state for the accessed
	// bytes, little-endian, valid only when the owning Map tracks validity.
	// On OutcomeInvalid for a read, VWord is forced all-defined (zero) so
	// the caller can keep going without cascading value errors.
	VWord uint64
}

func allUndefined(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(size*8)) - 1
}

// ReadCheck4 is the fast-path read check for a 4-byte access, matching the
// rotate/mask/nibble algorithm from the spec: misaligned addresses fold into
// the always-distinguished alignment-dispatch region of the primary table at
// zero extra branch cost, sharing the slow path with genuine addressability
// faults.
func (m *Map) ReadCheck4(addr uint32) Check {
	sec := m.Primary[secNoWord(addr)]
	if nib := wordNibble(sec, addr); nib == 0 {
		if !m.TrackValidity {
			return Check{Outcome: OutcomeValid}
		}
		return Check{Outcome: OutcomeValid, VWord: uint64(wordVFromSecondary(sec, addr))}
	}
	return m.slowCheck(addr, 4, false)
}

// WriteCheck4 is the fast-path write check for a 4-byte access.
func (m *Map) WriteCheck4(addr uint32) Check {
	sec := m.Primary[secNoWord(addr)]
	if nib := wordNibble(sec, addr); nib == 0 {
		return Check{Outcome: OutcomeValid}
	}
	return m.slowCheck(addr, 4, true)
}

func wordVFromSecondary(sec *Secondary, addr uint32) uint32 {
	if sec.V == nil {
		return 0
	}
	off := addr & windowMask
	return uint32(sec.V[off]) | uint32(sec.V[off+1])<<8 | uint32(sec.V[off+2])<<16 | uint32(sec.V[off+3])<<24
}

// ReadCheck1, ReadCheck2 and ReadCheck8 are the equivalent helpers for the
// other integer access sizes. Sizes 1 and 2 index the primary directly
// (addr>>16) since there's no alignment-dispatch trick for them; size 8
// reuses the 4-byte fast path twice, since two valid adjacent words compose
// into a valid doubleword without needing a dedicated nibble layout.
func (m *Map) ReadCheck1(addr uint32) Check { return m.genericCheck(addr, 1, false) }
func (m *Map) ReadCheck2(addr uint32) Check { return m.genericCheck(addr, 2, false) }
func (m *Map) ReadCheck8(addr uint32) Check {
	if addr&0x7 == 0 {
		lo := m.ReadCheck4(addr)
		hi := m.ReadCheck4(addr + 4)
		if lo.Outcome == OutcomeValid && hi.Outcome == OutcomeValid {
			return Check{Outcome: OutcomeValid, VWord: lo.VWord | hi.VWord<<32}
		}
	}
	return m.slowCheck(addr, 8, false)
}

func (m *Map) WriteCheck1(addr uint32) Check { return m.genericCheck(addr, 1, true) }
func (m *Map) WriteCheck2(addr uint32) Check { return m.genericCheck(addr, 2, true) }
func (m *Map) WriteCheck8(addr uint32) Check {
	if addr&0x7 == 0 {
		lo := m.WriteCheck4(addr)
		hi := m.WriteCheck4(addr + 4)
		if lo.Outcome == OutcomeValid && hi.Outcome == OutcomeValid {
			return Check{Outcome: OutcomeValid}
		}
	}
	return m.slowCheck(addr, 8, true)
}

func (m *Map) genericCheck(addr uint32, size int, isWrite bool) Check {
	sec := m.secondaryAt(addr)
	off := addr & windowMask
	allValid := true
	for i := 0; i < size; i++ {
		b := off + uint32(i)
		if sec.A[b>>3]&(1<<(b&7)) != 0 {
			allValid = false
			break
		}
	}
	if allValid {
		if !m.TrackValidity || isWrite {
			return Check{Outcome: OutcomeValid}
		}
		var v uint64
		for i := 0; i < size; i++ {
			v |= uint64(sec.V[off+uint32(i)]) << uint(i*8)
		}
		return Check{Outcome: OutcomeValid, VWord: v}
	}
	return m.slowCheck(addr, size, isWrite)
}

// ReadCheckFPU handles the larger FPU/vector save-area sizes (8, 10, 16, 28,
// 108, 512 bytes): there's no inlined fast path for these, just the shared
// per-byte slow loop.
func (m *Map) ReadCheckFPU(addr uint32, size int) Check  { return m.slowCheck(addr, size, false) }
func (m *Map) WriteCheckFPU(addr uint32, size int) Check { return m.slowCheck(addr, size, true) }

// slowCheck independently tests each of the size bytes starting at addr for
// addressability (and validity, if tracked), then classifies the access into
// one of the three outcomes documented on the Outcome type.
func (m *Map) slowCheck(addr uint32, size int, isWrite bool) Check {
	accessible := make([]bool, size)
	allValid := true
	anyValid := false
	for i := 0; i < size; i++ {
		ok := m.GetAddressable(addr + uint32(i))
		accessible[i] = ok
		if ok {
			anyValid = true
		} else {
			allValid = false
		}
	}

	if allValid {
		if !m.TrackValidity {
			return Check{Outcome: OutcomeValid}
		}
		var v uint64
		for i := 0; i < size && i < 8; i++ {
			v |= uint64(m.GetDefinedByte(addr+uint32(i))) << uint(i*8)
		}
		return Check{Outcome: OutcomeValid, VWord: v}
	}

	aligned := isAligned(addr, size)
	if !isWrite && anyValid && m.PartialLoadsOK && aligned {
		var v uint64
		for i := 0; i < size && i < 8; i++ {
			if accessible[i] {
				v |= uint64(m.GetDefinedByte(addr+uint32(i))) << uint(i*8)
			} else {
				v |= uint64(0xFF) << uint(i*8)
			}
		}
		return Check{Outcome: OutcomePartial, VWord: v}
	}

	// Fully invalid, or partial-and-unaligned, or partial-and-disallowed, or
	// a write (writes never take the partial branch): address error. Reads
	// get an all-defined V-word back to suppress cascading value errors.
	if isWrite {
		return Check{Outcome: OutcomeInvalid}
	}
	return Check{Outcome: OutcomeInvalid, VWord: 0}
}

// CheckDefined is the value-check helper: it consults the V-bytes of the
// size bytes at addr, independent of the read/write path, for a caller
// that has already loaded a value and now needs to *consume* it (a
// conditional branch, a syscall argument, anything the spec calls a
// "consume a value" point). It reports false for any byte that is either
// inaccessible or marked undefined; a caller that gets false raises a
// size-tagged value error rather than an address error, since the memory
// itself may be perfectly addressable. When the owning Map doesn't track
// validity at all, every addressable byte is considered defined.
func (m *Map) CheckDefined(addr uint32, size int) bool {
	for i := 0; i < size; i++ {
		if !m.GetAddressable(addr + uint32(i)) {
			return false
		}
		if m.TrackValidity && m.GetDefinedByte(addr+uint32(i)) != 0x00 {
			return false
		}
	}
	return true
}

func isAligned(addr uint32, size int) bool {
	switch size {
	case 2:
		return addr&1 == 0
	case 4:
		return addr&3 == 0
	case 8:
		return addr&7 == 0
	default:
		return true
	}
}
