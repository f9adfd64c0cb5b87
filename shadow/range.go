package shadow

// oversizeWarnThreshold is the byte count above which a range operation logs
// a one-shot warning rather than failing; spec-documented as tolerated, not
// fatal, to accommodate the occasional pathological `len`.
const oversizeWarnThreshold = 100_000_000

func (m *Map) warnIfOversize(length uint32) {
	if length > oversizeWarnThreshold && !m.oversizeWarned {
		m.oversizeWarned = true
		if m.Log != nil {
			m.Log.Warnf("shadow: range operation over %d bytes (threshold %d); continuing", length, oversizeWarnThreshold)
		}
	}
}

// MakeInaccessible marks [addr, addr+length) inaccessible. Used for die_mem_*
// events (heap free, stack shrink, munmap).
func (m *Map) MakeInaccessible(addr uint32, length uint32) {
	m.SetRange(addr, length, false, false)
}

// MakeDefined marks [addr, addr+length) accessible and, if validity is
// tracked, fully defined. Used for new_mem_* events where the tool knows the
// content is meaningful (e.g. is_inited heap allocations, startup mappings).
func (m *Map) MakeDefined(addr uint32, length uint32) {
	m.SetRange(addr, length, true, false)
}

// MakeWritableUndefined marks [addr, addr+length) accessible but undefined:
// addressable for both reads and writes, but any value read back is flagged
// as undefined until written. Used for new heap/stack memory whose content
// hasn't been initialised yet.
func (m *Map) MakeWritableUndefined(addr uint32, length uint32) {
	m.SetRange(addr, length, true, true)
}

// SetRange is the shared range-walker behind the three Make* operations: it
// handles 0-7 leading bytes one at a time, bulk-fills the 8-byte-aligned
// interior by overwriting whole A-bytes (and V-words, if tracked),
// allocating private secondaries as needed, then handles 0-7 trailing bytes
// one at a time. A zero-length range never allocates.
func (m *Map) SetRange(addr uint32, length uint32, accessible bool, undefined bool) {
	if length == 0 {
		return
	}
	m.warnIfOversize(length)

	defined := byte(0x00)
	if undefined {
		defined = 0xFF
	}

	end := addr + length
	cur := addr

	// Leading unaligned bytes.
	for cur < end && cur&0x7 != 0 {
		m.setOneByte(cur, accessible, defined)
		cur++
	}

	// 8-byte-aligned interior: bulk-fill whole A-bytes / V-words at a time.
	for cur+8 <= end {
		m.bulkFillAligned8(cur, accessible, defined)
		cur += 8
	}

	// Trailing bytes.
	for cur < end {
		m.setOneByte(cur, accessible, defined)
		cur++
	}
}

func (m *Map) setOneByte(addr uint32, accessible bool, defined byte) {
	m.SetAddressable(addr, accessible)
	if m.TrackValidity {
		m.SetDefinedByte(addr, defined)
	}
}

// bulkFillAligned8 sets the A-bit for all 8 bytes of an aligned cluster with
// a single byte store (rather than 8 individual bit ops), and likewise fills
// 8 bytes of V in one go when validity is tracked.
func (m *Map) bulkFillAligned8(addr uint32, accessible bool, defined byte) {
	sec := m.ensurePrivate(addr)
	off := addr & windowMask
	aByte := byte(0xFF)
	if accessible {
		aByte = 0x00
	}
	sec.A[off>>3] = aByte
	if m.TrackValidity {
		for i := uint32(0); i < 8; i++ {
			sec.V[off+i] = defined
		}
	}
}

// CopyRange moves (A,V) state from src to dst; an alias retained for callers
// migrating from the bytewise CopyState name used in realloc/mremap call
// sites, identical in behaviour.
func (m *Map) CopyRange(src, dst, length uint32) { m.CopyState(src, dst, length) }
