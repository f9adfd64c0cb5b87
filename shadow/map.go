// Package shadow implements the two-level shadow bitmap that backs the
// instrumentation core: one addressability bit (A-bit) and, optionally, one
// validity byte (V-byte) per guest byte.
package shadow

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	// windowBits is the number of guest address bits covered by a single
	// Secondary (a 64 KiB window).
	windowBits = 16
	windowSize = 1 << windowBits
	windowMask = windowSize - 1

	// primaryBits is the number of extra bits folded into the primary index
	// by the alignment-dispatch trick (see secNoWord). The primary table is
	// therefore 4x the naive 2^(32-16) size.
	primaryExtraBits = 2
	primaryBits      = windowBits + primaryExtraBits
	primarySize      = 1 << primaryBits
	primaryMask      = primarySize - 1

	// aBytesPerWindow holds one bit per guest byte: 65536/8.
	aBytesPerWindow = windowSize / 8
)

// Secondary holds the (A,V) state for one 64 KiB guest window.
type Secondary struct {
	A [aBytesPerWindow]byte
	// V is nil when the owning Map does not track validity.
	V []byte
}

func newSecondary(trackValidity bool, inaccessible bool) *Secondary {
	s := &Secondary{}
	if inaccessible {
		for i := range s.A {
			s.A[i] = 0xFF
		}
	}
	if trackValidity {
		s.V = make([]byte, windowSize)
		if inaccessible {
			for i := range s.V {
				s.V[i] = 0xFF
			}
		}
	}
	return s
}

func (s *Secondary) clone() *Secondary {
	c := &Secondary{A: s.A}
	if s.V != nil {
		c.V = make([]byte, len(s.V))
		copy(c.V, s.V)
	}
	return c
}

// Map is the two-level shadow map: a primary table of Secondary pointers
// indexed by the high bits of a guest address, plus the single distinguished
// Secondary shared by every primary slot that currently covers unmapped
// memory.
type Map struct {
	Primary []*Secondary

	// TrackValidity enables the optional V-byte half of the map. Tools that
	// only care about addressability (A-bit) leave this false and every
	// Secondary.V stays nil.
	TrackValidity bool

	// PartialLoadsOK, when true, lets an aligned read whose bytes are a mix
	// of addressable/inaccessible succeed without an AddressError, composing
	// an undefined V-word for the inaccessible positions. Writes never take
	// this branch regardless of the setting (spec-documented asymmetry).
	PartialLoadsOK bool

	distinguished   *Secondary
	allocated       int
	oversizeWarned  bool

	Log *logrus.Logger
}

// NewMap constructs a shadow map for a 32-bit guest address space.
func NewMap(trackValidity bool) *Map {
	dist := newSecondary(trackValidity, true)
	m := &Map{
		Primary:       make([]*Secondary, primarySize),
		TrackValidity: trackValidity,
		distinguished: dist,
		Log:           logrus.StandardLogger(),
	}
	for i := range m.Primary {
		m.Primary[i] = dist
	}
	return m
}

// AllocatedSecondaries reports how many private (non-distinguished)
// secondaries have been allocated so far.
func (m *Map) AllocatedSecondaries() int { return m.allocated }

func secNoLinear(addr uint32) uint32 { return addr >> windowBits }

// rotateRight16 rotates a 32-bit value right by 16 bits.
func rotateRight16(x uint32) uint32 { return (x >> 16) | (x << 16) }

// secNoWord computes the alignment-dispatch primary index for a 4-byte
// access: aligned addresses land on the ordinary addr>>16 slot; any of the
// low two address bits being set rotates into the upper, always-distinguished
// 3/4 of the extended primary, so a misaligned fast-path lookup fails for
// free alongside an unmapped one.
func secNoWord(addr uint32) uint32 { return rotateRight16(addr) & primaryMask }

func (m *Map) secondaryAt(addr uint32) *Secondary {
	return m.Primary[secNoLinear(addr)]
}

// ensurePrivate returns a Secondary owned exclusively by this 64 KiB window,
// cloning the distinguished secondary into a fresh private one on first
// write. This is the only operation in the package that may allocate.
func (m *Map) ensurePrivate(addr uint32) *Secondary {
	idx := secNoLinear(addr)
	sec := m.Primary[idx]
	if sec == m.distinguished {
		sec = m.distinguished.clone()
		m.Primary[idx] = sec
		m.allocated++
	}
	return sec
}

// GetAddressable reports whether addr is currently accessible.
func (m *Map) GetAddressable(addr uint32) bool {
	sec := m.secondaryAt(addr)
	off := addr & windowMask
	return sec.A[off>>3]&(1<<(off&7)) == 0
}

// GetDefinedByte returns the V-byte for addr. Only meaningful when
// TrackValidity is set.
func (m *Map) GetDefinedByte(addr uint32) byte {
	sec := m.secondaryAt(addr)
	if sec.V == nil {
		return 0
	}
	return sec.V[addr&windowMask]
}

// SetAddressable marks addr accessible or inaccessible.
func (m *Map) SetAddressable(addr uint32, accessible bool) {
	sec := m.ensurePrivate(addr)
	off := addr & windowMask
	bit := byte(1 << (off & 7))
	if accessible {
		sec.A[off>>3] &^= bit
	} else {
		sec.A[off>>3] |= bit
	}
}

// SetDefinedByte sets the V-byte for addr (no-op if validity isn't tracked).
func (m *Map) SetDefinedByte(addr uint32, v byte) {
	if !m.TrackValidity {
		return
	}
	sec := m.ensurePrivate(addr)
	sec.V[addr&windowMask] = v
}

// GetAddressableWordAligned returns the 4-bit addressability nibble covering
// a 4-byte-aligned address: bit i (from the low end) set means byte i of the
// word is inaccessible. addr must be 4-byte aligned; callers on the fast path
// of a 4-byte access use secNoWord instead of this helper directly.
func (m *Map) GetAddressableWordAligned(addr uint32) byte {
	sec := m.secondaryAt(addr)
	return wordNibble(sec, addr)
}

func wordNibble(sec *Secondary, addr uint32) byte {
	byteIdx := (addr & windowMask) >> 3
	return (sec.A[byteIdx] >> (addr & 4)) & 0xF
}

// GetDefinedWordAligned returns the 4 V-bytes covering a 4-byte-aligned
// address, packed little-endian into a uint32.
func (m *Map) GetDefinedWordAligned(addr uint32) uint32 {
	sec := m.secondaryAt(addr)
	if sec.V == nil {
		return 0
	}
	off := addr & windowMask
	return uint32(sec.V[off]) | uint32(sec.V[off+1])<<8 | uint32(sec.V[off+2])<<16 | uint32(sec.V[off+3])<<24
}

// CopyState performs a bytewise copy of (A,V) state from src to dst over len
// bytes, used by realloc-style moves and mremap.
func (m *Map) CopyState(src, dst uint32, length uint32) {
	for i := uint32(0); i < length; i++ {
		a := m.GetAddressable(src + i)
		m.SetAddressable(dst+i, a)
		if m.TrackValidity {
			m.SetDefinedByte(dst+i, m.GetDefinedByte(src+i))
		}
	}
}

// CheckCheap verifies the lowest and highest 64 KiB windows remain unmapped,
// and that the last alignment-dispatch slot still points at the
// distinguished secondary, a fast sanity probe suitable for running often.
func (m *Map) CheckCheap() error {
	if m.Primary[0] != m.distinguished {
		return fmt.Errorf("shadow: lowest 64KiB window is mapped")
	}
	if m.Primary[windowSize-1] != m.distinguished {
		return fmt.Errorf("shadow: highest 64KiB window is mapped")
	}
	if m.Primary[len(m.Primary)-1] != m.distinguished {
		// The extended top of the primary is the always-distinguished
		// alignment-dispatch region; any private entry there is a bug.
		return fmt.Errorf("shadow: alignment-dispatch region has a private secondary")
	}
	return nil
}

// CheckExpensive walks the whole primary table verifying the distinguished-
// secondary invariants: every private secondary lies in the low 2^16 region
// and the high 3/4 (the alignment-dispatch region) points only at the
// distinguished secondary.
func (m *Map) CheckExpensive() error {
	for i, sec := range m.Primary {
		if i >= windowSize && sec != m.distinguished {
			return fmt.Errorf("shadow: alignment-dispatch slot %d does not point at the distinguished secondary", i)
		}
	}
	return nil
}
