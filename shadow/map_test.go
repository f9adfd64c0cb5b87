package shadow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistinguishedSecondaryIsSharedAndInaccessible(t *testing.T) {
	m := NewMap(true)
	require.False(t, m.GetAddressable(0))
	require.False(t, m.GetAddressable(0xFFFF0000))
	require.Equal(t, 0, m.AllocatedSecondaries())
	require.NoError(t, m.CheckCheap())
	require.NoError(t, m.CheckExpensive())
}

func TestSetAddressableAllocatesPrivateSecondaryOnce(t *testing.T) {
	m := NewMap(false)
	m.SetAddressable(0x1000, true)
	require.Equal(t, 1, m.AllocatedSecondaries())
	m.SetAddressable(0x1001, true)
	require.Equal(t, 1, m.AllocatedSecondaries(), "second write in the same window must not allocate again")
	require.True(t, m.GetAddressable(0x1000))
	require.True(t, m.GetAddressable(0x1001))
	require.False(t, m.GetAddressable(0x1002))
}

func TestMakeInaccessibleCoversWholeRange(t *testing.T) {
	m := NewMap(true)
	m.MakeDefined(0x2000, 64)
	for i := uint32(0); i < 64; i++ {
		require.True(t, m.GetAddressable(0x2000+i))
	}
	m.MakeInaccessible(0x2000, 64)
	for i := uint32(0); i < 64; i++ {
		require.False(t, m.GetAddressable(0x2000+i), "byte %d must be inaccessible", i)
	}
}

func TestCopyStatePreservesAVAcrossRange(t *testing.T) {
	m := NewMap(true)
	m.MakeWritableUndefined(0x3000, 16)
	m.SetDefinedByte(0x3004, 0x00) // mark one byte defined within the range
	m.CopyState(0x3000, 0x5000, 16)
	for i := uint32(0); i < 16; i++ {
		require.Equal(t, m.GetAddressable(0x3000+i), m.GetAddressable(0x5000+i))
		require.Equal(t, m.GetDefinedByte(0x3000+i), m.GetDefinedByte(0x5000+i))
	}
}

func TestGetAddressableWordAlignedMatchesPerByte(t *testing.T) {
	m := NewMap(false)
	m.MakeDefined(0x4000, 2) // only first two bytes of the word valid
	nib := m.GetAddressableWordAligned(0x4000)
	allValid := true
	for i := uint32(0); i < 4; i++ {
		if !m.GetAddressable(0x4000 + i) {
			allValid = false
		}
	}
	require.Equal(t, allValid, nib == 0)
}

func TestSetRangeIdempotent(t *testing.T) {
	m := NewMap(true)
	m.SetRange(0x6000, 100, true, true)
	snapshotA := make([]bool, 100)
	snapshotV := make([]byte, 100)
	for i := range snapshotA {
		snapshotA[i] = m.GetAddressable(0x6000 + uint32(i))
		snapshotV[i] = m.GetDefinedByte(0x6000 + uint32(i))
	}
	m.SetRange(0x6000, 100, true, true)
	for i := range snapshotA {
		require.Equal(t, snapshotA[i], m.GetAddressable(0x6000+uint32(i)))
		require.Equal(t, snapshotV[i], m.GetDefinedByte(0x6000+uint32(i)))
	}
}

func TestZeroLengthSetRangeAllocatesNothing(t *testing.T) {
	m := NewMap(true)
	m.SetRange(0x7000, 0, false, false)
	require.Equal(t, 0, m.AllocatedSecondaries())
}

func TestOversizedRangeIsToleratedNotFatal(t *testing.T) {
	m := NewMap(false)
	require.NotPanics(t, func() {
		m.SetRange(0, oversizeWarnThreshold+1024, false, false)
	})
	require.True(t, m.oversizeWarned)
}

func TestOversizedWarningIsScopedPerMap(t *testing.T) {
	first := NewMap(false)
	first.SetRange(0, oversizeWarnThreshold+1024, false, false)
	require.True(t, first.oversizeWarned)

	second := NewMap(false)
	require.False(t, second.oversizeWarned)
}
