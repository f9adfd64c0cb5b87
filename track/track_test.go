package track

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroValueDispatcherFiresNothing(t *testing.T) {
	d := NewDispatcher(Callbacks{})
	require.NotPanics(t, func() {
		d.FireNewMem(0, 4)
		d.FireDieMem(0, 4)
		d.FireCopyMem(0, 4, 4)
		d.FirePreMemAccess(0, 4, false)
		d.FirePostMemAccess(0, 4, false, false)
		d.FireThreadCreate(1)
		d.FireThreadExit(1)
		d.FireBanMem(0, 16)
		d.FireChangeMemMprotect(0, 16, true, false, false)
		d.FirePreMemRead(PartSyscall, 1, "buf", 0, 16)
		d.FirePreMemReadAsciiz(PartSyscall, 1, "path", 0)
		d.FirePreMemWrite(PartSyscall, 1, "buf", 0, 16)
		d.FirePostMemWrite(PartSyscall, 1, "buf", 0, 16)
		d.FirePostThreadCreate(1, 2)
		d.FirePostThreadJoin(1, 2)
		d.FirePreMutexLock(1, 0x8000)
		d.FirePostMutexLock(1, 0x8000)
		d.FirePostMutexUnlock(1, 0x8000)
		d.FireBadFree(0x9000)
		d.FireMismatchedFree(0x9000)
	})
	handled, result := d.FireClientRequest(42, [4]uint32{})
	require.False(t, handled)
	require.Equal(t, uint32(0), result)
}

func TestRegisteredCallbacksFireWithArguments(t *testing.T) {
	var gotNewAddr, gotNewLen uint32
	var gotDieAddr uint32
	var gotCopySrc, gotCopyDst uint32
	var preFired, postFired bool
	var createdTID, exitedTID uint32

	d := NewDispatcher(Callbacks{
		NewMem: func(addr, length uint32) {
			gotNewAddr, gotNewLen = addr, length
		},
		DieMem: func(addr, length uint32) {
			gotDieAddr = addr
		},
		CopyMem: func(src, dst uint32, length uint32) {
			gotCopySrc, gotCopyDst = src, dst
		},
		PreMemAccess: func(addr uint32, size int, isWrite bool) {
			preFired = true
		},
		PostMemAccess: func(addr uint32, size int, isWrite bool, invalid bool) {
			postFired = invalid
		},
		ThreadCreate: func(tid uint32) { createdTID = tid },
		ThreadExit:   func(tid uint32) { exitedTID = tid },
	})

	d.FireNewMem(0x1000, 16)
	require.Equal(t, uint32(0x1000), gotNewAddr)
	require.Equal(t, uint32(16), gotNewLen)

	d.FireDieMem(0x2000, 16)
	require.Equal(t, uint32(0x2000), gotDieAddr)

	d.FireCopyMem(0x3000, 0x4000, 16)
	require.Equal(t, uint32(0x3000), gotCopySrc)
	require.Equal(t, uint32(0x4000), gotCopyDst)

	d.FirePreMemAccess(0x5000, 4, true)
	require.True(t, preFired)

	d.FirePostMemAccess(0x5000, 4, true, true)
	require.True(t, postFired)

	d.FireThreadCreate(7)
	require.Equal(t, uint32(7), createdTID)
	d.FireThreadExit(7)
	require.Equal(t, uint32(7), exitedTID)
}

func TestClientRequestCallbackCanClaimRequest(t *testing.T) {
	d := NewDispatcher(Callbacks{
		ClientRequest: func(code uint32, args [4]uint32) (bool, uint32) {
			if code == 99 {
				return true, args[0] + 1
			}
			return false, 0
		},
	})
	handled, result := d.FireClientRequest(99, [4]uint32{41, 0, 0, 0})
	require.True(t, handled)
	require.Equal(t, uint32(42), result)

	handled, _ = d.FireClientRequest(1, [4]uint32{})
	require.False(t, handled)
}

func TestBanMemAndBadFreeCallbacksFireWithArguments(t *testing.T) {
	var bannedAddr, bannedLen uint32
	var badFreeAddr, mismatchedAddr uint32
	var mprotectR, mprotectW, mprotectX bool

	d := NewDispatcher(Callbacks{
		BanMem: func(addr, length uint32) { bannedAddr, bannedLen = addr, length },
		ChangeMemMprotect: func(addr, length uint32, r, w, x bool) {
			mprotectR, mprotectW, mprotectX = r, w, x
		},
		BadFree:        func(addr uint32) { badFreeAddr = addr },
		MismatchedFree: func(addr uint32) { mismatchedAddr = addr },
	})

	d.FireBanMem(0x1000, 32)
	require.Equal(t, uint32(0x1000), bannedAddr)
	require.Equal(t, uint32(32), bannedLen)

	d.FireChangeMemMprotect(0x2000, 4096, true, false, true)
	require.True(t, mprotectR)
	require.False(t, mprotectW)
	require.True(t, mprotectX)

	d.FireBadFree(0x3000)
	require.Equal(t, uint32(0x3000), badFreeAddr)

	d.FireMismatchedFree(0x4000)
	require.Equal(t, uint32(0x4000), mismatchedAddr)
}

func TestSetReplacesCallbacksWholesale(t *testing.T) {
	d := NewDispatcher(Callbacks{})
	var fired bool
	d.Set(Callbacks{NewMem: func(addr, length uint32) { fired = true }})
	d.FireNewMem(0, 1)
	require.True(t, fired)
}
