package memwatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadowcheck/core/engine"
	"github.com/shadowcheck/core/guestasm"
	"github.com/shadowcheck/core/guestvm"
	"github.com/shadowcheck/core/tool"
	"github.com/shadowcheck/core/ucode"
)

func TestDetailsIdentifyTheTool(t *testing.T) {
	tl := New()
	require.Equal(t, "memwatch", tl.Name())
	require.Contains(t, tl.ErrorKinds, "InvalidRead")
	require.Contains(t, tl.ErrorKinds, "MemoryLeak")
}

func TestInstrumentInsertsCCallBeforeMemoryOps(t *testing.T) {
	tl := New()
	b := ucode.Block{Addr: 0x1000, Ops: []ucode.Op{{Kind: ucode.OpLoad, Size: 4}}}
	out := tl.Instrument(b)
	require.True(t, ucode.IsInstrumented(out))
	require.Len(t, out.Ops, 2)
	require.Equal(t, ucode.OpCCall, out.Ops[0].Kind)
}

func TestPostMemAccessCallbackAcceptsEveryAccessCombination(t *testing.T) {
	tl := New()
	require.NotNil(t, tl.Callbacks.PostMemAccess)
	tl.Callbacks.PostMemAccess(0x1000, 4, false, true)
	tl.Callbacks.PostMemAccess(0x1004, 4, true, false)
	// No direct counter accessor is exposed; this just verifies the
	// callback runs without panicking for both read/write and valid/
	// invalid combinations.
}

// TestPostMemAccessFiresThroughAnExecutedAccess exercises PostMemAccess
// through an actual guest load against an inaccessible address, not by
// calling the callback directly: confirms the track dispatcher's wiring
// is actually reached from guest execution, not just tested in isolation.
func TestPostMemAccessFiresThroughAnExecutedAccess(t *testing.T) {
	eng := engine.New(true)
	mem := guestvm.NewMemory(eng)
	tl := New()
	require.NoError(t, tool.Attach(eng, tl))

	var sawInvalid bool
	tl.Callbacks.PostMemAccess = func(addr uint32, size int, isWrite bool, invalid bool) {
		if invalid {
			sawInvalid = true
		}
	}
	eng.Track.Set(tl.Callbacks)

	prog := &guestasm.Program{Instructions: []*guestasm.Instruction{
		{Mnemonic: "LDRB", Operands: []string{"R0", "[R1]"}, Address: 0, EncodedLen: 4},
		{Mnemonic: "HALT", Address: 4, EncodedLen: 4},
	}}
	exec := guestvm.NewExecutor(prog, mem, eng, tl)
	exec.CPU.R[1] = guestvm.HeapSegmentStart // never made accessible

	require.NoError(t, exec.Step())
	require.True(t, sawInvalid)
}

func TestFinalizeRunsLeakCheckAndSummary(t *testing.T) {
	eng := engine.New(true)
	tl := New()
	require.NoError(t, tl.PreInit(eng))
	eng.MallocLikeBlock(0x30000, 16, 0, true)
	tl.Finalize(eng)
	entries := eng.Recorder.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "MemoryLeak", string(entries[0].Kind))
}
