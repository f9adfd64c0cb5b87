package clientreq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	noAccess, undefined, defined struct{ addr, length uint32 }
	discarded                    struct{ addr, length uint32 }
	mallocd                      struct {
		addr, size, redzone uint32
		zeroed              bool
	}
	freed   struct{ addr, redzone uint32 }
	leaked  uint32
	checkValueResult bool
	checked          struct{ addr, size uint32 }
}

func (f *fakeEngine) MakeMemNoAccess(addr, length uint32)  { f.noAccess = struct{ addr, length uint32 }{addr, length} }
func (f *fakeEngine) MakeMemUndefined(addr, length uint32) { f.undefined = struct{ addr, length uint32 }{addr, length} }
func (f *fakeEngine) MakeMemDefined(addr, length uint32)   { f.defined = struct{ addr, length uint32 }{addr, length} }
func (f *fakeEngine) DiscardTranslations(addr, length uint32) {
	f.discarded = struct{ addr, length uint32 }{addr, length}
}
func (f *fakeEngine) MallocLikeBlock(addr, size uint32, redzone uint32, isZeroed bool) {
	f.mallocd.addr, f.mallocd.size, f.mallocd.redzone, f.mallocd.zeroed = addr, size, redzone, isZeroed
}
func (f *fakeEngine) FreeLikeBlock(addr uint32, redzone uint32) {
	f.freed = struct{ addr, redzone uint32 }{addr, redzone}
}
func (f *fakeEngine) DoLeakCheck() uint32 { return f.leaked }
func (f *fakeEngine) CheckValue(addr uint32, size uint32) bool {
	f.checked = struct{ addr, size uint32 }{addr, size}
	return f.checkValueResult
}

func TestIsMagicSequenceMatchesExactWords(t *testing.T) {
	require.True(t, IsMagicSequence(MagicSequence))
	require.False(t, IsMagicSequence([4]uint32{1, 2, 3, 4}))
}

func TestDispatchMakeMemOps(t *testing.T) {
	eng := &fakeEngine{}
	tbl := NewTable(eng)
	_, err := tbl.Dispatch(CodeMakeMemNoAccess, Args{0x1000, 16, 0, 0})
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), eng.noAccess.addr)
	require.Equal(t, uint32(16), eng.noAccess.length)
}

func TestDispatchMallocAndFreeLikeBlock(t *testing.T) {
	eng := &fakeEngine{}
	tbl := NewTable(eng)
	_, err := tbl.Dispatch(CodeMallocLikeBlock, Args{0x2000, 32, 8, 1})
	require.NoError(t, err)
	require.True(t, eng.mallocd.zeroed)
	require.Equal(t, uint32(32), eng.mallocd.size)

	_, err = tbl.Dispatch(CodeFreeLikeBlock, Args{0x2000, 8, 0, 0})
	require.NoError(t, err)
	require.Equal(t, uint32(0x2000), eng.freed.addr)
}

func TestDispatchLeakCheckReturnsCount(t *testing.T) {
	eng := &fakeEngine{leaked: 3}
	tbl := NewTable(eng)
	result, err := tbl.Dispatch(CodeDoLeakCheck, Args{})
	require.NoError(t, err)
	require.Equal(t, Result(3), result)
}

func TestUnknownCodeIsBoundedWarned(t *testing.T) {
	eng := &fakeEngine{}
	tbl := NewTable(eng)
	tbl.Log = nil // avoid noisy test output; bound logic is independent of logging
	for i := 0; i < maxUnknownWarnings+5; i++ {
		result, err := tbl.Dispatch(Code(999), Args{})
		require.NoError(t, err)
		require.Equal(t, Result(0), result)
	}
	require.Equal(t, maxUnknownWarnings, tbl.unknown[Code(999)])
}

func TestDispatchCheckValueReturnsOneWhenDefined(t *testing.T) {
	eng := &fakeEngine{checkValueResult: true}
	tbl := NewTable(eng)
	result, err := tbl.Dispatch(CodeCheckValue, Args{0x3000, 4, 0, 0})
	require.NoError(t, err)
	require.Equal(t, Result(1), result)
	require.Equal(t, uint32(0x3000), eng.checked.addr)
	require.Equal(t, uint32(4), eng.checked.size)
}

func TestDispatchCheckValueReturnsZeroWhenUndefined(t *testing.T) {
	eng := &fakeEngine{checkValueResult: false}
	tbl := NewTable(eng)
	result, err := tbl.Dispatch(CodeCheckValue, Args{0x3000, 4, 0, 0})
	require.NoError(t, err)
	require.Equal(t, Result(0), result)
}

func TestRegisterAddsToolSpecificRequest(t *testing.T) {
	eng := &fakeEngine{}
	tbl := NewTable(eng)
	tbl.Register(CodeMempoolAlloc, func(a Args) (Result, error) {
		return Result(a[0] + a[1]), nil
	})
	result, err := tbl.Dispatch(CodeMempoolAlloc, Args{2, 3, 0, 0})
	require.NoError(t, err)
	require.Equal(t, Result(5), result)
}
