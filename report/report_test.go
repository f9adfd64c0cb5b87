package report

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadowcheck/core/execontext"
)

type fakeMatcher struct{ suppressKind Kind }

func (f fakeMatcher) Matches(v SuppressionView) bool { return v.Kind == f.suppressKind }

func TestMaybeRecordCreatesNewEntryOnFirstOccurrence(t *testing.T) {
	r := NewRecorder(execontext.NewStore(), nil)
	fp := execontext.Fingerprint{PC: 0x1000}
	entry, created, recorded := r.MaybeRecord("InvalidRead", 0x2000, "bad read", nil, fp)
	require.True(t, created)
	require.True(t, recorded)
	require.Equal(t, 1, entry.Count)
}

func TestMaybeRecordDedupsSameKindAndContext(t *testing.T) {
	r := NewRecorder(execontext.NewStore(), nil)
	fp := execontext.Fingerprint{PC: 0x1000, Frames: [16]uint32{0x500}, Depth: 1}
	_, created1, _ := r.MaybeRecord("InvalidRead", 0x2000, "bad read", nil, fp)
	entry2, created2, recorded2 := r.MaybeRecord("InvalidRead", 0x2004, "bad read again", nil, fp)
	require.True(t, created1)
	require.False(t, created2)
	require.True(t, recorded2)
	require.Equal(t, 2, entry2.Count)
	require.Len(t, r.Entries(), 1)
}

func TestMaybeRecordDistinguishesByKind(t *testing.T) {
	r := NewRecorder(execontext.NewStore(), nil)
	fp := execontext.Fingerprint{PC: 0x1000}
	r.MaybeRecord("InvalidRead", 0, "", nil, fp)
	r.MaybeRecord("InvalidWrite", 0, "", nil, fp)
	require.Len(t, r.Entries(), 2)
}

func TestMaybeRecordConsultsSuppressionMatcher(t *testing.T) {
	r := NewRecorder(execontext.NewStore(), fakeMatcher{suppressKind: "InvalidRead"})
	_, created, recorded := r.MaybeRecord("InvalidRead", 0, "", nil, execontext.Fingerprint{PC: 1})
	require.False(t, created)
	require.False(t, recorded)
	require.Equal(t, 1, r.SuppressedCount())
	require.Empty(t, r.Entries())
}

func TestEntriesOrderedMostRecentlyUsedFirst(t *testing.T) {
	r := NewRecorder(execontext.NewStore(), nil)
	fpA := execontext.Fingerprint{PC: 1}
	fpB := execontext.Fingerprint{PC: 2}
	r.MaybeRecord("K", 0, "", nil, fpA)
	r.MaybeRecord("K", 0, "", nil, fpB)
	// Touch A again: it should become most-recent.
	r.MaybeRecord("K", 0, "", nil, fpA)
	entries := r.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, fpA.PC, entries[0].Context.PC)
	require.Equal(t, fpB.PC, entries[1].Context.PC)
}

func TestHardCapDropsFurtherNewEntries(t *testing.T) {
	r := NewRecorder(execontext.NewStore(), nil)
	r.SoftCap = 2
	r.HardCap = 3
	for i := 0; i < 3; i++ {
		_, created, recorded := r.MaybeRecord("K", 0, "", nil, execontext.Fingerprint{PC: uint32(i)})
		require.True(t, created)
		require.True(t, recorded)
	}
	_, created, recorded := r.MaybeRecord("K", 0, "", nil, execontext.Fingerprint{PC: 999})
	require.False(t, created)
	require.False(t, recorded)
	require.Equal(t, 1, r.DroppedCount())
	require.Len(t, r.Entries(), 3)
}

func TestSummaryOrdersAscendingByCount(t *testing.T) {
	r := NewRecorder(execontext.NewStore(), nil)
	r.MaybeRecord("Rare", 0, "", nil, execontext.Fingerprint{PC: 1})
	r.MaybeRecord("Common", 0, "", nil, execontext.Fingerprint{PC: 2})
	r.MaybeRecord("Common", 0, "", nil, execontext.Fingerprint{PC: 2})
	r.MaybeRecord("Common", 0, "", nil, execontext.Fingerprint{PC: 2})
	summary := r.Summary()
	require.Equal(t, []SummaryLine{
		{Kind: "Rare", Count: 1},
		{Kind: "Common", Count: 3},
	}, summary)
}
