package inspector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadowcheck/core/engine"
)

func TestNewBuildsAllPanels(t *testing.T) {
	eng := engine.New(true)
	insp := New(eng)

	require.NotNil(t, insp.ErrorsView)
	require.NotNil(t, insp.SummaryView)
	require.NotNil(t, insp.ThreadsView)
	require.NotNil(t, insp.CommandInput)
}

func TestRefreshRendersRecordedErrorsAndThreads(t *testing.T) {
	eng := engine.New(true)
	require.NoError(t, eng.Threads.Create(1))
	eng.MallocLikeBlock(0x30000, 16, 0, true)
	eng.DoLeakCheck()

	insp := New(eng)
	insp.Refresh()

	require.Contains(t, insp.ErrorsView.GetText(true), "MemoryLeak")
	require.Contains(t, insp.ThreadsView.GetText(true), "tid=1")
	require.Contains(t, insp.SummaryView.GetText(true), "MemoryLeak")
}

func TestHandleCommandQuitStopsApp(t *testing.T) {
	eng := engine.New(true)
	insp := New(eng)
	// App.Stop is safe to call even though Run was never started; this
	// just exercises the command-dispatch path without starting a real
	// terminal event loop.
	insp.handleCommand("quit")
}

func TestHandleCommandUnknownWritesToErrorsView(t *testing.T) {
	eng := engine.New(true)
	insp := New(eng)
	insp.handleCommand("bogus")
	require.Contains(t, insp.ErrorsView.GetText(true), "unknown command")
}
