// Package memwatch is the reference checking tool: memcheck's equivalent in
// this tool surface. It instruments every load/store with the shadow-memory
// helper call, counts accesses via the track dispatcher for its summary, and
// reports on Finalize.
package memwatch

import (
	"github.com/shadowcheck/core/engine"
	"github.com/shadowcheck/core/report"
	"github.com/shadowcheck/core/tool"
	"github.com/shadowcheck/core/track"
	"github.com/shadowcheck/core/ucode"
)

// ErrorKinds this tool can raise, published as tool.Tool.ErrorKinds;
// suppression parsing does not check kinds against this list.
var ErrorKinds = []string{
	"InvalidRead", "InvalidWrite", "MemoryLeak",
	string(report.FreeError), string(report.MismatchedFreeError), string(report.ValueError),
}

// stats accumulates the run-wide counters memwatch reports at Finalize.
type stats struct {
	reads     uint64
	writes    uint64
	invalid   uint64
	newRegion uint64
	freed     uint64
}

// New returns the memwatch tool. Each call returns an independent instance
// so concurrent runs (as in a test suite) don't share counters.
func New() *tool.Tool {
	st := &stats{}

	t := &tool.Tool{
		Details: tool.Details{
			Name:        "memwatch",
			Version:     "1.0",
			Description: "a memory error detector",
			Copyright:   "Copyright (C) 2002, and GNU GPL'd, by Julian Seward.",
		},
		ErrorKinds: ErrorKinds,
		Instrument: func(b ucode.Block) ucode.Block {
			return ucode.Instrument(b)
		},
		Callbacks: track.Callbacks{
			NewMem: func(addr uint32, length uint32) {
				st.newRegion++
			},
			DieMem: func(addr uint32, length uint32) {
				st.freed++
			},
			PostMemAccess: func(addr uint32, size int, isWrite bool, invalid bool) {
				if isWrite {
					st.writes++
				} else {
					st.reads++
				}
				if invalid {
					st.invalid++
				}
			},
		},
	}

	t.PreInit = func(eng *engine.Engine) error {
		eng.Log.Infof("memwatch: attached, tracking validity=%v", eng.Shadow.TrackValidity)
		return nil
	}

	t.Finalize = func(eng *engine.Engine) {
		leaked := eng.DoLeakCheck()
		summary := eng.Recorder.Summary()
		eng.Log.Infof(
			"memwatch: %d reads, %d writes, %d invalid accesses, %d distinct errors, %d blocks leaked",
			st.reads, st.writes, st.invalid, len(eng.Recorder.Entries()), leaked,
		)
		for _, line := range summary {
			eng.Log.Infof("  %s: %d", line.Kind, line.Count)
		}
	}

	return t
}
