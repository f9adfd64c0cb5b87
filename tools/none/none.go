// Package none is the simplest possible tool: it instruments nothing and
// reports nothing, useful as a baseline to measure the engine's own
// overhead (shadow map construction, ucode lowering, the event dispatcher)
// independent of any tool's checking logic.
package none

import (
	"github.com/shadowcheck/core/tool"
	"github.com/shadowcheck/core/ucode"
)

// New returns the none tool, registered under the name "none".
func New() *tool.Tool {
	return &tool.Tool{
		Details: tool.Details{
			Name:        "none",
			Version:     "1.0",
			Description: "the null tool: no instrumentation, no checks",
			Copyright:   "Copyright (C) 2002, and GNU GPL'd, by Nicholas Nethercote.",
		},
		Instrument: func(b ucode.Block) ucode.Block {
			return b
		},
	}
}
