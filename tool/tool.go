// Package tool defines the plug-in surface an instrumentation tool
// implements: identifying details, lifecycle hooks run around the guest
// program, an instrumentation hook applied to every micro-op block, and the
// optional event callbacks and client-request/suppression extensions a tool
// may opt into.
package tool

import (
	"github.com/shadowcheck/core/clientreq"
	"github.com/shadowcheck/core/engine"
	"github.com/shadowcheck/core/track"
	"github.com/shadowcheck/core/ucode"
)

// Details identifies a tool for command-line selection and reporting.
type Details struct {
	Name        string
	Version     string
	Description string
	Copyright   string
}

// Tool is the full registration struct a tool implementation provides.
// Every func field is optional (nil means "do nothing"; a nil Instrument
// leaves blocks unchanged).
type Tool struct {
	Details Details

	// PreInit runs once, before the guest program is loaded, while the
	// engine's subsystems are being constructed.
	PreInit func(eng *engine.Engine) error

	// PostInit runs once, after the guest program is loaded and before the
	// first instruction executes.
	PostInit func(eng *engine.Engine) error

	// Instrument is applied to every micro-op block lowered from the guest
	// instruction stream. The executor runs a shadow-memory check only for
	// an access preceded by a CCALL op, so a tool that returns its input
	// unchanged gets no shadow-memory checks.
	Instrument func(b ucode.Block) ucode.Block

	// Finalize runs once, after the guest program halts, before final
	// reporting (leak check, error summary) is produced.
	Finalize func(eng *engine.Engine)

	// Callbacks, if set, is installed on the engine's track.Dispatcher for
	// the duration of the run.
	Callbacks track.Callbacks

	// ErrorKinds lists the report.Kind values this tool can raise. It is
	// informational: suppression parsing does not check kinds against it.
	ErrorKinds []string

	// ClientRequestHandlers lets a tool register additional, tool-specific
	// client request codes beyond the engine's built-ins (e.g. mempool
	// operations), keyed by the numeric code each handler answers.
	ClientRequestHandlers map[uint32]func(args [4]uint32) (uint32, error)
}

// Name returns Details.Name, satisfying engine.Tool.
func (t *Tool) Name() string { return t.Details.Name }

// Attach wires t into eng: installs its callbacks on the track dispatcher,
// registers its client-request handlers, and runs PreInit if set.
func Attach(eng *engine.Engine, t *Tool) error {
	eng.Tool = t
	eng.Track.Set(t.Callbacks)
	for code, h := range t.ClientRequestHandlers {
		h := h
		eng.Requests.Register(clientreq.Code(code), func(a clientreq.Args) (clientreq.Result, error) {
			res, err := h([4]uint32(a))
			return clientreq.Result(res), err
		})
	}
	if t.PreInit != nil {
		if err := t.PreInit(eng); err != nil {
			return err
		}
	}
	return nil
}

// RunPostInit runs t's PostInit hook, if set.
func RunPostInit(eng *engine.Engine, t *Tool) error {
	if t.PostInit == nil {
		return nil
	}
	return t.PostInit(eng)
}

// RunFinalize runs t's Finalize hook, if set.
func RunFinalize(eng *engine.Engine, t *Tool) {
	if t.Finalize != nil {
		t.Finalize(eng)
	}
}

// ApplyInstrumentation runs t's Instrument hook over b, or returns b
// unchanged if the tool set none (a valid, do-nothing tool).
func ApplyInstrumentation(t *Tool, b ucode.Block) ucode.Block {
	if t.Instrument == nil {
		return b
	}
	return t.Instrument(b)
}
