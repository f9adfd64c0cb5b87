// Package inspector is a read-only terminal inspector over a running (or
// finished) engine: it renders the recorder's live error list, the
// kind/count summary, and the thread table, but never mutates engine state
// — there is no breakpoint or single-step surface here, only observation.
package inspector

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/shadowcheck/core/engine"
)

// Inspector is the text user interface over eng.
type Inspector struct {
	Eng   *engine.Engine
	App   *tview.Application
	Pages *tview.Pages

	MainLayout   *tview.Flex
	ErrorsView   *tview.TextView
	SummaryView  *tview.TextView
	ThreadsView  *tview.TextView
	CommandInput *tview.InputField

	selected int
}

// New builds an Inspector over eng, ready to Run.
func New(eng *engine.Engine) *Inspector {
	insp := &Inspector{
		Eng: eng,
		App: tview.NewApplication(),
	}
	insp.initializeViews()
	insp.buildLayout()
	insp.setupKeyBindings()
	return insp
}

func (insp *Inspector) initializeViews() {
	insp.ErrorsView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	insp.ErrorsView.SetBorder(true).SetTitle(" Errors ")

	insp.SummaryView = tview.NewTextView().
		SetDynamicColors(true)
	insp.SummaryView.SetBorder(true).SetTitle(" Summary ")

	insp.ThreadsView = tview.NewTextView().
		SetDynamicColors(true)
	insp.ThreadsView.SetBorder(true).SetTitle(" Threads ")

	insp.CommandInput = tview.NewInputField().
		SetLabel("> ")
	insp.CommandInput.SetBorder(true).SetTitle(" Command (r=refresh, q=quit) ")
}

func (insp *Inspector) buildLayout() {
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(insp.SummaryView, 0, 1, false).
		AddItem(insp.ThreadsView, 0, 1, false)

	body := tview.NewFlex().
		AddItem(insp.ErrorsView, 0, 2, false).
		AddItem(right, 0, 1, false)

	insp.MainLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(insp.CommandInput, 3, 0, true)

	insp.Pages = tview.NewPages().AddPage("main", insp.MainLayout, true, true)
}

func (insp *Inspector) setupKeyBindings() {
	insp.CommandInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		cmd := strings.TrimSpace(insp.CommandInput.GetText())
		insp.CommandInput.SetText("")
		insp.handleCommand(cmd)
	})

	insp.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			insp.App.Stop()
			return nil
		}
		return event
	})
}

func (insp *Inspector) handleCommand(cmd string) {
	switch cmd {
	case "q", "quit":
		insp.App.Stop()
	case "r", "refresh", "":
		insp.Refresh()
	default:
		insp.ErrorsView.Write([]byte(fmt.Sprintf("[red]unknown command: %s[-]\n", cmd)))
	}
}

// Refresh re-renders every panel from the engine's current state. Safe to
// call from outside the tview event loop only via App.QueueUpdateDraw.
func (insp *Inspector) Refresh() {
	insp.ErrorsView.Clear()
	for _, e := range insp.Eng.Recorder.Entries() {
		fmt.Fprintf(insp.ErrorsView, "[yellow]%s[-] at 0x%08X (x%d): %s\n", e.Kind, e.Addr, e.Count, e.Msg)
	}

	insp.SummaryView.Clear()
	for _, line := range insp.Eng.Recorder.Summary() {
		fmt.Fprintf(insp.SummaryView, "%-20s %d\n", line.Kind, line.Count)
	}

	insp.ThreadsView.Clear()
	for _, rec := range insp.Eng.Threads.All() {
		fmt.Fprintf(insp.ThreadsView, "tid=%d state=%s\n", rec.TID, rec.Status)
	}
}

// Run starts the tview event loop, blocking until the user quits.
func (insp *Inspector) Run() error {
	insp.Refresh()
	return insp.App.SetRoot(insp.Pages, true).SetFocus(insp.CommandInput).Run()
}

// Stop terminates the event loop, usable from another goroutine (e.g. when
// the guest program halts and the inspector should exit automatically).
func (insp *Inspector) Stop() {
	insp.App.Stop()
}
