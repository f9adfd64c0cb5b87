// Command core is the launcher: it parses the CLI surface, builds an
// engine, attaches the selected tool, loads a guest program, and runs it to
// completion, printing the tool's error summary before exiting.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/shadowcheck/core/config"
	"github.com/shadowcheck/core/engine"
	"github.com/shadowcheck/core/guestasm"
	"github.com/shadowcheck/core/guestvm"
	"github.com/shadowcheck/core/suppress"
	"github.com/shadowcheck/core/tool"
	"github.com/shadowcheck/core/tools/memwatch"
	"github.com/shadowcheck/core/tools/none"
)

// Version information, overridable at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("core", flag.ContinueOnError)

	toolName := fs.String("tool", "memwatch", "selects the tool (none, memwatch)")
	verbose := fs.Bool("v", false, "verbose output (stored as the configured verbosity; no output depends on it)")
	quiet := fs.Bool("q", false, "quiet output (stored as the configured verbosity; no output depends on it)")
	errorLimit := fs.Bool("error-limit", true, "enable the recorder's hard cap")
	leakCheck := fs.Bool("leak-check", false, "stored in the configuration; the leak check is run by the tool's Finalize hook (memwatch always runs one, none never does)")
	leakResolution := fs.String("leak-resolution", "low", "low, med, or high (stored in the configuration; the leak check does not use it)")
	showReachable := fs.Bool("show-reachable", false, "stored in the configuration; the leak check does not use it")
	freelistVol := fs.Uint64("freelist-vol", 20*1024*1024, "post-free quarantine volume in bytes")
	var suppressionFiles stringList
	fs.Var(&suppressionFiles, "suppressions", "suppression file path (repeatable)")
	genSuppressions := fs.Bool("gen-suppressions", false, "stored in the configuration; no suppression templates are printed")
	errorExitcode := fs.Int("error-exitcode", 0, "exit code to use if any error was recorded")
	logFile := fs.String("log-file", "", "write log output to this file instead of stderr")
	showVersion := fs.Bool("version", false, "show version information")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("core version %s (%s)\n", Version, Commit)
		return 0
	}

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: core [flags] <guest-program.s>")
		return 2
	}
	progPath := rest[0]

	cfg := config.DefaultConfig()
	cfg.Tool.Name = *toolName
	cfg.Errors.ExitCode = *errorExitcode
	cfg.LeakCheck.Enabled = *leakCheck
	cfg.LeakCheck.Resolution = *leakResolution
	cfg.LeakCheck.ShowReachable = *showReachable
	cfg.LeakCheck.FreelistVolume = uint(*freelistVol)
	cfg.Suppressions.Files = []string(suppressionFiles)
	cfg.Suppressions.GenSuppressions = *genSuppressions
	if !*errorLimit {
		cfg.Errors.HardLimit = 0
	}
	if *verbose {
		cfg.Tool.Verbosity = 1
	}
	if *quiet {
		cfg.Tool.Verbosity = -1
	}
	cfg.Logging.File = *logFile

	eng := engine.New(true)
	if cfg.Logging.File != "" {
		f, err := os.Create(cfg.Logging.File) // #nosec G304 -- user-specified log path
		if err != nil {
			fmt.Fprintf(os.Stderr, "core: cannot open log file: %v\n", err)
			return 2
		}
		defer f.Close()
		eng.Log.SetOutput(f)
	}
	eng.Recorder.HardCap = cfg.Errors.HardLimit
	eng.FreelistVol = uint32(cfg.LeakCheck.FreelistVolume)

	t, err := selectTool(cfg.Tool.Name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "core:", err)
		return 2
	}

	if len(cfg.Suppressions.Files) > 0 {
		matcher, err := loadSuppressions(cfg.Suppressions.Files)
		if err != nil {
			fmt.Fprintln(os.Stderr, "core:", err)
			return 2
		}
		eng.AttachSuppressions(matcher)
	}

	if err := tool.Attach(eng, t); err != nil {
		fmt.Fprintln(os.Stderr, "core:", err)
		return 2
	}

	prog, _, err := guestasm.ParseFile(progPath, guestasm.ParseFileOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "core:", err)
		return 2
	}

	mem := guestvm.NewMemory(eng)
	exec := guestvm.NewExecutor(prog, mem, eng, t)

	if err := tool.RunPostInit(eng, t); err != nil {
		fmt.Fprintln(os.Stderr, "core:", err)
		return 2
	}

	if err := exec.Run(1_000_000); err != nil {
		fmt.Fprintln(os.Stderr, "core:", err)
		return 2
	}

	tool.RunFinalize(eng, t)

	for _, line := range eng.Recorder.Summary() {
		fmt.Printf("%s: %d\n", line.Kind, line.Count)
	}

	if cfg.Errors.ExitCode != 0 && len(eng.Recorder.Entries()) > 0 {
		return cfg.Errors.ExitCode
	}
	return int(exec.ExitCode())
}

func selectTool(name string) (*tool.Tool, error) {
	switch name {
	case "none":
		return none.New(), nil
	case "memwatch":
		return memwatch.New(), nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func loadSuppressions(paths []string) (*suppress.Matcher, error) {
	var all []suppress.Suppression
	for _, p := range paths {
		supps, err := suppress.ParseFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, supps...)
	}
	return suppress.NewMatcher(all, nil), nil
}

// stringList accumulates repeated -suppressions flags.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
