// Package suppress parses suppression files and matches recorded errors
// against them by walking each suppression's frame patterns against the
// error's execution context, innermost frame first.
package suppress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shadowcheck/core/report"
)

// FrameMatchKind selects whether a frame pattern matches against a
// function name or an object (shared-library/executable) name.
type FrameMatchKind int

const (
	MatchFunction FrameMatchKind = iota
	MatchObject
)

// FrameGlob is one line of a suppression's frame list. Pattern is a
// filepath.Match-style glob; Wildcard marks the special "..." line meaning
// "skip any number of frames here".
type FrameGlob struct {
	Kind     FrameMatchKind
	Pattern  string
	Wildcard bool
}

// Suppression is one parsed `{ ... }` suppression entry. Count is the
// number of times this entry has matched a recorded error, so a user can
// tell a suppression file has gone stale (Count stays 0 across a full run)
// from one that's actively hiding reports.
type Suppression struct {
	Name   string
	Kind   string // error kind glob to match, "*" matches any kind
	Frames []FrameGlob
	Count  int
}

// ParseFile reads and parses a suppression file at path.
func ParseFile(path string) ([]Suppression, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("suppress: opening %s: %w", path, err)
	}
	defer f.Close()
	supps, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("suppress: parsing %s: %w", filepath.Base(path), err)
	}
	return supps, nil
}

// Parse reads suppression entries from r. The format is a sequence of
// `{ ... }` blocks, each containing: a name line, a `tools:kind` line
// naming the error kind the entry applies to ("*" for any), then one
// `fun:glob` or `obj:glob` line per stack frame, innermost first, with a
// bare `...` line standing for zero or more unmatched frames. Blank lines
// and lines starting with `#` are ignored outside a block.
func Parse(r io.Reader) ([]Suppression, error) {
	scanner := bufio.NewScanner(r)
	var out []Suppression
	var cur *Suppression
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case line == "{":
			if cur != nil {
				return nil, fmt.Errorf("suppress: line %d: nested '{' without closing previous block", lineNo)
			}
			cur = &Suppression{}
		case line == "}":
			if cur == nil {
				return nil, fmt.Errorf("suppress: line %d: '}' without matching '{'", lineNo)
			}
			out = append(out, *cur)
			cur = nil
		case cur == nil:
			return nil, fmt.Errorf("suppress: line %d: content outside a '{ }' block", lineNo)
		case cur.Name == "":
			cur.Name = line
		case strings.HasPrefix(line, "tools:"):
			cur.Kind = strings.TrimSpace(strings.TrimPrefix(line, "tools:"))
		case line == "...":
			cur.Frames = append(cur.Frames, FrameGlob{Wildcard: true})
		case strings.HasPrefix(line, "fun:"):
			cur.Frames = append(cur.Frames, FrameGlob{Kind: MatchFunction, Pattern: unescape(strings.TrimPrefix(line, "fun:"))})
		case strings.HasPrefix(line, "obj:"):
			cur.Frames = append(cur.Frames, FrameGlob{Kind: MatchObject, Pattern: unescape(strings.TrimPrefix(line, "obj:"))})
		default:
			return nil, fmt.Errorf("suppress: line %d: unrecognised suppression line %q", lineNo, line)
		}
	}
	if cur != nil {
		return nil, fmt.Errorf("suppress: unterminated '{' block")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("suppress: reading: %w", err)
	}
	return out, nil
}

// unescape undoes a backslash-escape of glob metacharacters, since
// filepath.Match treats a bare backslash as a path separator on some
// platforms and the suppression format's glyphs are not filesystem paths.
// A suppression author who wants a literal '*' writes '\*'; this strips the
// leading backslash from any escaped metacharacter before the pattern is
// handed to filepath.Match.
func unescape(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			switch pattern[i+1] {
			case '*', '?', '[', ']', '\\':
				b.WriteByte(pattern[i+1])
				i++
				continue
			}
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

// SymbolResolver resolves a guest address to the function and object
// (executable/shared-library) name it falls within, so frame globs can be
// matched by name rather than raw address.
type SymbolResolver interface {
	Resolve(addr uint32) (funcName, objName string)
}

// Matcher matches recorded errors against a loaded set of suppressions.
type Matcher struct {
	supps    []Suppression
	resolver SymbolResolver
}

// NewMatcher constructs a Matcher over the given suppressions, resolving
// frame addresses to names via resolver.
func NewMatcher(supps []Suppression, resolver SymbolResolver) *Matcher {
	return &Matcher{supps: supps, resolver: resolver}
}

// Matches implements report.Matcher: it returns true if any loaded
// suppression matches v's kind and frame sequence, and bumps that
// suppression's Count so Suppressions can later report which entries are
// actually firing.
func (m *Matcher) Matches(v report.SuppressionView) bool {
	if m == nil {
		return false
	}
	addrs := make([]uint32, 0, v.Context.Depth+1)
	addrs = append(addrs, v.Context.PC)
	addrs = append(addrs, v.Context.Frames[:v.Context.Depth]...)

	for i := range m.supps {
		s := &m.supps[i]
		if s.Kind != "*" && !globMatch(s.Kind, string(v.Kind)) {
			continue
		}
		if matchFrames(s.Frames, addrs, m.resolver) {
			s.Count++
			return true
		}
	}
	return false
}

// Suppressions returns the loaded suppressions, in file order, with each
// entry's current match Count.
func (m *Matcher) Suppressions() []Suppression {
	if m == nil {
		return nil
	}
	return m.supps
}

// matchFrames walks the suppression's frame globs against addrs
// innermost-first. A wildcard frame consumes zero or more addresses, trying
// the fewest first and one more each time the remaining globs fail to match
// the remaining addresses (a simple backtracking match, since suppression
// frame lists are short).
func matchFrames(globs []FrameGlob, addrs []uint32, resolver SymbolResolver) bool {
	return matchFramesAt(globs, addrs, resolver)
}

func matchFramesAt(globs []FrameGlob, addrs []uint32, resolver SymbolResolver) bool {
	if len(globs) == 0 {
		return true
	}
	g := globs[0]
	if g.Wildcard {
		for skip := 0; skip <= len(addrs); skip++ {
			if matchFramesAt(globs[1:], addrs[skip:], resolver) {
				return true
			}
		}
		return false
	}
	if len(addrs) == 0 {
		return false
	}
	if !frameMatches(g, addrs[0], resolver) {
		return false
	}
	return matchFramesAt(globs[1:], addrs[1:], resolver)
}

func frameMatches(g FrameGlob, addr uint32, resolver SymbolResolver) bool {
	if resolver == nil {
		return false
	}
	funcName, objName := resolver.Resolve(addr)
	switch g.Kind {
	case MatchFunction:
		return globMatch(g.Pattern, funcName)
	case MatchObject:
		return globMatch(g.Pattern, objName)
	default:
		return false
	}
}

func globMatch(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}
