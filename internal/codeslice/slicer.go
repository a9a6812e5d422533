// Package codeslice extracts the enclosing function around a reported line
// so a reviewer (human or model) sees the code that matters.
package codeslice

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const (
	// MaxBackwardScan is how far above the issue we look for a function signature.
	MaxBackwardScan = 50
	// FallbackBefore is used when no signature is found.
	FallbackBefore = 10
	// FallbackAfter is used when braces do not balance before EOF.
	FallbackAfter = 20
	// MaxSignatureLines bounds multi-line signatures.
	MaxSignatureLines = 5
	// MaxSliceLines caps the size of a returned slice.
	MaxSliceLines = 120

	issueMarker = "  <<< ISSUE HERE"
)

var (
	// return type (may contain * and spaces), name, parameter list, optional brace
	signatureRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_*:<>,\s]*\s+\**[a-zA-Z_][a-zA-Z0-9_:~]*\s*\([^)]*\)\s*(const\s*)?\{?$`)

	controlKeywords = map[string]bool{
		"if": true, "for": true, "while": true, "switch": true,
		"return": true, "else": true, "do": true, "case": true,
	}
)

// Extractor slices source files. File contents are cached by path until Clear.
// It is safe for concurrent use.
type Extractor struct {
	fs afero.Fs

	mu    sync.RWMutex
	files map[string][]string
}

// NewExtractor creates an Extractor reading through fs.
// Use afero.NewOsFs() for real files, afero.NewMemMapFs() in tests.
func NewExtractor(fs afero.Fs) *Extractor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Extractor{
		fs:    fs,
		files: make(map[string][]string),
	}
}

// Slice returns a line-numbered excerpt of the function enclosing line (1-based).
// It never fails: problems are reported as a bracketed placeholder string.
func (e *Extractor) Slice(filePath string, line int) string {
	lines := e.lines(filePath)
	if len(lines) == 0 {
		return "[Error: File is empty or cannot be read]"
	}
	if line < 1 || line > len(lines) {
		return fmt.Sprintf("[Error: Invalid line number %d (file has %d lines)]", line, len(lines))
	}

	issue := line - 1
	start, end := enclosingRange(lines, issue)
	start, end = capRange(start, end, issue, len(lines))

	var sb strings.Builder
	fmt.Fprintf(&sb, "// File: %s (lines %d-%d)\n", filePath, start+1, end+1)
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%4d: %s", i+1, lines[i])
		if i == issue {
			sb.WriteString(issueMarker)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Clear drops all cached file contents.
func (e *Extractor) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = make(map[string][]string)
}

// CachedFiles returns how many files are currently cached.
func (e *Extractor) CachedFiles() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.files)
}

// lines returns the file split into lines. Read failures are not cached so a
// later call can succeed once the file appears.
func (e *Extractor) lines(path string) []string {
	e.mu.RLock()
	cached, ok := e.files[path]
	e.mu.RUnlock()
	if ok {
		return cached
	}

	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil
	}
	lines := splitLines(data)

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.files[path]; ok {
		return existing
	}
	e.files[path] = lines
	return lines
}

func splitLines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if scanner.Err() == nil {
		return lines
	}

	// A line beyond the scanner limit (minified or generated code) stops the
	// scan early; split the whole buffer instead so later lines stay addressable.
	raw := bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
	lines = make([]string, len(raw))
	for i, l := range raw {
		lines[i] = string(bytes.TrimSuffix(l, []byte("\r")))
	}
	return lines
}

// enclosingRange returns inclusive 0-based bounds around issue.
func enclosingRange(lines []string, issue int) (int, int) {
	last := len(lines) - 1
	fallbackStart := max(0, issue-FallbackBefore)
	fallbackEnd := min(last, issue+FallbackAfter)

	start, found := findFunctionStart(lines, issue)
	if !found {
		start = fallbackStart
	}

	end, balanced := findFunctionEnd(lines, start)
	if !balanced {
		end = fallbackEnd
	}

	// A closed function above the issue is not the enclosing one.
	if end < issue {
		return fallbackStart, fallbackEnd
	}
	return start, end
}

func findFunctionStart(lines []string, issue int) (int, bool) {
	floor := max(0, issue-MaxBackwardScan)
	for i := issue; i >= floor; i-- {
		if isSignatureStart(lines, i, issue) {
			return i, true
		}
	}
	return 0, false
}

// isSignatureStart reports whether a signature begins at line i, joining up
// to MaxSignatureLines lines (never past limit) for multi-line parameter lists.
func isSignatureStart(lines []string, i, limit int) bool {
	first := strings.TrimSpace(lines[i])
	if first == "" || isComment(first) || first[0] == '{' || first[0] == '}' {
		return false
	}
	if controlKeywords[firstWord(first)] {
		return false
	}

	joined := first
	for j := i; j <= limit && j < i+MaxSignatureLines; j++ {
		if j > i {
			next := strings.TrimSpace(lines[j])
			if next == "" || isComment(next) {
				continue
			}
			joined += " " + next
		}
		if signatureRegex.MatchString(joined) {
			return true
		}
		if strings.HasSuffix(joined, ";") || strings.HasSuffix(joined, "}") {
			return false
		}
	}
	return false
}

// findFunctionEnd counts brace depth from start until it returns to zero.
func findFunctionEnd(lines []string, start int) (int, bool) {
	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				// stray closers before the first opener belong to an outer block
				if depth > 0 {
					depth--
				}
			}
		}
		if opened && depth <= 0 {
			return i, true
		}
	}
	return 0, false
}

func capRange(start, end, issue, total int) (int, int) {
	if end-start+1 <= MaxSliceLines {
		return start, end
	}
	half := MaxSliceLines / 2
	start = max(start, issue-half)
	end = min(end, start+MaxSliceLines-1)
	if end >= total {
		end = total - 1
	}
	return start, end
}

func isComment(s string) bool {
	return strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/*") ||
		strings.HasPrefix(s, "*") || strings.HasPrefix(s, "#")
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t("); i >= 0 {
		return s[:i]
	}
	return s
}
