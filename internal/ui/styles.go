package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	// Colors
	ColorPrimary   = lipgloss.Color("205") // Pink
	ColorSecondary = lipgloss.Color("241") // Gray
	ColorSuccess   = lipgloss.Color("42")  // Green
	ColorError     = lipgloss.Color("160") // Red
	ColorWarning   = lipgloss.Color("214") // Orange/Yellow
	ColorText      = lipgloss.Color("252") // White/Gray

	StyleTitle   = lipgloss.NewStyle().Foreground(ColorText).Bold(true)
	StyleSubtle  = lipgloss.NewStyle().Foreground(ColorSecondary)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)

	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true).
			Padding(0, 1)

	StyleBox = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorSecondary).
			Padding(0, 1)
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Row is one label/value line of a Panel.
type Row struct {
	Label string
	Value string
	Style *lipgloss.Style
}

// Panel renders a titled block of rows. Styling is applied only when styled
// is set so piped output stays plain.
func Panel(w io.Writer, title string, rows []Row, styled bool) {
	width := 0
	for _, r := range rows {
		width = max(width, len(r.Label))
	}

	var sb strings.Builder
	for i, r := range rows {
		label := fmt.Sprintf("%-*s", width, r.Label)
		value := r.Value
		if styled {
			label = StyleSubtle.Render(label)
			if r.Style != nil {
				value = r.Style.Render(value)
			}
		}
		sb.WriteString(label + "  " + value)
		if i < len(rows)-1 {
			sb.WriteByte('\n')
		}
	}

	if !styled {
		fmt.Fprintf(w, "%s\n%s\n", title, sb.String())
		return
	}
	fmt.Fprintln(w, StyleHeader.Render(title))
	fmt.Fprintln(w, StyleBox.Render(sb.String()))
}
