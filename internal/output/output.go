// Package output formats CLI output, coloured when writing to a terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Writer provides formatted output for the CLI.
// Write errors are ignored; this is console output.
type Writer struct {
	out      io.Writer
	useColor bool

	heading lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
}

// New creates a Writer. Colour is used when out is a terminal and NO_COLOR
// is unset.
func New(out io.Writer) *Writer {
	return newWriter(out, colorEnabled(out))
}

// NewPlain creates a Writer that never colours.
func NewPlain(out io.Writer) *Writer {
	return newWriter(out, false)
}

func newWriter(out io.Writer, useColor bool) *Writer {
	w := &Writer{out: out, useColor: useColor}
	plain := lipgloss.NewStyle()
	w.heading, w.label, w.dim, w.ok, w.warn, w.bad = plain, plain, plain, plain, plain, plain
	if useColor {
		w.heading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("37"))
		w.label = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
		w.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
		w.ok = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))
		w.warn = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
		w.bad = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	}
	return w
}

func colorEnabled(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// UseColor reports whether output is coloured.
func (w *Writer) UseColor() bool {
	return w.useColor
}

// Status prints a message with an icon; an empty icon indents.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status("✅", w.ok.Render(msg))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.warn.Render(msg))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.bad.Render(msg))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Heading prints a bold title.
func (w *Writer) Heading(title string) {
	_, _ = fmt.Fprintln(w.out, w.heading.Render(title))
}

// Field prints "label: value" with a dimmed label.
func (w *Writer) Field(label, value string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.label.Render(label+":"), value)
}

// Block prints text indented by two spaces, framed by blank lines.
func (w *Writer) Block(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Dim prints a de-emphasised line.
func (w *Writer) Dim(msg string) {
	_, _ = fmt.Fprintln(w.out, w.dim.Render(msg))
}

// Table prints rows in aligned columns. Widths are display widths, so CJK
// text lines up.
func (w *Writer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	line := func(cells []string, style lipgloss.Style) {
		var sb strings.Builder
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(widths)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
		}
		_, _ = fmt.Fprintln(w.out, style.Render(strings.TrimRight(sb.String(), " ")))
	}

	line(headers, w.label)
	for _, row := range rows {
		line(row, lipgloss.NewStyle())
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
