package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

const columnGap = 2

// Table renders column-aligned output. Rows are buffered until Flush so
// column widths fit the widest cell; on a terminal, wide columns are
// narrowed to the terminal width and their cells wrapped.
type Table struct {
	out      io.Writer
	headers  []string
	rows     [][]string
	prefix   string
	maxWidth int
}

// NewTable creates a table with the given column headers writing to stdout.
func NewTable(headers ...string) *Table {
	return &Table{
		out:      os.Stdout,
		headers:  headers,
		maxWidth: terminalWidth(),
	}
}

// WithPrefix sets a string prepended to each line (headers, divider, rows).
// Useful for indenting sub-tables within larger output.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// WithWriter redirects output to w. Widths are not capped.
func (t *Table) WithWriter(w io.Writer) *Table {
	t.out = w
	t.maxWidth = 0
	return t
}

// Row buffers a row. Missing trailing cells render empty.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes the table. If no rows were added, nothing is printed.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visualLen(h)
	}
	for _, r := range t.rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			if n := visualLen(r[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}
	if t.maxWidth > 0 {
		widths = capWidths(widths, t.headers, t.maxWidth, len(t.prefix))
	}

	t.line(widths, t.headers)
	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", visualLen(h))
	}
	t.line(widths, dividers)

	for _, r := range t.rows {
		cells := make([][]string, len(widths))
		height := 1
		for i := range widths {
			v := ""
			if i < len(r) {
				v = r[i]
			}
			cells[i] = wrapCell(v, widths[i])
			if len(cells[i]) > height {
				height = len(cells[i])
			}
		}
		for l := 0; l < height; l++ {
			vals := make([]string, len(widths))
			for i := range widths {
				if l < len(cells[i]) {
					vals[i] = cells[i][l]
				}
			}
			t.line(widths, vals)
		}
	}
	t.rows = nil
}

func (t *Table) line(widths []int, vals []string) {
	var b strings.Builder
	b.WriteString(t.prefix)
	for i, v := range vals {
		b.WriteString(v)
		if i < len(vals)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-visualLen(v)+columnGap))
		}
	}
	fmt.Fprintln(t.out, strings.TrimRight(b.String(), " "))
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visualLen is the printed width of s, ignoring ANSI color sequences.
func visualLen(s string) int {
	return utf8.RuneCountInString(ansiEscape.ReplaceAllString(s, ""))
}

// capWidths narrows the widest columns until the table fits termWidth.
// No column goes below its header width, even if the table still
// overflows.
func capWidths(widths []int, headers []string, termWidth, prefix int) []int {
	out := append([]int(nil), widths...)
	total := prefix + columnGap*(len(out)-1)
	for _, w := range out {
		total += w
	}
	for total > termWidth {
		widest := -1
		for i, w := range out {
			if w > visualLen(headers[i]) && (widest < 0 || w > out[widest]) {
				widest = i
			}
		}
		if widest < 0 {
			break
		}
		out[widest]--
		total--
	}
	return out
}

// wrapCell splits s into lines of at most width, breaking at spaces and
// hard-breaking words longer than width. A cell that fits is returned
// unchanged, color sequences included.
func wrapCell(s string, width int) []string {
	if width <= 0 || visualLen(s) <= width {
		return []string{s}
	}
	plain := ansiEscape.ReplaceAllString(s, "")

	var lines []string
	var cur []rune
	for _, word := range strings.Fields(plain) {
		w := []rune(word)
		if len(cur) > 0 && len(cur)+1+len(w) <= width {
			cur = append(append(cur, ' '), w...)
			continue
		}
		if len(cur) > 0 {
			lines = append(lines, string(cur))
			cur = nil
		}
		for len(w) > width {
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		cur = w
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
