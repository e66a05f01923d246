// Package output formats CLI output. Terminals get status glyphs and an
// in-place progress bar; pipes and files get plain lines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

// Writer writes human or machine readable CLI output.
type Writer struct {
	out io.Writer
	tty bool
}

// New wraps out. Terminal detection only applies to *os.File writers.
func New(out io.Writer) *Writer {
	return &Writer{out: out, tty: IsTTY(out)}
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// TTY reports whether the writer targets a terminal.
func (w *Writer) TTY() bool { return w.tty }

func (w *Writer) status(glyph, plain, msg string) {
	if w.tty {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", glyph, msg)
		return
	}
	if plain == "" {
		_, _ = fmt.Fprintln(w.out, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s: %s\n", plain, msg)
}

// Info prints a neutral line.
func (w *Writer) Info(msg string) { w.status("•", "", msg) }

// Infof is Info with formatting.
func (w *Writer) Infof(format string, args ...any) { w.Info(fmt.Sprintf(format, args...)) }

// Success prints a completion line.
func (w *Writer) Success(msg string) { w.status("✓", "", msg) }

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

// Warning prints a warning line.
func (w *Writer) Warning(msg string) { w.status("!", "warning", msg) }

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

// Error prints an error line.
func (w *Writer) Error(msg string) { w.status("✗", "error", msg) }

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Newline prints an empty line.
func (w *Writer) Newline() { _, _ = fmt.Fprintln(w.out) }

// Code prints content indented by two spaces, framed by blank lines.
func (w *Writer) Code(content string) {
	w.Newline()
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	w.Newline()
}

// Progress redraws a bar in place on terminals. Elsewhere it prints only
// the final state so logs stay short.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	if !w.tty {
		if current >= total {
			_, _ = fmt.Fprintf(w.out, "%d/%d %s\n", current, total, msg)
		}
		return
	}
	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(w.out, "\r\033[K[%s] %3.0f%% %s", Bar(current, total, 30), pct, msg)
	if current >= total {
		w.Newline()
	}
}

// Bar renders a fixed-width text progress bar.
func Bar(current, total, width int) string {
	filled := 0
	if total > 0 {
		filled = current * width / total
	}
	filled = max(0, min(filled, width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// KV prints aligned key/value rows in the given order.
func (w *Writer) KV(rows [][2]string) {
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
	}
	_ = tw.Flush()
}

// Counts prints a map sorted by descending count, then key.
func (w *Writer) Counts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	_, _ = fmt.Fprintln(w.out, title)
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "  %s\t%d\n", k, counts[k])
	}
	_ = tw.Flush()
}

// JSON writes v indented.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
