// Package output renders command results as terminal tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode selects the output format.
type Mode string

const (
	ModeTable Mode = "table"
	ModeJSON  Mode = "json"
)

// Renderer writes command output in the selected mode.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
}

// NewRenderer creates a renderer. An unknown mode falls back to tables.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	if mode != ModeJSON {
		mode = ModeTable
	}
	return &Renderer{out: out, errOut: errOut, mode: mode}
}

// JSONMode reports whether output is JSON.
func (r *Renderer) JSONMode() bool {
	return r.mode == ModeJSON
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table renders a titled table. No-op in JSON mode; callers emit JSON
// explicitly instead.
func (r *Renderer) Table(title string, header table.Row, rows []table.Row) {
	if r.mode == ModeJSON {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
}

// Printf writes formatted text, suppressed in JSON mode.
func (r *Renderer) Printf(format string, args ...any) {
	if r.mode == ModeJSON {
		return
	}
	fmt.Fprintf(r.out, format, args...)
}

// Errorf writes formatted text to the error stream regardless of mode.
func (r *Renderer) Errorf(format string, args ...any) {
	fmt.Fprintf(r.errOut, format, args...)
}

// StatusCell colors a status word for table output.
func StatusCell(status string) string {
	switch status {
	case "success", "pass", "completed", "create", "replace":
		return text.FgGreen.Sprint(status)
	case "failed", "fail", "error":
		return text.FgRed.Sprint(status)
	case "skip", "skipped", "skipped_upstream":
		return text.FgYellow.Sprint(status)
	default:
		return status
	}
}
