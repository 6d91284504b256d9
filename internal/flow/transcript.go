package flow

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes a human-readable transcript of a flow run.
type Printer struct {
	w      io.Writer
	tx     lipgloss.Style
	desc   lipgloss.Style
	empty  lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
}

// NewPrinter returns a Printer whose styling follows w's color support.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		tx:     r.NewStyle().Bold(true),
		desc:   r.NewStyle().Faint(true),
		empty:  r.NewStyle().Foreground(lipgloss.Color("8")).Italic(true),
		ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
		failed: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

// Step prints one step result.
func (p *Printer) Step(n, total int, r StepResult) {
	header := fmt.Sprintf("[%d/%d] TX: %q", n, total, r.Step.Command+"\r\n")
	fmt.Fprintln(p.w, p.tx.Render(header))
	if r.Step.Description != "" {
		fmt.Fprintln(p.w, p.desc.Render("      "+r.Step.Description))
	}

	if r.Response.Empty() {
		fmt.Fprintln(p.w, p.empty.Render("      (no response)"))
	} else {
		for _, line := range strings.Split(strings.TrimRight(r.Response.Text(), "\r\n"), "\n") {
			fmt.Fprintf(p.w, "RX: %s\n", strings.TrimRight(line, "\r"))
		}
	}

	if r.Step.Expect != "" {
		if r.Matched {
			fmt.Fprintln(p.w, p.ok.Render("MATCHED: "+r.Step.Expect))
		} else {
			fmt.Fprintln(p.w, p.failed.Render("NOT MATCHED: "+r.Step.Expect))
		}
	}
}

// Summary prints the final line for an outcome.
func (p *Printer) Summary(o Outcome) {
	switch {
	case o.Aborted():
		fmt.Fprintln(p.w, p.failed.Render(fmt.Sprintf("%s: aborted, nothing was sent", o.Flow)))
	case !o.Completed:
		fmt.Fprintln(p.w, p.failed.Render(fmt.Sprintf("%s: stopped after %d step(s): %v", o.Flow, len(o.Steps), o.Err)))
	case o.Passed():
		fmt.Fprintln(p.w, p.ok.Render(fmt.Sprintf("%s: completed, %d step(s)", o.Flow, len(o.Steps))))
	default:
		fmt.Fprintln(p.w, p.failed.Render(fmt.Sprintf("%s: completed with unmet expectations", o.Flow)))
	}
}
