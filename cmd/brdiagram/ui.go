package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/brunobiangulo/brdiagram"
)

// ui prints run results for a terminal.
type ui struct {
	w       io.Writer
	noColor bool
}

func newUI(w io.Writer, noColor bool) *ui {
	return &ui{w: w, noColor: noColor || color.NoColor}
}

func (u *ui) paint(attr color.Attribute, format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	if u.noColor {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

func (u *ui) Info(format string, args ...any) {
	fmt.Fprintln(u.w, u.paint(color.FgCyan, format, args...))
}

func (u *ui) Success(format string, args ...any) {
	fmt.Fprintln(u.w, u.paint(color.FgGreen, "✓ "+format, args...))
}

func (u *ui) Warning(format string, args ...any) {
	fmt.Fprintln(u.w, u.paint(color.FgYellow, "⚠ "+format, args...))
}

func (u *ui) Error(format string, args ...any) {
	fmt.Fprintln(u.w, u.paint(color.FgRed, "✗ "+format, args...))
}

func (u *ui) Header(title string) {
	fmt.Fprintln(u.w)
	fmt.Fprintln(u.w, u.paint(color.Bold, "%s", title))
	fmt.Fprintln(u.w, strings.Repeat("─", len(title)))
}

// Spinner returns an indeterminate progress indicator on stderr.
func (u *ui) Spinner(message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return s
}

// PrintResult shows extracted facts, each diagram, and the summary.
func (u *ui) PrintResult(res *brdiagram.Result) {
	for _, w := range res.Warnings {
		u.Warning("%s", w)
	}

	if res.Facts != nil {
		u.Header("Extracted facts")
		if res.Facts.Unstructured {
			fmt.Fprintln(u.w, res.Facts.Raw)
		} else {
			rec := res.Facts.Record
			u.list("Processes", rec.Processes)
			u.list("Data flows", rec.DataFlows)
			u.list("Rules", rec.Rules)
			u.list("Entities", rec.Entities)
		}
	}

	for _, a := range res.Artifacts {
		u.Header(a.Kind.Title())
		if !a.OK() {
			u.Error("%s", a.Err)
			continue
		}
		fmt.Fprintln(u.w, a.Markup)
		if a.MarkupPath != "" {
			u.Success("%s", a.MarkupPath)
		}
		if a.ImagePath != "" {
			u.Success("%s", a.ImagePath)
		}
		if a.DocumentPath != "" {
			u.Success("%s", a.DocumentPath)
		}
	}

	if len(res.Failures) > 0 {
		u.Header("Failures")
		for _, f := range res.Failures {
			u.Error("%s", f.String())
		}
	}

	u.Header("Summary")
	fmt.Fprintln(u.w, res.Summary)
	status := string(res.Status)
	switch res.Status {
	case brdiagram.StatusComplete:
		u.Success("status %s, run %s", status, res.RunID)
	case brdiagram.StatusPartial:
		u.Warning("status %s, run %s", status, res.RunID)
	default:
		u.Error("status %s, run %s", status, res.RunID)
	}
}

func (u *ui) list(label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(u.w, u.paint(color.Bold, "%s:", label))
	for _, item := range items {
		fmt.Fprintf(u.w, "  - %s\n", item)
	}
}
