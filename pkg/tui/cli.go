// Package tui renders run summaries and prompts for the terminal.
// Simple, streaming, no full-screen TUI - just clean prompts and output.
package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/aggregate"
	"github.com/logflow/svctools/pkg/mismatch"
	"github.com/logflow/svctools/pkg/preset"
	"github.com/logflow/svctools/pkg/report"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/window"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

// PrintHeader prints the tool banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  SVCTOOLS")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Repeated-event detection for service exports"))
	fmt.Fprintln(w)
}

// SummaryOptions controls PrintSummary.
type SummaryOptions struct {
	// GroupHeader names the group column ("Technician", "Item Type").
	GroupHeader string

	// TopGroups limits the group table; 0 prints every group.
	TopGroups int
}

// PrintSummary prints the overall figures and the per-group table.
func PrintSummary(w io.Writer, res *report.Result, opts SummaryOptions) {
	o := res.Overall
	matching := "Repeats"
	if res.Info.Mode == window.ModeComplementary {
		matching = "Unreturned"
	}

	fmt.Fprintln(w)
	if o.Empty {
		fmt.Fprintln(w, accentStyle.Render("  ✗ NO EVENTS CLASSIFIED"))
	} else {
		fmt.Fprintln(w, successStyle.Render("  ✓ ANALYSIS COMPLETE"))
	}
	fmt.Fprintln(w)

	kv := func(k, v string) {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(padRight(k+":", 12)), titleStyle.Render(v))
	}
	if res.Info.Preset != "" {
		kv("Preset", res.Info.Preset)
	}
	kv("Window", fmt.Sprintf("%d days", res.Info.WindowDays))
	if !res.Info.Now.IsZero() {
		kv("As of", res.Info.Now.Format("02/01/2006 15:04"))
	}
	kv("Rows", formatNumber(int64(o.Rows)))
	kv("Total", formatNumber(int64(o.Total)))
	kv(matching, fmt.Sprintf("%s (%s%%)", formatNumber(int64(o.Matching)), formatPercent(o.Percentage)))

	if o.Excluded > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(padRight("Excluded:", 12)), accentStyle.Render(strconv.Itoa(o.Excluded)))
		for _, e := range []struct {
			name string
			n    int
		}{
			{"invalid date", o.Stats.InvalidTimestamp},
			{"invalid number", o.Stats.InvalidNumeric},
			{"missing key", o.Stats.MissingEntity},
			{"out of range", o.Stats.OutOfRange},
		} {
			if e.n > 0 {
				fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("    %-14s %d", e.name, e.n)))
			}
		}
	}

	var labels []string
	for _, l := range []model.Label{
		model.LabelRepeat, model.LabelDuplicate, model.LabelMatched,
		model.LabelUnreturned, model.LabelPending, model.LabelSuperseded,
	} {
		if n := o.Labels[l]; n > 0 {
			labels = append(labels, fmt.Sprintf("%s=%d", l, n))
		}
	}
	if len(labels) > 0 {
		kv("Labels", strings.Join(labels, " "))
	}

	if len(res.GroupSummaries) > 0 {
		header := opts.GroupHeader
		if header == "" {
			header = "Group"
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("▸ BY "+strings.ToUpper(header)))
		printSummaryTable(w, res.GroupSummaries, matching, opts.TopGroups)
	}
	fmt.Fprintln(w)
}

func printSummaryTable(w io.Writer, rows []aggregate.Summary, matching string, top int) {
	keyWidth := 10
	for _, s := range rows {
		keyWidth = max(keyWidth, lipgloss.Width(s.Key))
	}
	keyWidth = min(keyWidth, 32)

	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  %s %8s %10s %8s", padRight("", keyWidth), "Total", matching, "%")))
	for i, s := range rows {
		if top > 0 && i == top {
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  … %d more", len(rows)-top)))
			break
		}
		fmt.Fprintf(w, "  %s %8d %10d %8s\n", padRight(truncate(s.Key, keyWidth), keyWidth), s.Total, s.Matching, formatPercent(s.Percentage))
	}
}

// PrintColumns prints the table columns and how fields resolved onto them.
func PrintColumns(w io.Writer, columns []string, res *resolve.Resolution) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ COLUMNS"))
	for i, c := range columns {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%3d", i+1)), c)
	}
	if res == nil {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ FIELD MAPPING"))
	for _, m := range res.Matches {
		fmt.Fprintf(w, "  %s %s %s\n",
			padRight(string(m.Field), 10),
			codeStyle.Render(m.Column),
			mutedStyle.Render("("+m.Pass.String()+")"))
	}
	for _, f := range res.Unresolved {
		line := fmt.Sprintf("  %s %s", padRight(string(f), 10), "not found")
		if hits := res.Ambiguous[f]; len(hits) > 0 {
			line += " (ambiguous: " + strings.Join(hits, ", ") + ")"
		}
		fmt.Fprintln(w, accentStyle.Render(line))
	}
	fmt.Fprintln(w)
}

// PrintMismatch prints an attribute-mismatch result.
func PrintMismatch(w io.Writer, res *mismatch.Result, limit int) {
	fmt.Fprintln(w)
	if res.Mismatched == 0 {
		fmt.Fprintln(w, successStyle.Render("  ✓ NO MISMATCHES"))
	} else {
		fmt.Fprintln(w, accentStyle.Render(fmt.Sprintf("  ✗ %d MISMATCHED ENTITIES", res.Mismatched)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(padRight("Rows:", 12)), titleStyle.Render(formatNumber(int64(res.TotalRows))))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(padRight("Mismatch:", 12)), titleStyle.Render(formatPercent(res.Percentage)+"%"))

	for i, e := range res.Entities {
		if limit > 0 && i == limit {
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  … %d more", len(res.Entities)-limit)))
			break
		}
		var parts []string
		for attr, vals := range e.Values {
			parts = append(parts, attr+": "+strings.Join(vals, " / "))
		}
		sort.Strings(parts)
		fmt.Fprintf(w, "  %s %s\n", codeStyle.Render(e.EntityID), strings.Join(parts, "; "))
	}
	fmt.Fprintln(w)
}

// PrintPresets lists presets with their mode and window.
func PrintPresets(w io.Writer, presets []preset.Preset) {
	fmt.Fprintln(w)
	for _, p := range presets {
		win := fmt.Sprintf("%dd", p.Window())
		if len(p.WindowChoices) > 0 {
			choices := make([]string, len(p.WindowChoices))
			for i, c := range p.WindowChoices {
				choices[i] = strconv.Itoa(c)
			}
			win += " [" + strings.Join(choices, "/") + "]"
		}
		fmt.Fprintf(w, "  %s %s %s\n",
			titleStyle.Render(padRight(p.Name, 18)),
			mutedStyle.Render(padRight(string(p.Mode), 14)),
			win)
		if p.Description != "" {
			fmt.Fprintln(w, mutedStyle.Render("    "+p.Description))
		}
	}
	fmt.Fprintln(w)
}

// PrintWritten reports an output location.
func PrintWritten(w io.Writer, path string, d time.Duration) {
	fmt.Fprintf(w, "  %s %s %s\n",
		successStyle.Render("✓"),
		codeStyle.Render(path),
		mutedStyle.Render("("+formatDuration(d)+")"))
}

// PrintError prints a failure line.
func PrintError(w io.Writer, name string, err error) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ "+name+": ")+err.Error())
}

// Prompter reads answers from an input stream.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter creates a prompter; nil streams default to stdin and stdout.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Path asks for a file path, accepting drag & drop quoting and ~.
func (p *Prompter) Path(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	input, err := p.in.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}

	path := strings.TrimSpace(input)
	// Handle drag & drop (removes quotes)
	path = strings.Trim(path, "\"'")
	// Expand ~ to home dir
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return path, nil
}

// Choice asks for one of choices; an empty answer or one not offered
// returns def.
func (p *Prompter) Choice(label string, choices []int, def int) (int, error) {
	opts := make([]string, len(choices))
	for i, c := range choices {
		opts[i] = strconv.Itoa(c)
	}
	fmt.Fprintf(p.out, "  %s %s: ", mutedStyle.Render(label), mutedStyle.Render("["+strings.Join(opts, "/")+", default "+strconv.Itoa(def)+"]"))

	input, err := p.in.ReadString('\n')
	if err != nil && input == "" {
		return def, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(input))
	if convErr != nil {
		return def, nil
	}
	for _, c := range choices {
		if c == n {
			return n, nil
		}
	}
	return def, nil
}

// Confirm asks a yes/no question; empty means yes.
func (p *Prompter) Confirm(prompt string) (bool, error) {
	fmt.Fprint(p.out, prompt)
	input, err := p.in.ReadString('\n')
	if err != nil && input == "" {
		return false, err
	}

	input = strings.ToLower(strings.TrimSpace(input))
	return input == "" || input == "y" || input == "yes", nil
}

// ShowProgress creates a progress bar over files.
func ShowProgress(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// padRight pads by display width, so Hebrew and wide runes line up.
func padRight(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+1 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}
