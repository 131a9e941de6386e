package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"hivemind/internal/curation"
	"hivemind/internal/metrics"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("#8BC34A")
	colorMuted   = lipgloss.Color("#6b7280")
	colorWarning = lipgloss.Color("#FFC107")
	colorError   = lipgloss.Color("#e53935")
)

// Styles used by every command.
type Styles struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

func defaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		Header:  lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Cell:    lipgloss.NewStyle().Padding(0, 1),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Warning: lipgloss.NewStyle().Foreground(colorWarning),
		Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
	}
}

// =============================================================================
// TABLE
// =============================================================================

// Table renders static rows with aligned columns.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// NewTable creates an empty table.
func NewTable(title string, headers ...string) *Table {
	return &Table{Title: title, Headers: headers}
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// View renders the table; an empty table renders nothing.
func (t *Table) View(styles Styles) string {
	if len(t.Rows) == 0 {
		return ""
	}

	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title))
		sb.WriteString("\n")
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	// Width includes padding
	for i := range widths {
		widths[i] += 2
	}

	sep := styles.Muted.Render("|")
	for i, h := range t.Headers {
		sb.WriteString(styles.Header.Width(widths[i]).Render(h))
		if i < len(t.Headers)-1 {
			sb.WriteString(sep)
		}
	}
	sb.WriteString("\n")

	total := 0
	for _, w := range widths {
		total += w
	}
	total += len(widths) - 1
	sb.WriteString(styles.Muted.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")

	for _, row := range t.Rows {
		for i := range t.Headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			sb.WriteString(styles.Cell.Width(widths[i]).Render(cell))
			if i < len(t.Headers)-1 {
				sb.WriteString(sep)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// =============================================================================
// REPORTS
// =============================================================================

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderMetrics(styles Styles, m metrics.Snapshot) string {
	t := NewTable("Knowledge flow", "Metric", "Value")
	t.AddRow("Knowledge velocity", fmt.Sprintf("%d", m.KnowledgeVelocity))
	t.AddRow("Reuse rate", fmt.Sprintf("%.2f", m.ReuseRate))
	t.AddRow("Innovation index", fmt.Sprintf("%.2f", m.InnovationIndex))
	t.AddRow("Rejection rate", fmt.Sprintf("%.2f", m.RejectionRate))
	t.AddRow("Transfers", fmt.Sprintf("%d", m.Transfers))
	t.AddRow("Rejections", fmt.Sprintf("%d", m.Rejections))
	return t.View(styles)
}

func renderInsights(w io.Writer, styles Styles, ins curation.Insights) {
	fmt.Fprintln(w, styles.Title.Render("Curation cycle "+shortID(ins.CycleID)))
	fmt.Fprintln(w, ins.Summary)
	if ins.Partial {
		fmt.Fprintln(w, styles.Warning.Render("Cycle did not complete; results are partial"))
	}
	fmt.Fprintln(w)

	top := NewTable("Top patterns", "ID", "Name", "Impact", "Adoption")
	for _, p := range ins.TopPatterns {
		top.AddRow(shortID(p.ID), p.Name, fmt.Sprintf("%.2f", p.Impact), fmt.Sprintf("%d", p.Adoption))
	}
	if out := top.View(styles); out != "" {
		fmt.Fprintln(w, out)
	}

	recs := NewTable("Recommendations", "Type", "Patterns", "Agents", "Rationale")
	for _, r := range ins.Recommendations {
		ids := make([]string, 0, len(r.PatternIDs))
		for _, id := range r.PatternIDs {
			ids = append(ids, shortID(id))
		}
		recs.AddRow(string(r.Type), strings.Join(ids, ", "), strings.Join(r.Agents, ", "), r.Rationale)
	}
	if out := recs.View(styles); out != "" {
		fmt.Fprintln(w, out)
	}

	transfers := NewTable("Transfers", "Pattern", "From", "To", "Status", "Attempts")
	for _, t := range ins.Transfers {
		transfers.AddRow(shortID(t.PatternID), strings.Join(t.FromAgents, ", "), t.ToAgent, string(t.Status), fmt.Sprintf("%d", t.Attempts))
	}
	if out := transfers.View(styles); out != "" {
		fmt.Fprintln(w, out)
	}

	fmt.Fprintln(w, renderMetrics(styles, ins.Metrics))
	if ins.Errors.Total() > 0 {
		fmt.Fprintln(w, styles.Error.Render("Errors: "+ins.Errors.String()))
		for _, msg := range ins.Errors.Messages {
			fmt.Fprintln(w, styles.Muted.Render("  "+msg))
		}
	}
}
