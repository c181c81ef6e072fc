package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/kiosksync/internal/models"
	"github.com/kimhsiao/kiosksync/internal/telemetry"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle  = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }

func renderOnline(online bool) string {
	if online {
		return renderPass("online")
	}
	return renderWarn("offline")
}

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", f)
}

// writeStructured prints v as JSON or YAML.
func writeStructured(w io.Writer, format string, v interface{}) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// renderStatus draws the status panel.
func renderStatus(s *models.StatusReport) string {
	lines := []string{
		headerStyle.Render("Kiosk sync"),
		row("Connectivity", renderOnline(s.Online)),
		row("Queued", fmt.Sprintf("%d", s.Queue.Total)),
		row("Pending", fmt.Sprintf("%d", s.Queue.Pending)),
		row("Failed", failedCount(s.Queue.Failed)),
		row("Draining", fmt.Sprintf("%t", s.Queue.Syncing)),
	}
	if s.LastSync != nil {
		r := s.LastSync.Results
		lines = append(lines,
			row("Last sync", s.LastSync.Timestamp.Local().Format(time.DateTime)),
			row("Result", fmt.Sprintf("%d/%d delivered", r.Succeeded, r.Total)),
		)
	} else {
		lines = append(lines, row("Last sync", mutedStyle.Render("never")))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func failedCount(n int) string {
	if n == 0 {
		return "0"
	}
	return renderWarn(fmt.Sprintf("%d", n))
}

// renderItems draws one line per queued item.
func renderItems(items []models.QueueItem) string {
	if len(items) == 0 {
		return mutedStyle.Render("queue is empty")
	}
	var b strings.Builder
	for _, it := range items {
		status := renderAccent(string(it.Status))
		if it.Status == models.StatusFailed {
			status = renderWarn(fmt.Sprintf("%s (%d)", it.Status, it.RetryCount))
		}
		fmt.Fprintf(&b, "%s  %-12s %-6s %s  %s\n", it.ID, it.Type, it.Method, it.URL, status)
		if it.LastError != "" {
			fmt.Fprintf(&b, "   %s\n", mutedStyle.Render(it.LastError))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderAbandoned draws dead-letter records.
func renderAbandoned(items []models.AbandonedItem) string {
	if len(items) == 0 {
		return mutedStyle.Render("no abandoned items")
	}
	var b strings.Builder
	for _, a := range items {
		fmt.Fprintf(&b, "%s  %-12s %s  %s\n",
			a.Item.ID, a.Item.Type, renderFail(string(a.Reason)), a.AbandonedAt.Local().Format(time.DateTime))
		if a.Item.LastError != "" {
			fmt.Fprintf(&b, "   %s\n", mutedStyle.Render(a.Item.LastError))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderResult summarises one drain.
func renderResult(r *models.SyncResult) string {
	mark := renderPass("✓")
	if r.Failed > 0 {
		mark = renderWarn("⚠")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s Sync complete: %d attempted, %d delivered, %d failed", mark, r.Total, r.Succeeded, r.Failed)
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n   %s %s: %s", renderFail("✗"), e.ID, e.Error)
	}
	return b.String()
}

// renderMetrics draws the local counters.
func renderMetrics(s *telemetry.Snapshot) string {
	lines := []string{
		headerStyle.Render("Sync counters"),
		row("Drains", fmt.Sprintf("%d", s.Drains)),
		row("Delivered", fmt.Sprintf("%d", s.Delivered)),
		row("Failed", failedCount(s.Failed)),
		row("Abandoned", failedCount(s.Abandoned)),
		row("Flips", fmt.Sprintf("%d", s.ConnectivityFlips)),
		row("Since", s.Since.Local().Format(time.DateTime)),
	}
	if s.LastDrainAt != nil {
		lines = append(lines, row("Last drain", fmt.Sprintf("%s (%s)", s.LastDrainAt.Local().Format(time.DateTime), s.LastDrainDuration)))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}
