package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/preview"
	"github.com/charmbracelet/lipgloss"
)

const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

var (
	colorAccent  = lipgloss.Color("#00ff9f")
	colorDim     = lipgloss.Color("#6e7681")
	colorWarning = lipgloss.Color("#f2cc60")
	colorFailure = lipgloss.Color("#ff5f56")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(colorDim).Width(14)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)
)

func statusStyle(status core.Status) lipgloss.Style {
	switch status {
	case core.StatusCompleted:
		return lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	case core.StatusFailed:
		return lipgloss.NewStyle().Bold(true).Foreground(colorFailure)
	case core.StatusQueued, core.StatusProcessing:
		return lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	default:
		return lipgloss.NewStyle()
	}
}

type row struct {
	label string
	value string
}

func renderBox(title string, rows []row) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, titleStyle.Render(title))

	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r.label), r.value))
	}

	return boxStyle.Render(strings.Join(lines, "\n"))
}

// renderJob formats a job snapshot for the terminal.
func renderJob(job core.RenderJob) string {
	rows := []row{
		{"id", job.ID},
		{"file", job.Label},
		{"status", statusStyle(job.Status).Render(string(job.Status))},
		{"tier", string(job.Tier)},
		{"created", formatTime(job.CreatedAt)},
	}

	if !job.CompletedAt.IsZero() {
		rows = append(rows, row{"finished", formatTime(job.CompletedAt)})
	}

	if job.OutputAsset != nil {
		rows = append(rows,
			row{"output", job.OutputAsset.Key},
			row{"size", formatSize(job.OutputAsset.Size)},
			row{"duration", job.OutputAsset.Duration.Round(time.Millisecond).String()},
			row{"watermarked", fmt.Sprintf("%t", job.OutputAsset.Watermarked)},
		)
	}

	if job.ErrorReason != "" {
		rows = append(rows, row{"error", lipgloss.NewStyle().Foreground(colorFailure).Render(job.ErrorReason)})
	}

	return renderBox("Render job", rows)
}

// renderChain formats the preview graph settings.
func renderChain(chain preview.Chain, output string) string {
	nodes := make([]string, len(chain.Nodes))
	for i, node := range chain.Nodes {
		nodes[i] = string(node)
	}

	return renderBox("Preview", []row{
		{"graph", strings.Join(nodes, " -> ")},
		{"rate", fmt.Sprintf("%.2fx", chain.PlaybackRate)},
		{"detune", fmt.Sprintf("%+.0f cents", chain.DetuneCents)},
		{"low shelf", fmt.Sprintf("%+.1f dB @ %.0f Hz", chain.LowShelfGainDB, chain.LowShelfFrequency)},
		{"gain", fmt.Sprintf("%.2f", chain.OutputGain)},
		{"not previewed", strings.Join(chain.Reserved, ", ")},
		{"output", output},
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format(time.DateTime)
}

// formatSize renders a byte count with a binary unit.
func formatSize(size int64) string {
	switch {
	case size >= gigabyte:
		return fmt.Sprintf("%.1f GB", float64(size)/gigabyte)
	case size >= megabyte:
		return fmt.Sprintf("%.1f MB", float64(size)/megabyte)
	case size >= kilobyte:
		return fmt.Sprintf("%.1f KB", float64(size)/kilobyte)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
