package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/NamanBalaji/segdl/internal/engine"
	"github.com/NamanBalaji/segdl/internal/errors"
	"github.com/NamanBalaji/segdl/internal/repository"
	"github.com/NamanBalaji/segdl/internal/status"
)

var (
	Red    = lipgloss.Color("#f38ba8")
	Peach  = lipgloss.Color("#fab387")
	Yellow = lipgloss.Color("#f9e2af")
	Green  = lipgloss.Color("#a6e3a1")
	Blue   = lipgloss.Color("#89b4fa")
	Text   = lipgloss.Color("#cdd6f4")
	Subtle = lipgloss.Color("#a6adc8")

	successStyle = lipgloss.NewStyle().Foreground(Green).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(Red).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(Yellow)
	pausedStyle  = lipgloss.NewStyle().Foreground(Peach).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(Blue)
	detailStyle  = lipgloss.NewStyle().Foreground(Subtle)
	headerStyle  = lipgloss.NewStyle().Foreground(Text).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

func printError(msg string) {
	fmt.Println(errorStyle.Render("✗ " + msg))
}

func printWarning(msg string) {
	fmt.Println(warningStyle.Render("! " + msg))
}

func printInfo(msg string) {
	fmt.Println(infoStyle.Render("• " + msg))
}

func stateStyle(state status.DownloadState) lipgloss.Style {
	switch state {
	case status.Ended:
		return successStyle
	case status.Paused, status.NeedsToPrepare:
		return pausedStyle
	default:
		return errorStyle
	}
}

func printResult(res engine.Result) {
	style := stateStyle(res.State)
	line := style.Render(status.DownloadStateName(res.State)) + " " + res.URL

	if res.Path != "" {
		line += detailStyle.Render(fmt.Sprintf(" -> %s (%s in %s)", res.Path, formatBytes(res.Transferred), res.Elapsed.Round(10*time.Millisecond)))
	}

	fmt.Println(line)

	if res.Failed > 0 {
		printWarning(fmt.Sprintf("%d segment(s) failed, run again to retry", res.Failed))
	}

	if res.Err != nil && res.State != status.Ended {
		printError(res.Err.Error())

		if hint := failureHint(res.Err); hint != "" {
			printInfo(hint)
		}
	}
}

// failureHint suggests what to check for the error's category.
func failureHint(err error) string {
	switch {
	case errors.IsNetworkError(err):
		return "the server could not be reached; check the connection or add a --mirror"
	case errors.IsIOError(err):
		return "the output file could not be written; check free space and permissions"
	case errors.IsConfigurationError(err):
		return "check the URL scheme, TLS and protocol settings"
	default:
		return ""
	}
}

func historyTable(records []*repository.Record) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(detailStyle).
		Headers("ENDED", "STATE", "SIZE", "PATH", "URL").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, r := range records {
		t.Row(r.EndedAt.Local().Format(time.DateTime), r.State, formatBytes(r.Size), r.Path, r.URL)
	}

	return t.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
