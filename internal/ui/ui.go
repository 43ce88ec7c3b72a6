// Package ui holds terminal styling for CLI output.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/slate360/slatesync/internal/schema"
)

var (
	// Colors
	Primary = lipgloss.Color("#2563EB") // Blue
	Success = lipgloss.Color("#10B981") // Green
	Muted   = lipgloss.Color("#6B7280") // Gray
	Warning = lipgloss.Color("#F59E0B") // Amber
	Danger  = lipgloss.Color("#EF4444") // Red

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Muted)

	IDStyle = lipgloss.NewStyle().
		Foreground(Muted)

	SuccessMsg = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorMsg = lipgloss.NewStyle().
			Foreground(Danger).
			Bold(true)

	MutedText = lipgloss.NewStyle().
			Foreground(Muted)

	syncSynced = lipgloss.NewStyle().Foreground(Success)
	syncPending = lipgloss.NewStyle().Foreground(Warning)
	syncFailed = lipgloss.NewStyle().Foreground(Danger).Bold(true)
)

// IsTTY reports whether stdout is an interactive terminal. Styled output is
// skipped when piping to a file or another program.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// SyncBadge renders a sync state with its color. Plain text when not a TTY.
func SyncBadge(state string) string {
	if !IsTTY() {
		return state
	}
	switch state {
	case schema.SyncSynced:
		return syncSynced.Render(state)
	case schema.SyncPending:
		return syncPending.Render(state)
	case schema.SyncFailed:
		return syncFailed.Render(state)
	default:
		return state
	}
}

// FormatBudget renders a budget amount, or a dash when unset.
func FormatBudget(budget float64) string {
	if budget == 0 {
		return "-"
	}
	return fmt.Sprintf("$%.0f", budget)
}

// Truncate shortens s to max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 3 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// ProjectRow renders one project as a fixed-width table row. Padding is
// applied before styling so ANSI codes do not skew the columns.
func ProjectRow(p *schema.Project) string {
	id := fmt.Sprintf("%-38s", Truncate(p.ID, 38))
	if IsTTY() {
		id = IDStyle.Render(id)
	}
	return fmt.Sprintf("%s  %-30s  %-10s  %-12s  %s",
		id,
		Truncate(p.Name, 30),
		p.Status,
		FormatBudget(p.Budget),
		SyncBadge(p.SyncState),
	)
}

// ProjectHeader renders the table header matching ProjectRow's columns.
func ProjectHeader() string {
	row := fmt.Sprintf("%-38s  %-30s  %-10s  %-12s  %s",
		"ID", "NAME", "STATUS", "BUDGET", "SYNC")
	if IsTTY() {
		return Header.Render(row)
	}
	return row
}

// Successf prints a styled success line.
func Successf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if IsTTY() {
		msg = SuccessMsg.Render(msg)
	}
	fmt.Println(msg)
}

// Errorf prints a styled error line to stderr.
func Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if IsTTY() {
		msg = ErrorMsg.Render(msg)
	}
	fmt.Fprintln(os.Stderr, msg)
}

// List renders lines under a styled title.
func List(title string, lines []string) string {
	var b strings.Builder
	if IsTTY() {
		b.WriteString(Title.Render(title))
	} else {
		b.WriteString(title)
	}
	b.WriteString("\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
