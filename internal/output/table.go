// Package output provides terminal output utilities for upkeep.
//
// This package includes:
//   - Table rendering for update attempts and backup archives
//   - A spinner for long-running archive and network operations
//   - Human-readable formatting for sizes and timestamps
//
// All rendering uses ASCII characters and ANSI color codes for terminal
// output; colors are disabled when stdout is not a TTY or NO_COLOR is set.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/chatforge/upkeep/internal/store"
)

// ANSI color codes for attempt status display
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderAttemptTable renders update attempts, expected newest first.
func RenderAttemptTable(attempts []*store.Attempt) string {
	if len(attempts) == 0 {
		return "No update attempts recorded.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-10s %-13s %-13s %-13s %-13s %s\n",
		"ID", "Status", "From", "To", "Started", "Error"))
	sb.WriteString(strings.Repeat("─", 92))
	sb.WriteString("\n")

	for _, a := range attempts {
		sb.WriteString(fmt.Sprintf("%-10s %-13s %-13s %-13s %-13s %s\n",
			shortID(a.ID),
			colorizeStatus(a.Status),
			shortVersion(a.VersionFrom),
			shortVersion(a.VersionTo),
			formatRelativeTime(a.StartedAt),
			truncate(a.ErrorMessage, 36)))
	}

	return sb.String()
}

// RenderBackupTable renders backup archives, expected newest first.
func RenderBackupTable(backups []*store.Backup) string {
	if len(backups) == 0 {
		return "No backups found.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-5s %-15s %-8s %-9s %s\n",
		"ID", "Created", "Size", "Verified", "Reason"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, b := range backups {
		verified := "yes"
		if !b.Verified {
			verified = colorize(colorRed, "NO")
		}

		sb.WriteString(fmt.Sprintf("%-5d %-15s %-8s %-9s %s\n",
			b.ID,
			formatRelativeTime(b.CreatedAt),
			FormatSize(b.SizeBytes),
			verified,
			truncate(b.Reason, 40)))
	}

	return sb.String()
}

// RenderAttemptDetail renders one attempt with its step log.
func RenderAttemptDetail(a *store.Attempt) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Attempt:   %s\n", a.ID))
	sb.WriteString(fmt.Sprintf("Status:    %s\n", colorizeStatus(a.Status)))
	sb.WriteString(fmt.Sprintf("From:      %s\n", orDash(a.VersionFrom)))
	sb.WriteString(fmt.Sprintf("To:        %s\n", orDash(a.VersionTo)))
	sb.WriteString(fmt.Sprintf("Started:   %s\n", a.StartedAt.Format("2006-01-02 15:04:05")))
	if !a.CompletedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Completed: %s\n", a.CompletedAt.Format("2006-01-02 15:04:05")))
	}
	if a.BackupID != 0 {
		sb.WriteString(fmt.Sprintf("Backup:    %d\n", a.BackupID))
	}
	if a.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("Error:     %s\n", a.ErrorMessage))
	}

	if len(a.Steps) > 0 {
		sb.WriteString("\nSteps:\n")
		for _, step := range a.Steps {
			outcome := step.Outcome
			if outcome == "ok" {
				outcome = colorize(colorGreen, "ok")
			} else {
				outcome = colorize(colorRed, outcome)
			}
			sb.WriteString(fmt.Sprintf("  %-16s %8s  %s\n",
				step.Name, formatDuration(step.Duration), outcome))
		}
	}

	return sb.String()
}

// colorizeStatus returns the status string with its tier color.
func colorizeStatus(status string) string {
	switch status {
	case store.StatusSuccess:
		return colorize(colorGreen, status)
	case store.StatusRolledBack:
		return colorize(colorYellow, status)
	case store.StatusFailed:
		return colorize(colorRed, status)
	case store.StatusNoUpdate:
		return colorize(colorGray, status)
	default:
		return status
	}
}

// FormatSize converts bytes to human-readable size (GB, MB, KB).
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.0f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.0f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatDuration renders step durations compactly.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	case diff < 30*24*time.Hour:
		weeks := int(diff.Hours() / 24 / 7)
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	default:
		months := int(diff.Hours() / 24 / 30)
		if months == 1 {
			return "1 month ago"
		}
		return fmt.Sprintf("%d months ago", months)
	}
}

// shortID abbreviates an attempt UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// shortVersion abbreviates a commit hash for table display.
func shortVersion(v string) string {
	if v == "" {
		return "—"
	}
	if len(v) > 12 {
		return v[:12]
	}
	return v
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
