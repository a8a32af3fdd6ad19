// Package output provides styled terminal output helpers (success, error,
// warning, machine formatting) using lipgloss.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/settingsync/internal/machines"
	"github.com/marcus/settingsync/internal/syncclient"
)

var (
	// Styles
	titleStyle    = lipgloss.NewStyle().Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	currentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound            = "not_found"
	ErrCodeInvalidInput        = "invalid_input"
	ErrCodeConflict            = "conflict"
	ErrCodeIncompatibleVersion = "incompatible_version"
	ErrCodeNotAuthenticated    = "not_authenticated"
	ErrCodeServerError         = "server_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// ErrorCode classifies err for JSON output.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, machines.ErrIncompatibleVersion):
		return ErrCodeIncompatibleVersion
	case errors.Is(err, machines.ErrConcurrentModification):
		return ErrCodeConflict
	case errors.Is(err, machines.ErrInvalidName):
		return ErrCodeInvalidInput
	case errors.Is(err, syncclient.ErrUnauthorized):
		return ErrCodeNotAuthenticated
	case errors.Is(err, syncclient.ErrNotFound):
		return ErrCodeNotFound
	default:
		return ErrCodeServerError
	}
}

// FormatMachineLine formats one machine for the list view. The name is
// truncated to nameWidth cells; 0 disables truncation.
func FormatMachineLine(m machines.Machine, nameWidth int) string {
	name := m.Name
	if name == "" {
		name = subtleStyle.Render("(unnamed)")
	}
	if nameWidth > 0 {
		name = ansi.Truncate(name, nameWidth, "…")
	}

	marker := "  "
	if m.IsCurrent {
		marker = currentStyle.Render("* ")
	}

	var parts []string
	parts = append(parts, marker+titleStyle.Render(m.ID))
	parts = append(parts, name)
	if m.IsCurrent {
		parts = append(parts, currentStyle.Render("[current]"))
	}
	if m.Disabled {
		parts = append(parts, disabledStyle.Render("[disabled]"))
	}
	return strings.Join(parts, "  ")
}

// FormatMachineList formats the registry for a terminal of the given width.
func FormatMachineList(list []machines.Machine, width int) string {
	if len(list) == 0 {
		return subtleStyle.Render("No machines registered.")
	}

	idWidth := 0
	for _, m := range list {
		idWidth = max(idWidth, ansi.StringWidth(m.ID))
	}
	// marker, id, two separators, [current] and [disabled] badges
	nameWidth := width - idWidth - 2 - 4 - 22
	if width <= 0 || nameWidth < 8 {
		nameWidth = 0
	}

	lines := make([]string, 0, len(list))
	for _, m := range list {
		lines = append(lines, FormatMachineLine(m, nameWidth))
	}
	return strings.Join(lines, "\n")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nMACHINES:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
