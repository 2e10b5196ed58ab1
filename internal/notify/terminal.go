package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"paper-exchange/internal/models"
)

// TerminalNotifier prints notifications to a terminal.
type TerminalNotifier struct {
	out          io.Writer
	colorEnabled bool
	timeFormat   string
	mu           sync.Mutex
}

// NewTerminalNotifier creates a TerminalNotifier writing to out.
func NewTerminalNotifier(out io.Writer, colorEnabled bool, timeFormat string) *TerminalNotifier {
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}
	return &TerminalNotifier{
		out:          out,
		colorEnabled: colorEnabled,
		timeFormat:   timeFormat,
	}
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	return tn.out != nil
}

// Send prints the notification.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	_, err := fmt.Fprintln(tn.out, FormatNotification(n, tn.colorEnabled, tn.timeFormat))
	return err
}

// FormatNotification formats a notification for terminal display.
func FormatNotification(n Notification, colorEnabled bool, timeFormat string) string {
	var sb strings.Builder

	var indicator string
	var c *color.Color
	switch {
	case n.Type == NotificationError:
		indicator = "ERROR"
		c = color.New(color.FgRed, color.Bold)
	case n.Severity == models.SeverityCritical:
		indicator = "CRITICAL"
		c = color.New(color.FgRed)
	case n.Type == NotificationAlert:
		indicator = "ALERT"
		c = color.New(color.FgYellow)
	default:
		indicator = "INFO"
		c = color.New(color.FgWhite)
	}
	if colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	sb.WriteString(c.Sprintf("[%s] %s", n.Timestamp.Format(timeFormat), indicator))
	sb.WriteString(fmt.Sprintf(" | %s", n.Title))

	for _, line := range strings.Split(n.Message, "\n") {
		if line == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n    %s", line))
	}

	return sb.String()
}
