package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Desktop mirrors a delivery as a transient OS notification. It never
// replaces the pop-up, which stays until the user acts.
type Desktop struct {
	goos string
	loc  *time.Location
	run  func(ctx context.Context, name string, args ...string) error
}

func NewDesktop(loc *time.Location) *Desktop {
	if loc == nil {
		loc = time.Local
	}
	return &Desktop{goos: runtime.GOOS, loc: loc, run: runCommand}
}

func (d *Desktop) Present(ctx context.Context, del Delivery) error {
	title, body := d.message(del)
	switch d.goos {
	case "linux":
		return d.run(ctx, "notify-send", "--app-name=agenda", title, body)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(body), escapeAppleScript(title))
		return d.run(ctx, "osascript", "-e", script)
	default:
		return nil
	}
}

func (d *Desktop) message(del Delivery) (string, string) {
	title := "Reminder: " + del.Task.Title
	when := del.Reminder.FireAt.In(d.loc).Format("Mon Jan 2 15:04")
	if del.Task.DueAt != nil {
		when = "due " + del.Task.DueAt.In(d.loc).Format("Mon Jan 2 15:04")
	}
	body := fmt.Sprintf("%s (%s)", when, del.Reminder.Type)
	if del.Reminder.SnoozeCount > 0 {
		body += fmt.Sprintf(", snoozed %dx", del.Reminder.SnoozeCount)
	}
	return title, body
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
