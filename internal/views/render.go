package views

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// PopupData is everything the reminder modal shows for the reminder at the
// head of the queue.
type PopupData struct {
	Header     string
	Alert      bool
	Title      string
	Meta       []string
	Notes      string
	Subtasks   []string
	QueueLine  string
	StatusLine string
	IsError    bool
	Footer     string
	Width      int
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9")).Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	modalStyle  = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("11")).Padding(1, 2)
	idleStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const defaultWidth = 64

func RenderPopup(data PopupData) string {
	width := data.Width
	if width <= 0 {
		width = defaultWidth
	}

	body := []string{titleStyle.Render(data.Title)}
	for _, line := range data.Meta {
		body = append(body, metaStyle.Render(line))
	}
	if data.Notes != "" {
		body = append(body, "", data.Notes)
	}
	if len(data.Subtasks) > 0 {
		body = append(body, "")
		body = append(body, data.Subtasks...)
	}
	if data.QueueLine != "" {
		body = append(body, "", footerStyle.Render(data.QueueLine))
	}
	modal := modalStyle.Width(width).Render(strings.Join(body, "\n"))

	return strings.Join(frame(data, modal), "\n")
}

// RenderIdle is shown while no reminder is waiting.
func RenderIdle(data PopupData) string {
	width := data.Width
	if width <= 0 {
		width = defaultWidth
	}
	panel := idleStyle.Width(width).Render(metaStyle.Render("No reminders due."))
	return strings.Join(frame(data, panel), "\n")
}

func frame(data PopupData, content string) []string {
	header := headerStyle.Render(data.Header)
	if data.Alert {
		header = lipgloss.JoinHorizontal(lipgloss.Top, header, " ", alertStyle.Render("ALERT"))
	}
	lines := []string{header, content}
	if data.StatusLine != "" {
		if data.IsError {
			lines = append(lines, errorStyle.Render(data.StatusLine))
		} else {
			lines = append(lines, statusStyle.Render(data.StatusLine))
		}
	}
	if data.Footer != "" {
		lines = append(lines, footerStyle.Render(data.Footer))
	}
	return lines
}

// RenderMarkdown renders task notes for the modal. Rendering errors fall back
// to the raw text.
func RenderMarkdown(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	if width <= 0 {
		width = defaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}
