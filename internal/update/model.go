package update

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agendapro/agenda/internal/model"
	"github.com/agendapro/agenda/internal/notify"
	"github.com/agendapro/agenda/internal/reminders"
	"github.com/agendapro/agenda/internal/views"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

const actionTimeout = 10 * time.Second

// Actions is the reminder service as seen by the pop-up.
type Actions interface {
	Complete(ctx context.Context, taskID, reminderID string) (reminders.Expansion, error)
	Snooze(ctx context.Context, reminderID string, minutes int) (model.Reminder, error)
	Dismiss(ctx context.Context, reminderID string) (reminders.Expansion, error)
}

type Options struct {
	Presenter     *Presenter
	Actions       Actions
	Alerts        *notify.Alerts
	SnoozePresets []int
	Location      *time.Location
	Logger        *slog.Logger
}

type StatusBar struct {
	Text    string
	IsError bool
}

type DeliveryMsg struct {
	Delivery notify.Delivery
}

type AlertStateMsg struct {
	On bool
}

type SetStatusMsg struct {
	Text    string
	IsError bool
}

type actionResultMsg struct {
	reminderID string
	text       string
	err        error
}

type presenterClosedMsg struct{}

type pending struct {
	delivery notify.Delivery
	notes    string
	busy     bool
}

// Model is the persistent reminder pop-up. Reminders stay on screen until the
// user completes, snoozes or dismisses them; nothing times out.
type Model struct {
	presenter *Presenter
	actions   Actions
	alerts    *notify.Alerts
	presets   []int
	loc       *time.Location
	logger    *slog.Logger

	keys      keyMap
	helpModel help.Model
	width     int

	queue    []pending
	Status   StatusBar
	AlertOn  bool
	Quitting bool
}

func NewModel(opts Options) Model {
	presets := opts.SnoozePresets
	if len(presets) == 0 {
		presets = []int{5, 10, 30, 60}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return Model{
		presenter: opts.Presenter,
		actions:   opts.Actions,
		alerts:    opts.Alerts,
		presets:   append([]int(nil), presets...),
		loc:       loc,
		logger:    logger,
		keys:      defaultKeys(),
		helpModel: help.New(),
		width:     64,
	}
}

// AlertIndicator forwards alert state changes into a running program. The
// send happens off the caller's goroutine because Resolve is called from
// inside Update.
func AlertIndicator(p *tea.Program) notify.AlertIndicator {
	return notify.IndicatorFunc(func(on bool) {
		go p.Send(AlertStateMsg{On: on})
	})
}

func (m Model) Init() tea.Cmd {
	return m.waitForDelivery()
}

func (m Model) waitForDelivery() tea.Cmd {
	if m.presenter == nil {
		return nil
	}
	ch := m.presenter.C()
	return func() tea.Msg {
		d, ok := <-ch
		if !ok {
			return presenterClosedMsg{}
		}
		return DeliveryMsg{Delivery: d}
	}
}

func (m Model) Pending() int {
	return len(m.queue)
}

// Current returns the reminder at the head of the queue.
func (m Model) Current() (notify.Delivery, bool) {
	if len(m.queue) == 0 {
		return notify.Delivery{}, false
	}
	return m.queue[0].delivery, true
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		if typed.Width > 8 {
			m.width = typed.Width - 8
		}
		m.helpModel.Width = typed.Width
		return m, nil
	case DeliveryMsg:
		m.enqueue(typed.Delivery)
		return m, m.waitForDelivery()
	case presenterClosedMsg:
		return m, nil
	case AlertStateMsg:
		m.AlertOn = typed.On
		return m, nil
	case SetStatusMsg:
		m.Status = StatusBar{Text: typed.Text, IsError: typed.IsError}
		return m, nil
	case actionResultMsg:
		return m.onActionResult(typed), nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	}
	return m, nil
}

// enqueue adds a delivery or refreshes the queued copy of the same reminder,
// which happens when a lease expires before the user acts.
func (m *Model) enqueue(d notify.Delivery) {
	item := pending{delivery: d, notes: views.RenderMarkdown(d.Task.Notes, m.width-4)}
	for i := range m.queue {
		if m.queue[i].delivery.Reminder.ID == d.Reminder.ID {
			item.busy = m.queue[i].busy
			next := append([]pending(nil), m.queue...)
			next[i] = item
			m.queue = next
			return
		}
	}
	m.queue = append(append([]pending(nil), m.queue...), item)
	m.logger.Debug("reminder queued", "reminder_id", d.Reminder.ID, "task_id", d.Task.ID, "pending", len(m.queue))
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.helpModel.ShowAll = !m.helpModel.ShowAll
		return m, nil
	}

	if len(m.queue) == 0 || m.queue[0].busy {
		return m, nil
	}
	head := m.queue[0].delivery

	switch {
	case key.Matches(msg, m.keys.Next):
		if len(m.queue) > 1 {
			m.queue = append(append([]pending(nil), m.queue[1:]...), m.queue[0])
		}
		return m, nil
	case key.Matches(msg, m.keys.Complete):
		return m.startAction(func(ctx context.Context) (string, error) {
			exp, err := m.actions.Complete(ctx, head.Task.ID, head.Reminder.ID)
			if err != nil {
				return "", err
			}
			return describe("completed", head.Task.Title, exp, m.loc), nil
		})
	case key.Matches(msg, m.keys.Dismiss):
		return m.startAction(func(ctx context.Context) (string, error) {
			exp, err := m.actions.Dismiss(ctx, head.Reminder.ID)
			if err != nil {
				return "", err
			}
			return describe("dismissed", head.Task.Title, exp, m.loc), nil
		})
	case key.Matches(msg, m.keys.Snooze):
		return m.snooze(head, m.presets[0])
	case key.Matches(msg, m.keys.Presets):
		idx := int(msg.Runes[0] - '1')
		if idx < 0 || idx >= len(m.presets) {
			m.Status = StatusBar{Text: fmt.Sprintf("no snooze preset %s", msg.String()), IsError: true}
			return m, nil
		}
		return m.snooze(head, m.presets[idx])
	}
	return m, nil
}

func (m Model) snooze(head notify.Delivery, minutes int) (tea.Model, tea.Cmd) {
	return m.startAction(func(ctx context.Context) (string, error) {
		rem, err := m.actions.Snooze(ctx, head.Reminder.ID, minutes)
		if err != nil {
			return "", err
		}
		until := ""
		if rem.SnoozedUntil != nil {
			until = " until " + rem.SnoozedUntil.In(m.loc).Format("15:04")
		}
		return fmt.Sprintf("snoozed %q for %dm%s", head.Task.Title, minutes, until), nil
	})
}

func (m Model) startAction(run func(ctx context.Context) (string, error)) (tea.Model, tea.Cmd) {
	if m.actions == nil {
		m.Status = StatusBar{Text: "reminder actions unavailable", IsError: true}
		return m, nil
	}
	next := append([]pending(nil), m.queue...)
	next[0].busy = true
	m.queue = next
	id := next[0].delivery.Reminder.ID
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		text, err := run(ctx)
		return actionResultMsg{reminderID: id, text: text, err: err}
	}
}

func (m Model) onActionResult(res actionResultMsg) Model {
	idx := -1
	for i := range m.queue {
		if m.queue[i].delivery.Reminder.ID == res.reminderID {
			idx = i
			break
		}
	}
	if res.err != nil {
		m.logger.Warn("reminder action failed", "reminder_id", res.reminderID, "error", res.err)
		m.Status = StatusBar{Text: res.err.Error(), IsError: true}
		if idx >= 0 {
			next := append([]pending(nil), m.queue...)
			next[idx].busy = false
			m.queue = next
		}
		return m
	}
	if idx >= 0 {
		next := make([]pending, 0, len(m.queue)-1)
		next = append(next, m.queue[:idx]...)
		m.queue = append(next, m.queue[idx+1:]...)
	}
	if m.alerts != nil {
		m.alerts.Resolve(res.reminderID)
	}
	m.Status = StatusBar{Text: res.text}
	return m
}

func describe(verb, title string, exp reminders.Expansion, loc *time.Location) string {
	text := fmt.Sprintf("%s %q", verb, title)
	if exp.Reminder != nil {
		text += ", next " + exp.Reminder.FireAt.In(loc).Format("Mon Jan 2 15:04")
	}
	return text
}

func (m Model) View() string {
	data := views.PopupData{
		Header:     fmt.Sprintf("agenda reminders | pending: %d", len(m.queue)),
		Alert:      m.AlertOn,
		StatusLine: m.Status.Text,
		IsError:    m.Status.IsError,
		Footer:     m.helpModel.View(m.keys),
		Width:      m.width,
	}
	if len(m.queue) == 0 {
		return views.RenderIdle(data)
	}

	head := m.queue[0]
	task, rem := head.delivery.Task, head.delivery.Reminder
	data.Title = task.Title
	data.Meta = m.metaLines(task, rem)
	data.Notes = head.notes
	for _, st := range task.Subtasks {
		mark := "[ ]"
		if st.Done {
			mark = "[x]"
		}
		data.Subtasks = append(data.Subtasks, mark+" "+st.Title)
	}
	if len(m.queue) > 1 {
		data.QueueLine = fmt.Sprintf("1 of %d, tab for next", len(m.queue))
	}
	if head.busy {
		data.QueueLine = strings.TrimSpace(data.QueueLine + " (saving...)")
	}
	return views.RenderPopup(data)
}

func (m Model) metaLines(task model.Task, rem model.Reminder) []string {
	const layout = "Mon Jan 2 15:04"
	lines := make([]string, 0, 4)
	if task.DueAt != nil {
		lines = append(lines, "due "+task.DueAt.In(m.loc).Format(layout))
	}
	kind := string(rem.Type)
	if rem.MinutesBefore != nil && *rem.MinutesBefore > 0 {
		kind = fmt.Sprintf("%s, %dm before", kind, *rem.MinutesBefore)
	}
	lines = append(lines, fmt.Sprintf("%s reminder for %s", kind, rem.FireAt.In(m.loc).Format(layout)))
	details := []string{}
	if task.Priority != model.PriorityNone {
		details = append(details, "priority "+task.Priority.String())
	}
	if task.Recurrence.IsRecurring() {
		details = append(details, "repeats "+string(task.Recurrence))
	}
	if rem.SnoozeCount > 0 {
		details = append(details, fmt.Sprintf("snoozed %dx", rem.SnoozeCount))
	}
	if len(task.Tags) > 0 {
		details = append(details, "#"+strings.Join(task.Tags, " #"))
	}
	if len(details) > 0 {
		lines = append(lines, strings.Join(details, " | "))
	}
	return lines
}
