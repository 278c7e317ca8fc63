package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agendapro/agenda/internal/commands"
	"github.com/agendapro/agenda/internal/config"
	"github.com/agendapro/agenda/internal/lease"
	"github.com/agendapro/agenda/internal/model"
	"github.com/agendapro/agenda/internal/notify"
	"github.com/agendapro/agenda/internal/reminders"
	"github.com/agendapro/agenda/internal/scheduler"
	"github.com/agendapro/agenda/internal/storage"
	"github.com/agendapro/agenda/internal/update"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
)

type app struct {
	cfg    config.Config
	loc    *time.Location
	device string
	store  *storage.SQLRepository
	redis  *lease.RedisLeaser
	logger *slog.Logger
	out    io.Writer
	ctx    context.Context
}

func (a *app) handlers() commands.Handlers {
	return commands.Handlers{
		Run:     a.runTUI,
		Tick:    a.tickOnce,
		Add:     a.add,
		List:    a.list,
		Snooze:  a.snooze,
		Dismiss: a.dismiss,
		Done:    a.done,
	}
}

func (a *app) leaser() scheduler.Leaser {
	if a.redis != nil {
		return a.redis
	}
	return a.store
}

func (a *app) service() *reminders.Service {
	expander := reminders.NewExpander(a.store, a.loc, a.device, a.logger)
	opts := []reminders.Option{}
	if a.redis != nil {
		opts = append(opts, reminders.WithLeaser(a.redis))
	}
	return reminders.NewService(a.store, expander, a.device, a.logger, opts...)
}

func (a *app) poller(n notify.Notifier) (*scheduler.Poller, error) {
	return scheduler.NewPoller(a.store, a.leaser(), n, scheduler.Config{
		Device:        a.device,
		PollInterval:  a.cfg.Scheduler.PollInterval,
		LeaseDuration: a.cfg.Scheduler.LeaseDuration,
	}, a.logger)
}

func (a *app) withDesktop(primary notify.Notifier) notify.Notifier {
	if !a.cfg.Notify.DesktopNotifications {
		return primary
	}
	return notify.NewMulti(a.logger, primary, notify.NewDesktop(a.loc))
}

func (a *app) runTUI() (commands.Result, error) {
	presenter := update.NewPresenter(a.cfg.Notify.PresenterBuffer)
	alerts := notify.NewAlerts(a.cfg.Notify.AlertGrace, notify.LogIndicator{Logger: a.logger})
	defer alerts.Stop()

	poller, err := a.poller(notify.Tracked(a.withDesktop(presenter), alerts))
	if err != nil {
		return commands.Result{}, err
	}

	m := update.NewModel(update.Options{
		Presenter:     presenter,
		Actions:       a.service(),
		Alerts:        alerts,
		SnoozePresets: a.cfg.Notify.SnoozePresets,
		Location:      a.loc,
		Logger:        a.logger,
	})
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(a.ctx))
	alerts.AddIndicator(update.AlertIndicator(program))

	if err := poller.Start(); err != nil {
		return commands.Result{}, err
	}
	_, runErr := program.Run()
	poller.Stop()
	presenter.Close()
	if runErr != nil && a.ctx.Err() == nil {
		return commands.Result{}, fmt.Errorf("run tui: %w", runErr)
	}
	return commands.Result{}, nil
}

// tickOnce polls once without a pop-up. Delivered reminders are printed and
// keep their lease, so an immediate second tick stays quiet.
func (a *app) tickOnce() (commands.Result, error) {
	printer := notify.NotifierFunc(func(_ context.Context, d notify.Delivery) error {
		fmt.Fprintf(a.out, "%s  %s  (task %s, reminder %s)\n",
			d.Reminder.FireAt.In(a.loc).Format("2006-01-02 15:04"), d.Task.Title, d.Task.ID, d.Reminder.ID)
		return nil
	})
	poller, err := a.poller(a.withDesktop(printer))
	if err != nil {
		return commands.Result{}, err
	}
	res := poller.Tick(a.ctx)
	if res.Err != nil {
		return commands.Result{}, res.Err
	}
	return commands.Result{Message: fmt.Sprintf("due=%d delivered=%d contended=%d skipped=%d failed=%d",
		res.Due, res.Delivered, res.Contended, res.Skipped, res.Failed)}, nil
}

func (a *app) add(args commands.AddArgs) (commands.Result, error) {
	now := time.Now().UTC()
	task := model.Task{
		ID:            uuid.NewString(),
		Title:         args.Title,
		Notes:         args.Notes,
		DueAt:         args.Due,
		Priority:      args.Priority,
		Recurrence:    args.Repeat,
		RecurrenceEnd: args.Until,
		Tags:          args.Tags,
		DeviceID:      a.device,
		CreatedAt:     now,
	}
	if err := a.store.CreateTask(a.ctx, task); err != nil {
		return commands.Result{}, err
	}
	if args.Due == nil {
		return commands.Result{Message: "added task " + task.ID}, nil
	}

	rem := model.Reminder{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		FireAt:        *args.Due,
		Type:          model.ReminderTypeDue,
		MinutesBefore: args.MinutesBefore,
		Recurrence:    args.Repeat,
		RecurrenceEnd: args.Until,
		DeviceID:      a.device,
		CreatedAt:     now,
	}
	if args.MinutesBefore != nil && *args.MinutesBefore > 0 {
		rem.FireAt = args.Due.Add(-time.Duration(*args.MinutesBefore) * time.Minute)
		rem.Type = model.ReminderTypeReminder
	}
	if err := a.store.CreateReminder(a.ctx, rem); err != nil {
		return commands.Result{}, err
	}
	a.logger.Info("task added", "task_id", task.ID, "reminder_id", rem.ID, "fire_at", rem.FireAt)
	return commands.Result{Message: fmt.Sprintf("added task %s, reminder %s at %s",
		task.ID, rem.ID, rem.FireAt.In(a.loc).Format("2006-01-02 15:04"))}, nil
}

func (a *app) list(args commands.ListArgs) (commands.Result, error) {
	items, err := a.store.ListReminders(a.ctx, storage.ReminderListFilter{IncludeDismissed: args.All})
	if err != nil {
		return commands.Result{}, err
	}
	if len(items) == 0 {
		return commands.Result{Message: "no reminders"}, nil
	}

	now := time.Now()
	titles := map[string]string{}
	t := table.New().Headers("FIRES", "TASK", "TYPE", "STATE", "REPEATS", "REMINDER", "TASK ID")
	for _, rem := range items {
		title, ok := titles[rem.TaskID]
		if !ok {
			task, err := a.store.GetTask(a.ctx, rem.TaskID)
			if err != nil {
				title = "?"
			} else {
				title = task.Title
			}
			titles[rem.TaskID] = title
		}
		t.Row(
			rem.FireAt.In(a.loc).Format("2006-01-02 15:04"),
			title,
			string(rem.Type),
			reminderState(rem, a.leased(rem, now), now),
			string(rem.Recurrence),
			rem.ID,
			rem.TaskID,
		)
	}
	return commands.Result{Message: t.String()}, nil
}

// leased reports whether some device is showing the reminder. With a Redis
// leaser the store's lock columns stay empty, so the key is asked instead.
func (a *app) leased(rem model.Reminder, now time.Time) bool {
	if a.redis == nil || rem.Dismissed {
		return rem.LockedUntil != nil && rem.LockedUntil.After(now)
	}
	holder, err := a.redis.Holder(a.ctx, rem.ID)
	if err != nil {
		a.logger.Warn("lease lookup failed", "reminder_id", rem.ID, "error", err)
		return false
	}
	return holder != ""
}

func reminderState(rem model.Reminder, leased bool, now time.Time) string {
	switch {
	case rem.Dismissed:
		return "done"
	case rem.SnoozedUntil != nil && rem.SnoozedUntil.After(now):
		return "snoozed x" + strconv.Itoa(rem.SnoozeCount)
	case leased:
		return "showing"
	case rem.IsDue(now):
		return "due"
	default:
		return "pending"
	}
}

func (a *app) snooze(args commands.SnoozeArgs) (commands.Result, error) {
	rem, err := a.service().Snooze(a.ctx, args.ReminderID, args.Minutes)
	if err != nil {
		return commands.Result{}, err
	}
	return commands.Result{Message: fmt.Sprintf("snoozed %s until %s", rem.ID, rem.SnoozedUntil.In(a.loc).Format("15:04"))}, nil
}

func (a *app) dismiss(args commands.DismissArgs) (commands.Result, error) {
	exp, err := a.service().Dismiss(a.ctx, args.ReminderID)
	if err != nil {
		return commands.Result{}, err
	}
	return commands.Result{Message: describeExpansion("dismissed "+args.ReminderID, exp, a.loc)}, nil
}

func (a *app) done(args commands.DoneArgs) (commands.Result, error) {
	exp, err := a.service().Complete(a.ctx, args.TaskID, args.ReminderID)
	if err != nil {
		return commands.Result{}, err
	}
	return commands.Result{Message: describeExpansion("completed "+args.TaskID, exp, a.loc)}, nil
}

func describeExpansion(head string, exp reminders.Expansion, loc *time.Location) string {
	parts := []string{head}
	if exp.Task != nil {
		parts = append(parts, "next task "+exp.Task.ID)
	}
	if exp.Reminder != nil {
		parts = append(parts, "next reminder "+exp.Reminder.ID+" at "+exp.Reminder.FireAt.In(loc).Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}
