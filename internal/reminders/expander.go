package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agendapro/agenda/internal/model"
	"github.com/agendapro/agenda/internal/storage"
	"github.com/google/uuid"
)

// Expansion describes the rows created to continue a recurring series. Task
// is nil when the series continues on the existing task. Carried holds the
// next occurrence of sibling reminders moved onto the successor task.
type Expansion struct {
	Task     *model.Task
	Reminder *model.Reminder
	Carried  []model.Reminder
}

func (e Expansion) Empty() bool {
	return e.Reminder == nil
}

type Expander struct {
	store  storage.Store
	loc    *time.Location
	device string
	newID  func() string
	logger *slog.Logger
}

func NewExpander(store storage.Store, loc *time.Location, device string, logger *slog.Logger) *Expander {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{
		store:  store,
		loc:    loc,
		device: device,
		newID:  uuid.NewString,
		logger: logger,
	}
}

// occurrence is one step of a series: the due time a reminder stands for and
// the time it fires.
type occurrence struct {
	due  time.Time
	fire time.Time
}

// Expand continues the series of a resolved reminder. Completing the task
// creates a successor task carrying the next due date; dismissing adds the
// next reminder to the same task and moves its due date forward. A series
// whose end has passed, or whose next occurrence would land after it,
// produces nothing.
func (e *Expander) Expand(ctx context.Context, task model.Task, rem model.Reminder, completed bool, now time.Time) (Expansion, error) {
	rule, end := seriesOf(task, rem)
	if !rule.IsRecurring() {
		return Expansion{}, nil
	}
	next, ok, err := e.nextOccurrence(task, rem, rule, end, now)
	if err != nil || !ok {
		return Expansion{}, err
	}

	out := Expansion{}
	owner := task.ID
	if completed {
		successor := e.successor(task, rule, end, next.due, now)
		if err := e.store.CreateTask(ctx, successor); err != nil {
			return Expansion{}, fmt.Errorf("create successor of task %s: %w", task.ID, err)
		}
		out.Task = &successor
		owner = successor.ID
	} else if err := e.advance(ctx, task, next.due); err != nil {
		return Expansion{}, err
	}

	created, err := e.createNext(ctx, rem, rule, end, owner, next.fire, now)
	if err != nil {
		return Expansion{}, err
	}
	out.Reminder = &created
	return out, nil
}

// Carry moves the next occurrence of a sibling reminder onto the successor
// task created by Expand. It reports false when the sibling's series is over.
func (e *Expander) Carry(ctx context.Context, task model.Task, rem model.Reminder, successorID string, now time.Time) (model.Reminder, bool, error) {
	rule, end := seriesOf(task, rem)
	if !rule.IsRecurring() {
		return model.Reminder{}, false, nil
	}
	next, ok, err := e.nextOccurrence(task, rem, rule, end, now)
	if err != nil || !ok {
		return model.Reminder{}, false, err
	}
	created, err := e.createNext(ctx, rem, rule, end, successorID, next.fire, now)
	if err != nil {
		return model.Reminder{}, false, err
	}
	return created, true, nil
}

// nextOccurrence steps the reminder's own due time so that a task whose due
// date lags behind (or has none) cannot skew the series.
func (e *Expander) nextOccurrence(task model.Task, rem model.Reminder, rule model.Recurrence, end *time.Time, now time.Time) (occurrence, bool, error) {
	if end != nil && now.After(*end) {
		e.logger.Info("recurrence ended", "task_id", task.ID, "reminder_id", rem.ID, "recurrence_end", end.UTC())
		return occurrence{}, false, nil
	}
	offset := leadOf(task, rem)
	due, err := rule.Next(rem.FireAt.Add(offset).In(e.loc))
	if err != nil {
		return occurrence{}, false, fmt.Errorf("next occurrence for reminder %s: %w", rem.ID, err)
	}
	next := occurrence{due: due.UTC(), fire: due.Add(-offset).UTC()}
	if end != nil && next.fire.After(*end) {
		e.logger.Info("recurrence ended", "task_id", task.ID, "reminder_id", rem.ID, "recurrence_end", end.UTC())
		return occurrence{}, false, nil
	}
	return next, true, nil
}

func (e *Expander) createNext(ctx context.Context, rem model.Reminder, rule model.Recurrence, end *time.Time, owner string, fire, now time.Time) (model.Reminder, error) {
	next := model.Reminder{
		ID:            e.newID(),
		TaskID:        owner,
		FireAt:        fire,
		Type:          rem.Type,
		MinutesBefore: copyInt(rem.MinutesBefore),
		Recurrence:    rule,
		RecurrenceEnd: copyTime(end),
		DeviceID:      e.device,
		CreatedAt:     now.UTC(),
	}
	if err := e.store.CreateReminder(ctx, next); err != nil {
		return model.Reminder{}, fmt.Errorf("create next reminder after %s: %w", rem.ID, err)
	}
	e.logger.Info("recurrence expanded",
		"task_id", owner,
		"reminder_id", next.ID,
		"previous_reminder_id", rem.ID,
		"fire_at", next.FireAt,
		"recurrence", string(rule),
	)
	return next, nil
}

// advance moves an open task's due date to the next occurrence. A reminder of
// an occurrence the task already moved past leaves it alone.
func (e *Expander) advance(ctx context.Context, task model.Task, due time.Time) error {
	if task.DueAt == nil || !task.DueAt.Before(due) {
		return nil
	}
	patch := storage.TaskPatch{
		DueAt:    storage.SetTime(due),
		DeviceID: storage.Set(e.device),
	}
	if task.StartAt != nil {
		patch.StartAt = storage.SetTime(task.StartAt.Add(due.Sub(*task.DueAt)).UTC())
	}
	if _, err := e.store.UpdateTask(ctx, task.ID, patch); err != nil {
		return fmt.Errorf("advance task %s: %w", task.ID, err)
	}
	return nil
}

func (e *Expander) successor(task model.Task, rule model.Recurrence, end *time.Time, due, now time.Time) model.Task {
	next := model.Task{
		ID:            e.newID(),
		Title:         task.Title,
		Notes:         task.Notes,
		Priority:      task.Priority,
		Recurrence:    rule,
		RecurrenceEnd: copyTime(end),
		Tags:          append([]string(nil), task.Tags...),
		DeviceID:      e.device,
		CreatedAt:     now.UTC(),
	}
	if len(task.Subtasks) > 0 {
		next.Subtasks = make([]model.Subtask, len(task.Subtasks))
		for i, st := range task.Subtasks {
			next.Subtasks[i] = model.Subtask{ID: st.ID, Title: st.Title}
		}
	}
	if task.DueAt != nil {
		next.DueAt = &due
		if task.StartAt != nil {
			start := task.StartAt.Add(due.Sub(*task.DueAt)).UTC()
			next.StartAt = &start
		}
	}
	return next
}

// leadOf is how long before its occurrence a reminder fires. Reminders
// without an explicit offset keep their distance to the task's due date.
func leadOf(task model.Task, rem model.Reminder) time.Duration {
	switch {
	case rem.MinutesBefore != nil:
		return time.Duration(*rem.MinutesBefore) * time.Minute
	case rem.Type == model.ReminderTypeDue || task.DueAt == nil:
		return 0
	default:
		return task.DueAt.Sub(rem.FireAt)
	}
}

// seriesOf prefers the task's rule and falls back to the fields mirrored on
// the reminder.
func seriesOf(task model.Task, rem model.Reminder) (model.Recurrence, *time.Time) {
	if task.Recurrence.IsRecurring() {
		end := task.RecurrenceEnd
		if end == nil {
			end = rem.RecurrenceEnd
		}
		return task.Recurrence, end
	}
	return rem.Recurrence, rem.RecurrenceEnd
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
