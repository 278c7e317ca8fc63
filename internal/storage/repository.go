package storage

import (
	"context"
	"errors"
	"time"

	"github.com/agendapro/agenda/internal/model"
)

var ErrNotFound = errors.New("storage: not found")

// Store is the persistence boundary of the reminder subsystem. Both the local
// SQLite file and a shared Postgres database satisfy it.
type Store interface {
	CreateTask(ctx context.Context, in model.Task) error
	GetTask(ctx context.Context, id string) (model.Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (model.Task, error)
	SoftDeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskListFilter) ([]model.Task, error)

	CreateReminder(ctx context.Context, in model.Reminder) error
	GetReminder(ctx context.Context, id string) (model.Reminder, error)
	UpdateReminder(ctx context.Context, id string, patch ReminderPatch) (model.Reminder, error)
	SoftDeleteReminder(ctx context.Context, id string) error
	ListReminders(ctx context.Context, filter ReminderListFilter) ([]model.Reminder, error)

	FindDueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error)

	TryAcquire(ctx context.Context, reminderID, device string, now time.Time, lease time.Duration) (bool, error)
	Release(ctx context.Context, reminderID, device string) error

	Close() error
}

// Field marks a patch column as present. Valid=false leaves the column alone,
// which lets nullable columns be cleared with Set[*time.Time](nil).
type Field[T any] struct {
	Value T
	Valid bool
}

func Set[T any](v T) Field[T] {
	return Field[T]{Value: v, Valid: true}
}

func SetTime(t time.Time) Field[*time.Time] {
	return Set(&t)
}

func ClearTime() Field[*time.Time] {
	return Set[*time.Time](nil)
}

type TaskPatch struct {
	Title       Field[string]
	Notes       Field[string]
	DueAt       Field[*time.Time]
	StartAt     Field[*time.Time]
	Priority    Field[model.Priority]
	CompletedAt Field[*time.Time]
	Recurrence  Field[model.Recurrence]
	DeviceID    Field[string]
}

type ReminderPatch struct {
	FireAt               Field[time.Time]
	SnoozedUntil         Field[*time.Time]
	SnoozeCountDelta     int
	Dismissed            Field[bool]
	FiredAt              Field[*time.Time]
	LastNotifiedAt       Field[*time.Time]
	LastNotifiedDeviceID Field[string]
	LockedUntil          Field[*time.Time]
	LockedByDevice       Field[string]
	DeviceID             Field[string]
}

type TaskListFilter struct {
	OpenOnly bool
	Limit    int
	Offset   int
}

type ReminderListFilter struct {
	TaskID           string
	IncludeDismissed bool
	Limit            int
	Offset           int
}
