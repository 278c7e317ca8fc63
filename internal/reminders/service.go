package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agendapro/agenda/internal/model"
	"github.com/agendapro/agenda/internal/storage"
)

var (
	ErrInvalidSnooze = errors.New("reminders: snooze minutes must be positive")
	ErrResolved      = errors.New("reminders: reminder already dismissed")
	ErrTaskMismatch  = errors.New("reminders: reminder does not belong to task")
)

// Releaser drops an external delivery lease, such as one held in Redis.
type Releaser interface {
	Release(ctx context.Context, reminderID, device string) error
}

// Service applies the user's response to a delivered reminder.
type Service struct {
	store    storage.Store
	expander *Expander
	leaser   Releaser
	device   string
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLeaser releases an external lease whenever the reminder is snoozed or
// resolved. The store's own lease columns are always cleared.
func WithLeaser(l Releaser) Option {
	return func(s *Service) {
		s.leaser = l
	}
}

func NewService(store storage.Store, expander *Expander, device string, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		expander: expander,
		device:   device,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Complete closes the task and resolves the reminder together with every
// other open reminder of the task. A recurring task gets one successor that
// carries the next occurrence of each of those reminders. Completing an
// already dismissed reminder, or a task that was already completed, creates
// nothing.
func (s *Service) Complete(ctx context.Context, taskID, reminderID string) (Expansion, error) {
	rem, err := s.store.GetReminder(ctx, reminderID)
	if err != nil {
		return Expansion{}, fmt.Errorf("load reminder %s: %w", reminderID, err)
	}
	if rem.TaskID != taskID {
		return Expansion{}, fmt.Errorf("%w: reminder=%s task=%s", ErrTaskMismatch, reminderID, taskID)
	}
	if rem.Dismissed {
		return Expansion{}, nil
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return Expansion{}, fmt.Errorf("load task %s: %w", taskID, err)
	}

	now := s.now()
	open := task.IsOpen()
	if open {
		task, err = s.store.UpdateTask(ctx, taskID, storage.TaskPatch{
			CompletedAt: storage.SetTime(now),
			DeviceID:    storage.Set(s.device),
		})
		if err != nil {
			return Expansion{}, fmt.Errorf("complete task %s: %w", taskID, err)
		}
	}
	if rem, err = s.resolve(ctx, reminderID, now); err != nil {
		return Expansion{}, err
	}
	siblings, err := s.resolveSiblings(ctx, taskID, reminderID, now)
	if err != nil {
		return Expansion{}, err
	}
	s.logger.Info("reminder completed", "task_id", taskID, "reminder_id", reminderID, "siblings", len(siblings), "device_id", s.device)

	if !open {
		return Expansion{}, nil
	}
	exp, err := s.expander.Expand(ctx, task, rem, true, now)
	if err != nil || exp.Task == nil {
		return exp, err
	}
	for _, sib := range siblings {
		carried, ok, err := s.expander.Carry(ctx, task, sib, exp.Task.ID, now)
		if err != nil {
			return exp, err
		}
		if ok {
			exp.Carried = append(exp.Carried, carried)
		}
	}
	return exp, nil
}

// resolveSiblings dismisses the other open reminders of a completed task so
// none of them is delivered for it again.
func (s *Service) resolveSiblings(ctx context.Context, taskID, reminderID string, now time.Time) ([]model.Reminder, error) {
	items, err := s.store.ListReminders(ctx, storage.ReminderListFilter{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("list reminders of task %s: %w", taskID, err)
	}
	out := make([]model.Reminder, 0, len(items))
	for _, item := range items {
		if item.ID == reminderID {
			continue
		}
		resolved, err := s.resolve(ctx, item.ID, now)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// Snooze hides the reminder until now+minutes. The lease is dropped so the
// reminder is due again exactly when the snooze ends.
func (s *Service) Snooze(ctx context.Context, reminderID string, minutes int) (model.Reminder, error) {
	if minutes <= 0 {
		return model.Reminder{}, fmt.Errorf("%w: %d", ErrInvalidSnooze, minutes)
	}
	rem, err := s.store.GetReminder(ctx, reminderID)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("load reminder %s: %w", reminderID, err)
	}
	if rem.Dismissed {
		return model.Reminder{}, fmt.Errorf("%w: %s", ErrResolved, reminderID)
	}
	until := s.now().Add(time.Duration(minutes) * time.Minute)
	rem, err = s.store.UpdateReminder(ctx, reminderID, storage.ReminderPatch{
		SnoozedUntil:     storage.SetTime(until),
		SnoozeCountDelta: 1,
		LockedUntil:      storage.ClearTime(),
		LockedByDevice:   storage.Set(""),
		DeviceID:         storage.Set(s.device),
	})
	if err != nil {
		return model.Reminder{}, fmt.Errorf("snooze reminder %s: %w", reminderID, err)
	}
	s.releaseExternal(ctx, reminderID)
	s.logger.Info("reminder snoozed", "reminder_id", reminderID, "minutes", minutes, "snoozed_until", until, "snooze_count", rem.SnoozeCount)
	return rem, nil
}

// Dismiss resolves the reminder without completing its task. A recurring
// series continues on the same task.
func (s *Service) Dismiss(ctx context.Context, reminderID string) (Expansion, error) {
	rem, err := s.store.GetReminder(ctx, reminderID)
	if err != nil {
		return Expansion{}, fmt.Errorf("load reminder %s: %w", reminderID, err)
	}
	if rem.Dismissed {
		return Expansion{}, nil
	}
	now := s.now()
	if rem, err = s.resolve(ctx, reminderID, now); err != nil {
		return Expansion{}, err
	}
	s.logger.Info("reminder dismissed", "task_id", rem.TaskID, "reminder_id", reminderID, "device_id", s.device)

	task, err := s.store.GetTask(ctx, rem.TaskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Expansion{}, nil
		}
		return Expansion{}, fmt.Errorf("load task %s: %w", rem.TaskID, err)
	}
	if !task.IsOpen() {
		return Expansion{}, nil
	}
	return s.expander.Expand(ctx, task, rem, false, now)
}

func (s *Service) resolve(ctx context.Context, reminderID string, now time.Time) (model.Reminder, error) {
	rem, err := s.store.UpdateReminder(ctx, reminderID, storage.ReminderPatch{
		Dismissed:      storage.Set(true),
		FiredAt:        storage.SetTime(now),
		LockedUntil:    storage.ClearTime(),
		LockedByDevice: storage.Set(""),
		DeviceID:       storage.Set(s.device),
	})
	if err != nil {
		return model.Reminder{}, fmt.Errorf("resolve reminder %s: %w", reminderID, err)
	}
	s.releaseExternal(ctx, reminderID)
	return rem, nil
}

func (s *Service) releaseExternal(ctx context.Context, reminderID string) {
	if s.leaser == nil {
		return
	}
	if err := s.leaser.Release(ctx, reminderID, s.device); err != nil {
		s.logger.Warn("release external lease failed", "reminder_id", reminderID, "error", err)
	}
}
