package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/agendapro/agenda/internal/model"
)

var ErrPresenterBusy = errors.New("notify: presenter queue is full")

// Delivery is one reminder handed to the user together with its task.
type Delivery struct {
	Task     model.Task
	Reminder model.Reminder
}

type Notifier interface {
	Present(ctx context.Context, d Delivery) error
}

type NotifierFunc func(ctx context.Context, d Delivery) error

func (f NotifierFunc) Present(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// Multi fans a delivery out to a primary notifier and optional mirrors. Only
// the primary decides whether the delivery failed.
type Multi struct {
	primary Notifier
	mirrors []Notifier
	logger  *slog.Logger
}

func NewMulti(logger *slog.Logger, primary Notifier, mirrors ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{primary: primary, mirrors: mirrors, logger: logger}
}

func (m *Multi) Present(ctx context.Context, d Delivery) error {
	if err := m.primary.Present(ctx, d); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Present(ctx, d); err != nil {
			m.logger.Warn("mirror notifier failed", "reminder_id", d.Reminder.ID, "task_id", d.Task.ID, "error", err)
		}
	}
	return nil
}

// Tracked marks every successful delivery as open on the alert tracker.
func Tracked(n Notifier, alerts *Alerts) Notifier {
	return NotifierFunc(func(ctx context.Context, d Delivery) error {
		if err := n.Present(ctx, d); err != nil {
			return err
		}
		alerts.Open(d.Reminder.ID)
		return nil
	})
}
