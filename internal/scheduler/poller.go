package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agendapro/agenda/internal/model"
	"github.com/agendapro/agenda/internal/notify"
	"github.com/agendapro/agenda/internal/storage"
	"github.com/go-co-op/gocron"
)

var ErrLeaseTooShort = errors.New("scheduler: lease duration must exceed poll interval")

// Leaser grants exclusive, time-bounded delivery rights for a reminder. The
// store implements it with a conditional update; lease.RedisLeaser with SET NX.
type Leaser interface {
	TryAcquire(ctx context.Context, reminderID, device string, now time.Time, lease time.Duration) (bool, error)
	Release(ctx context.Context, reminderID, device string) error
}

type Config struct {
	Device        string
	PollInterval  time.Duration
	LeaseDuration time.Duration
}

type TickResult struct {
	Due       int
	Delivered int
	Contended int
	Skipped   int
	Failed    int
	Err       error
}

// Poller periodically delivers due reminders. Each Poller owns its own gocron
// scheduler, so several can run side by side against one store.
type Poller struct {
	store    storage.Store
	leaser   Leaser
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *gocron.Scheduler
	running bool

	// held for the duration of a tick so Stop can wait for it
	tickMu sync.Mutex
}

// NewPoller wires a poller. A nil leaser falls back to the store's own lease.
func NewPoller(store storage.Store, leaser Leaser, notifier notify.Notifier, cfg Config, logger *slog.Logger) (*Poller, error) {
	if store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if notifier == nil {
		return nil, errors.New("scheduler: notifier is required")
	}
	if cfg.Device == "" {
		return nil, errors.New("scheduler: device id is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("scheduler: poll interval must be positive")
	}
	if cfg.LeaseDuration <= cfg.PollInterval {
		return nil, fmt.Errorf("%w: lease=%s poll=%s", ErrLeaseTooShort, cfg.LeaseDuration, cfg.PollInterval)
	}
	if leaser == nil {
		leaser = store
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    store,
		leaser:   leaser,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("device_id", cfg.Device),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start begins polling; the first tick runs immediately. Calling Start on a
// running poller does nothing.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	if _, err := cron.Every(p.cfg.PollInterval).Do(p.runScheduled); err != nil {
		return fmt.Errorf("scheduler: register poll job: %w", err)
	}
	cron.StartAsync()
	p.cron = cron
	p.running = true
	p.logger.Info("poller started", "poll_interval", p.cfg.PollInterval, "lease", p.cfg.LeaseDuration)
	return nil
}

// Stop halts polling and waits for an in-flight tick. Stopping a stopped
// poller does nothing.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cron.Stop()
	p.cron = nil
	p.running = false
	p.mu.Unlock()

	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	p.logger.Info("poller stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.LeaseDuration)
	defer cancel()
	res := p.Tick(ctx)
	if res.Delivered > 0 || res.Failed > 0 || res.Err != nil {
		p.logger.Debug("tick finished",
			"due", res.Due,
			"delivered", res.Delivered,
			"contended", res.Contended,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
}

// Tick runs one poll-and-deliver cycle. It never panics and never returns an
// error to the loop; failures are logged and reported in the result.
func (p *Poller) Tick(ctx context.Context) (res TickResult) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			res.Failed++
			res.Err = fmt.Errorf("scheduler: tick panic: %v", r)
			p.logger.Error("tick panicked", "panic", r)
		}
	}()

	now := p.now()
	due, err := p.store.FindDueReminders(ctx, now)
	if err != nil {
		res.Err = err
		p.logger.Warn("due reminder query failed", "error", err)
		return res
	}
	res.Due = len(due)
	for _, rem := range due {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		p.deliver(ctx, rem, now, &res)
	}
	return res
}

func (p *Poller) deliver(ctx context.Context, rem model.Reminder, now time.Time, res *TickResult) {
	logger := p.logger.With("reminder_id", rem.ID, "task_id", rem.TaskID)
	if err := rem.Validate(); err != nil {
		res.Skipped++
		logger.Warn("skipping malformed reminder", "error", err)
		return
	}
	task, err := p.store.GetTask(ctx, rem.TaskID)
	if err != nil {
		res.Skipped++
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("skipping reminder without task")
		} else {
			logger.Warn("load task failed", "error", err)
		}
		return
	}
	if !task.IsOpen() {
		res.Skipped++
		logger.Debug("skipping reminder of closed task", "completed", task.CompletedAt != nil)
		return
	}

	ok, err := p.leaser.TryAcquire(ctx, rem.ID, p.cfg.Device, now, p.cfg.LeaseDuration)
	if err != nil {
		res.Failed++
		logger.Warn("lease acquire failed", "error", err)
		return
	}
	if !ok {
		res.Contended++
		return
	}

	if err := p.notifier.Present(ctx, notify.Delivery{Task: task, Reminder: rem}); err != nil {
		res.Failed++
		logger.Warn("notifier failed, releasing lease", "error", err)
		if relErr := p.leaser.Release(ctx, rem.ID, p.cfg.Device); relErr != nil {
			logger.Warn("lease release failed", "error", relErr)
		}
		return
	}
	res.Delivered++

	if _, err := p.store.UpdateReminder(ctx, rem.ID, storage.ReminderPatch{
		LastNotifiedAt:       storage.SetTime(now),
		LastNotifiedDeviceID: storage.Set(p.cfg.Device),
	}); err != nil {
		logger.Warn("record delivery failed", "error", err)
		return
	}
	logger.Info("reminder delivered", "fire_at", rem.FireAt, "snooze_count", rem.SnoozeCount)
}
