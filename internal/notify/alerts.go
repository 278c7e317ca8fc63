package notify

import (
	"log/slog"
	"sync"
	"time"
)

// AlertIndicator is the host's "something needs attention" light, for
// example a badge in the pop-up header.
type AlertIndicator interface {
	SetAlertState(on bool)
}

type IndicatorFunc func(on bool)

func (f IndicatorFunc) SetAlertState(on bool) { f(on) }

type LogIndicator struct {
	Logger *slog.Logger
}

func (l LogIndicator) SetAlertState(on bool) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("alert state changed", "on", on)
}

type stopper interface {
	Stop() bool
}

// Alerts keeps the indicator on while delivered reminders are unresolved. It
// turns off when the last one is resolved or once grace has passed since the
// most recent delivery.
type Alerts struct {
	mu         sync.Mutex
	indicators []AlertIndicator
	grace      time.Duration
	open       map[string]struct{}
	on         bool
	generation uint64
	timer      stopper
	afterFunc  func(d time.Duration, f func()) stopper
}

func NewAlerts(grace time.Duration, indicators ...AlertIndicator) *Alerts {
	return &Alerts{
		indicators: indicators,
		grace:      grace,
		open:       make(map[string]struct{}),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// AddIndicator registers an indicator that only exists after construction,
// such as a running TUI program.
func (a *Alerts) AddIndicator(ind AlertIndicator) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.indicators = append(a.indicators, ind)
}

func (a *Alerts) Open(reminderID string) {
	a.mu.Lock()
	a.open[reminderID] = struct{}{}
	a.generation++
	gen := a.generation
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.grace > 0 {
		a.timer = a.afterFunc(a.grace, func() { a.expire(gen) })
	}
	changed := !a.on
	a.on = true
	a.mu.Unlock()
	if changed {
		a.publish(true)
	}
}

func (a *Alerts) Resolve(reminderID string) {
	a.mu.Lock()
	delete(a.open, reminderID)
	changed := a.on && len(a.open) == 0
	if changed {
		a.clearLocked()
	}
	a.mu.Unlock()
	if changed {
		a.publish(false)
	}
}

func (a *Alerts) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

func (a *Alerts) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

// Stop cancels the grace timer without touching the indicator.
func (a *Alerts) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Alerts) expire(gen uint64) {
	a.mu.Lock()
	if gen != a.generation || !a.on {
		a.mu.Unlock()
		return
	}
	a.clearLocked()
	a.mu.Unlock()
	a.publish(false)
}

func (a *Alerts) clearLocked() {
	a.on = false
	a.open = make(map[string]struct{})
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Alerts) publish(on bool) {
	a.mu.Lock()
	indicators := append([]AlertIndicator(nil), a.indicators...)
	a.mu.Unlock()
	for _, ind := range indicators {
		ind.SetAlertState(on)
	}
}
