package update

import (
	"context"
	"sync"

	"github.com/agendapro/agenda/internal/notify"
)

// Presenter hands deliveries to the running pop-up. Present never blocks the
// poller: a full queue is reported as notify.ErrPresenterBusy.
type Presenter struct {
	mu     sync.Mutex
	ch     chan notify.Delivery
	closed bool
}

func NewPresenter(buffer int) *Presenter {
	if buffer <= 0 {
		buffer = 1
	}
	return &Presenter{ch: make(chan notify.Delivery, buffer)}
}

func (p *Presenter) Present(ctx context.Context, d notify.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return notify.ErrPresenterBusy
	}
	select {
	case p.ch <- d:
		return nil
	default:
		return notify.ErrPresenterBusy
	}
}

func (p *Presenter) C() <-chan notify.Delivery {
	return p.ch
}

func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}
