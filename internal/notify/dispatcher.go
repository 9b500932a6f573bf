package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/macroscope/macroscope/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Dispatcher runs notifier calls in the background with a bounded timeout.
type Dispatcher struct {
	notifier InvitationNotifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher wraps notifier. A nil notifier disables delivery.
func NewDispatcher(notifier InvitationNotifier, timeout time.Duration) *Dispatcher {
	if notifier == nil {
		notifier = Noop{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{notifier: notifier, timeout: timeout}
}

// Dispatch delivers inv asynchronously and calls onDelivered after a successful send.
// Failures are logged and never reported to the caller.
func (d *Dispatcher) Dispatch(inv Invitation, onDelivered func(context.Context)) {
	if d == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		log := logger.WithModule("notify")
		if err := d.notifier.NotifyInvitation(ctx, inv); err != nil {
			if errors.Is(err, ErrNotifierDisabled) {
				log.Debug("invitation notifier disabled", zap.String("invitation_id", inv.ID))
				return
			}
			log.Warn("invitation delivery failed",
				zap.String("invitation_id", inv.ID),
				zap.Error(err),
			)
			return
		}

		if onDelivered != nil {
			onDelivered(ctx)
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
