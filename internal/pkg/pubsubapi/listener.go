package pubsubapi

import (
	"context"
	"time"

	"github.com/korovkin/limiter"
	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

// Refresher re-reads every device bound to a vendor remote ID and reports
// how many answered
type Refresher interface {
	RefreshRemote(ctx context.Context, remoteID string) int
}

// Listener turns Device Access events into targeted refreshes.  An event is
// acknowledged once at least one device answered its refresh, so events
// about unreachable devices are redelivered.
type Listener struct {
	pubsub    PubSub
	refresher Refresher
	workers   int
	retry     time.Duration
	observers []func(SdmEvent)
}

func NewListener(pubsub PubSub, refresher Refresher) *Listener {
	return &Listener{
		pubsub:    pubsub,
		refresher: refresher,
		workers:   10,
		retry:     time.Second * 5,
	}
}

func (l *Listener) WithWorkers(n int) *Listener {
	nl := *l
	if n > 0 {
		nl.workers = n
	}
	return &nl
}

func (l *Listener) WithRetryDelay(d time.Duration) *Listener {
	nl := *l
	nl.retry = d
	return &nl
}

// WithObserver registers fn to see every event before it is refreshed
func (l *Listener) WithObserver(fn func(SdmEvent)) *Listener {
	nl := *l
	nl.observers = append(append([]func(SdmEvent){}, l.observers...), fn)
	return &nl
}

// Run blocks until ctx is cancelled and every in-flight refresh finished
func (l *Listener) Run(ctx context.Context) {
	events := make(chan SdmEvent)

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.refreshLoop(ctx, events)
	}()

	l.pullLoop(ctx, events)
	<-done
}

func (l *Listener) pullLoop(ctx context.Context, c chan<- SdmEvent) {
	defer close(c)

	for {
		logging.Logger(ctx).Debug("message-loop: waiting for messages")
		events, err := l.pubsub.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logging.Logger(ctx).Info("message-loop: shutting down")
				return
			}

			logging.Logger(ctx).WithError(err).Errorf("message-loop: pulling subscription messages, sleeping %s", l.retry)
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.retry):
			}
			continue
		}

		for _, event := range events {
			// don't block on a busy refresher once we are shutting down
			select {
			case <-ctx.Done():
				return
			case c <- event:
			}
		}
	}
}

func (l *Listener) refreshLoop(ctx context.Context, c <-chan SdmEvent) {
	limit := limiter.NewConcurrencyLimiter(l.workers)

	for event := range c {
		event := event
		limit.ExecuteWithTicket(func(ticket int) {
			l.handle(ctx, ticket, event)
		})
	}

	logging.Logger(ctx).Info("refresh-loop: shutting down")
	limit.Wait()
	logging.Logger(ctx).Info("refresh-loop: done")
}

func (l *Listener) handle(ctx context.Context, ticket int, event SdmEvent) {
	log := logging.Logger(ctx).WithField("remote", event.DeviceID)
	log.Debugf("refresh-goroutine %d: event at %s with %d traits", ticket, event.Timestamp, event.Traits.Len())

	for _, fn := range l.observers {
		fn(event)
	}

	// the refresh outlives a shutdown so the ack decision is not lost
	n := l.refresher.RefreshRemote(context.WithoutCancel(ctx), event.DeviceID)
	if n == 0 {
		log.Warn("no device refreshed, leaving event for redelivery")
		return
	}

	if err := l.pubsub.AckMessages(context.WithoutCancel(ctx), []string{event.AckID}); err != nil {
		log.WithError(err).Error("acknowledging event")
	}

	log.Debugf("refresh-goroutine %d: done, %d devices", ticket, n)
}
