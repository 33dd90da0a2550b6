package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// Sender delivers an event over one channel. Send returns ErrNoRecipient
// when the event has no address for the channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

type DispatcherConfig struct {
	QueueSize   int           // default 64
	SendTimeout time.Duration // per sender, default 15s
}

// Dispatcher queues notifications and delivers them on its own goroutine.
// When the queue is full new events are dropped.
type Dispatcher struct {
	senders []Sender
	cfg     DispatcherConfig
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue chan Event
}

func NewDispatcher(senders []Sender, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		senders: senders,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With("component", "notify"),
		metrics: m,
		queue:   make(chan Event, cfg.QueueSize),
	}
}

// Notify enqueues a notification and returns immediately.
func (d *Dispatcher) Notify(id types.Identity, dir types.Direction) {
	if len(d.senders) == 0 {
		return
	}
	ev := NewEvent(id, dir, d.now())
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("notification dropped, queue full", "student_no", id.StudentNo, "direction", dir)
	}
}

// Run delivers queued events until ctx is cancelled. Undelivered events
// are discarded on shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("notification dispatcher started", "senders", len(d.senders))
	for {
		select {
		case <-ctx.Done():
			if n := len(d.queue); n > 0 {
				d.logger.Warn("notification dispatcher stopped with pending events", "pending", n)
			} else {
				d.logger.Info("notification dispatcher stopped")
			}
			return nil
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, s := range d.senders {
		sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := s.Send(sctx, ev)
		cancel()

		if errors.Is(err, ErrNoRecipient) {
			d.logger.Debug("notification skipped", "channel", s.Name(), "student_no", ev.StudentNo)
			continue
		}
		d.metrics.ObserveNotification(s.Name(), err)
		if err != nil {
			d.logger.Warn("notification failed",
				"channel", s.Name(),
				"event_id", ev.ID,
				"student_no", ev.StudentNo,
				"error", err,
			)
			continue
		}
		d.logger.Debug("notification sent", "channel", s.Name(), "event_id", ev.ID)
	}
}
