package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/hub"
)

// Heartbeat publishes periodic tick events. The second tick drives the
// latch manager's idle sweep; minute and hour ticks are for coarser
// housekeeping subscribers.
type Heartbeat struct {
	logger    *slog.Logger
	publisher hub.Publisher
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a heartbeat with the given second-tick interval.
func NewHeartbeat(logger *slog.Logger, publisher hub.Publisher, interval time.Duration) *Heartbeat {
	if logger == nil {
		logger = slog.Default().With("component", "heartbeat")
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Heartbeat{
		logger:    logger,
		publisher: publisher,
		interval:  interval,
	}
}

// Start launches the tick loop.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.run(ctx)
}

// Stop ends the tick loop and waits for it.
func (h *Heartbeat) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *Heartbeat) run(ctx context.Context) {
	defer close(h.done)

	second := time.NewTicker(h.interval)
	minute := time.NewTicker(time.Minute)
	hour := time.NewTicker(time.Hour)
	defer second.Stop()
	defer minute.Stop()
	defer hour.Stop()

	h.logger.Debug("Heartbeat started", "interval", h.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-second.C:
			h.publisher.Publish(&event.HeartbeatSecondEvent{})
		case <-minute.C:
			h.publisher.Publish(&event.HeartbeatMinuteEvent{})
		case <-hour.C:
			h.publisher.Publish(&event.HeartbeatHourEvent{})
		}
	}
}
