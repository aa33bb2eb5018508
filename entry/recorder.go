package entry

import (
	"context"
	"log/slog"
	"time"

	"github.com/goliathdrakken/gatebot/backend"
	"github.com/goliathdrakken/gatebot/event"
	"github.com/goliathdrakken/gatebot/hub"
	"github.com/goliathdrakken/gatebot/metric"
)

// recordTimeout bounds a single backend write.
const recordTimeout = 5 * time.Second

// Deps holds runtime dependencies for the entry recorder.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Registry
	Hub     hub.Publisher
	Backend backend.Backend
}

// Recorder turns completed latches into persisted entries.
type Recorder struct {
	*hub.Router

	logger    *slog.Logger
	metrics   *metric.CoreMetrics
	publisher hub.Publisher
	backend   backend.Backend
}

// NewRecorder creates a recorder and binds its event handlers.
func NewRecorder(deps Deps) *Recorder {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "entry-recorder")
	}

	r := &Recorder{
		Router:    hub.NewRouter(),
		logger:    logger,
		metrics:   deps.Metrics.Core(),
		publisher: deps.Hub,
		backend:   deps.Backend,
	}

	r.Bind(event.KindLatchUpdate, func(ev event.Event) {
		r.HandleLatchUpdate(ev.(*event.LatchUpdate))
	})

	return r
}

// HandleLatchUpdate records an entry for the completed transition. Any
// other latch state is ignored.
func (r *Recorder) HandleLatchUpdate(update *event.LatchUpdate) {
	if update.State != event.StateCompleted {
		return
	}

	// Whole seconds of activity; sub-second sessions round to zero and
	// are subject to backend decline.
	duration := update.LastActivityTime.Sub(update.StartTime).Truncate(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	entry, err := r.backend.RecordEntry(ctx,
		update.GateName, update.Username, update.StartTime, duration)
	if err != nil {
		r.logger.Warn("Backend failed to record entry",
			"gate", update.GateName, "latch_id", update.LatchID, "error", err)
		return
	}
	if entry == nil {
		r.logger.Info("Backend declined entry",
			"gate", update.GateName, "latch_id", update.LatchID,
			"duration", duration)
		if r.metrics != nil {
			r.metrics.EntriesDeclined.Inc()
		}
		return
	}

	r.logger.Info("Entry recorded",
		"entry_id", entry.ID, "gate", entry.GateName,
		"username", entry.Username, "duration", entry.Duration)
	if r.metrics != nil {
		r.metrics.EntriesRecorded.Inc()
	}

	r.publisher.Publish(&event.EntryCreatedEvent{
		LatchID:   update.LatchID,
		EntryID:   entry.ID,
		GateName:  entry.GateName,
		StartTime: update.StartTime,
		EndTime:   update.LastActivityTime,
		Username:  entry.Username,
	})
}
