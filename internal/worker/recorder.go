package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"pandagate/internal/model"
	"pandagate/internal/service"
)

// Store persists one provisioned-player event. Implemented by
// repository.AccountRepo.
type Store interface {
	RecordProvisioned(ctx context.Context, ev model.ProvisionedEvent) error
}

// Recorder listens on the players.provisioned topic and mirrors each
// upstream account into Postgres.
type Recorder struct {
	store    Store
	natsConn *nats.Conn
}

func NewRecorder(store Store, nc *nats.Conn) *Recorder {
	return &Recorder{store: store, natsConn: nc}
}

// Run subscribes and blocks until ctx is cancelled. QueueSubscribe keeps a
// multi-instance deployment from recording the same event twice; the event
// id guards against broker redelivery on top of that.
func (w *Recorder) Run(ctx context.Context) error {
	sub, err := w.natsConn.QueueSubscribe(service.TopicProvisioned, "pandagate_recorders", func(m *nats.Msg) {
		var event model.ProvisionedEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			slog.Error("recorder: failed to unmarshal event", "error", err)
			return
		}

		if err := w.store.RecordProvisioned(ctx, event); err != nil {
			slog.Error("recorder: failed to persist provisioned player",
				"account", event.Account,
				"event_id", event.EventID,
				"error", err,
			)
			return
		}

		slog.Info("recorder: provisioned player mirrored",
			"account", event.Account,
			"event_id", event.EventID,
		)
	})
	if err != nil {
		return fmt.Errorf("recorder: failed to subscribe: %w", err)
	}

	slog.Info("Provisioned-player recorder is running")

	<-ctx.Done()

	slog.Info("Recorder received shutdown signal, draining subscription...")
	return sub.Drain()
}

// Start implements the infrastructure.Server interface.
func (w *Recorder) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *Recorder) Stop(ctx context.Context) error {
	return nil
}
