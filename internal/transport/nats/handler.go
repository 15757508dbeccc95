package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"pandagate/internal/model"
	"pandagate/internal/service"
)

// Handler lets back-office tooling provision players over the bus instead of
// HTTP: it queue-subscribes to commands.provision and delegates to the
// service.
type Handler struct {
	svc  service.Provisioner
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.Provisioner, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to command topics and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe("commands.provision", "pandagate_commands", func(m *nats.Msg) {
		var req model.ProvisionRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal provision command", "error", err)
			return
		}
		result, err := h.svc.Provision(ctx, req)
		if err != nil {
			slog.Error("nats: provision failed", "error", err, "user_id", req.UserID)
			return
		}
		slog.Info("nats: player provisioned",
			"account", result.Account,
			"credits", result.Credits.String(),
			"user_id", req.UserID,
		)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	slog.Info("NATS command handler is running")

	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
