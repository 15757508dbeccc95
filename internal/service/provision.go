package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pandagate/internal/model"
	"pandagate/internal/upstream"
)

// GameName identifies the upstream platform in mirrored rows and events.
const GameName = "panda"

// TopicProvisioned carries ProvisionedEvent payloads to the recorder.
const TopicProvisioned = "players.provisioned"

var (
	// ErrPasswordRequired: a caller-supplied account must come with its
	// password; we only generate the pair together or the password alone.
	ErrPasswordRequired = errors.New("password is required when an account is supplied")

	// ErrNoStore is returned by read operations when the service runs
	// without persistence.
	ErrNoStore = errors.New("persistence is not enabled")
)

// Provisioner is the business surface consumed by every transport.
type Provisioner interface {
	Provision(ctx context.Context, req model.ProvisionRequest) (*model.ProvisionResult, error)
	GameBalance(ctx context.Context, userID, game string) (float64, error)
}

// UpstreamClient is the slice of upstream.Client the service needs.
type UpstreamClient interface {
	Provision(ctx context.Context, sessions upstream.SessionProvider, account, password string, credits model.Credits, remark string) (*model.ProvisionResult, error)
}

// BalanceStore reads mirrored balances. Implemented by repository.AccountRepo.
type BalanceStore interface {
	GameBalance(ctx context.Context, userID, game string) (float64, error)
}

// MessageBus publishes provisioned events for the recorder.
type MessageBus interface {
	Publish(topic string, data []byte) error
}

// ProvisionService orchestrates one provisioning attempt: fill in defaults
// and generated credentials, run the upstream sequence, then publish the
// mirror event. Store and bus are nil in stateless deployments.
type ProvisionService struct {
	client         UpstreamClient
	sessions       upstream.SessionProvider
	store          BalanceStore
	bus            MessageBus
	defaultCredits float64
}

func NewProvisionService(client UpstreamClient, sessions upstream.SessionProvider, store BalanceStore, bus MessageBus, defaultCredits float64) *ProvisionService {
	return &ProvisionService{
		client:         client,
		sessions:       sessions,
		store:          store,
		bus:            bus,
		defaultCredits: defaultCredits,
	}
}

func (s *ProvisionService) Provision(ctx context.Context, req model.ProvisionRequest) (*model.ProvisionResult, error) {
	if req.Account != "" && req.Password == "" {
		return nil, ErrPasswordRequired
	}

	account, password := req.Account, req.Password
	if account == "" {
		account = upstream.GenerateUsername()
	}
	if password == "" {
		password = upstream.GeneratePassword(10)
	}

	credits := model.Credits(s.defaultCredits)
	if req.Credits != nil {
		credits = *req.Credits
	}
	if credits < 0 {
		credits = 0
	}

	result, err := s.client.Provision(ctx, s.sessions, account, password, credits, req.Remark)
	if err != nil {
		return nil, err
	}

	s.publishProvisioned(req.UserID, result, req.Remark)
	return result, nil
}

// publishProvisioned emits the mirror event. The upstream account already
// exists at this point, so a publish failure is logged rather than turned
// into a caller-visible error.
func (s *ProvisionService) publishProvisioned(userID string, result *model.ProvisionResult, remark string) {
	if s.bus == nil {
		return
	}

	event := model.ProvisionedEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		GameName:  GameName,
		Account:   result.Account,
		Password:  result.Password,
		Credits:   float64(result.Credits),
		Remark:    remark,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal provisioned event", "error", err)
		return
	}
	if err := s.bus.Publish(TopicProvisioned, data); err != nil {
		slog.Error("publish provisioned event",
			"account", event.Account,
			"event_id", event.EventID,
			"error", err,
		)
	}
}

func (s *ProvisionService) GameBalance(ctx context.Context, userID, game string) (float64, error) {
	if s.store == nil {
		return 0, ErrNoStore
	}
	return s.store.GameBalance(ctx, userID, game)
}
