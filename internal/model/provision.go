package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Credits is a credit amount that unmarshals from either a JSON number or a
// numeric string, since storefront clients have sent both over time. The
// upstream wants amounts as strings, which String produces.
type Credits float64

func (c *Credits) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*c = Credits(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*c = Credits(f)
	return nil
}

func (c Credits) String() string {
	return strconv.FormatFloat(float64(c), 'f', -1, 64)
}

// ProvisionRequest is one inbound request to create a player on the upstream.
// Every field is optional: absent credits fall back to the configured default,
// absent account/password are generated.
type ProvisionRequest struct {
	UserID   string   `json:"user_id"`
	Credits  *Credits `json:"credits"`
	Account  string   `json:"account"`
	Password string   `json:"password"`
	Remark   string   `json:"remark"`
}

// ProvisionResult is the outcome of a fully successful provisioning attempt.
// The raw upstream envelopes are kept for operator debugging; EnterScore is
// nil when no credits were requested.
type ProvisionResult struct {
	Account    string          `json:"username"`
	Password   string          `json:"password"`
	Credits    Credits         `json:"credits"`
	SavePlayer json.RawMessage `json:"savePlayer"`
	EnterScore json.RawMessage `json:"enterScore,omitempty"`
}

// ProvisionedEvent is published on the bus after a successful provisioning so
// the recorder can mirror the account into Postgres. EventID doubles as the
// idempotency key for the transaction row.
type ProvisionedEvent struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	GameName  string    `json:"game_name"`
	Account   string    `json:"account"`
	Password  string    `json:"password"`
	Credits   float64   `json:"credits"`
	Remark    string    `json:"remark"`
	CreatedAt time.Time `json:"created_at"`
}
