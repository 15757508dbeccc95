package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"pandagate/internal/config"
)

// successCode is the application-level code the upstream returns in every
// response envelope when a call succeeded.
const successCode = 20000

// Op names one upstream operation, used to tag errors so callers can tell a
// failed create apart from a failed credit grant.
type Op string

const (
	OpLogin        Op = "login"
	OpCreatePlayer Op = "savePlayer"
	OpEnterScore   Op = "enterScore"
)

// OpError is a normalized upstream failure. HTTPStatus is zero when the call
// never produced a response (transport error, circuit open).
type OpError struct {
	Op         Op
	HTTPStatus int
	Code       int
	Message    string

	// Set only on an enterScore failure: the player already exists on the
	// upstream, so the caller can retry just the credit step.
	Account  string
	Password string
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("upstream %s failed: status %d, code=%d, msg=%q", e.Op, e.HTTPStatus, e.Code, e.Message)
	if e.Account != "" {
		msg += fmt.Sprintf(" (player %s was already created)", e.Account)
	}
	return msg
}

// envelope is the common shape of every upstream response body.
type envelope struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Token string `json:"token"`
}

// postJSON performs one upstream call and returns the HTTP status, the raw
// body and the decoded envelope. A body that is not valid JSON decodes as the
// zero envelope, which then fails the code check the same way a structured
// failure does.
func postJSON(ctx context.Context, hc *http.Client, cfg config.Upstream, path, xToken string, body any) (int, json.RawMessage, envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, envelope{}, fmt.Errorf("marshal %s body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, envelope{}, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("X-Fingerprint", cfg.Fingerprint)
	req.Header.Set("X-Token", xToken)
	req.Header.Set("Origin", cfg.BaseURL)
	req.Header.Set("Referer", cfg.BaseURL+"/")
	req.Header.Set("Cookie", "language=en")

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, envelope{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, envelope{}, err
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	return resp.StatusCode, raw, env, nil
}

// checkEnvelope folds transport errors, HTTP status and the application code
// into a single *OpError, or nil when the call succeeded. Written once so all
// three operations interpret success identically.
func checkEnvelope(op Op, status int, env envelope, err error) *OpError {
	if err != nil {
		oe := &OpError{Op: op, Message: err.Error()}
		if errors.Is(err, context.DeadlineExceeded) {
			oe.HTTPStatus = http.StatusGatewayTimeout
			oe.Message = "upstream call timed out"
		}
		return oe
	}
	if status < 200 || status > 299 || env.Code != successCode {
		return &OpError{Op: op, HTTPStatus: status, Code: env.Code, Message: env.Msg}
	}
	return nil
}
