package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pandagate/internal/config"
)

func testUpstreamConfig(baseURL string) config.Upstream {
	return config.Upstream{
		BaseURL:     baseURL,
		Fingerprint: "fp-test",
		SavePlayer:  config.SignTriple{Sign: "sp-sign", Stime: 111, Token: "sp-token"},
		EnterScore:  config.SignTriple{Sign: "es-sign", Stime: 222, Token: "es-token"},
		XToken:      "x-static",
	}
}

// fakeUpstream scripts the two provisioning endpoints and records what they
// received.
type fakeUpstream struct {
	saveResponse  string
	scoreResponse string
	saveStatus    int
	scoreStatus   int

	saveCalls  int
	scoreCalls int
	saveBody   map[string]interface{}
	scoreBody  map[string]interface{}
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		saveResponse:  `{"code":20000,"msg":"success"}`,
		scoreResponse: `{"code":20000,"msg":"success"}`,
		saveStatus:    http.StatusOK,
		scoreStatus:   http.StatusOK,
	}
}

func (f *fakeUpstream) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/account/savePlayer", func(w http.ResponseWriter, r *http.Request) {
		f.saveCalls++
		_ = json.NewDecoder(r.Body).Decode(&f.saveBody)
		w.WriteHeader(f.saveStatus)
		_, _ = w.Write([]byte(f.saveResponse))
	})
	mux.HandleFunc("/api/account/enterScore", func(w http.ResponseWriter, r *http.Request) {
		f.scoreCalls++
		_ = json.NewDecoder(r.Body).Decode(&f.scoreBody)
		w.WriteHeader(f.scoreStatus)
		_, _ = w.Write([]byte(f.scoreResponse))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProvisionHappyPath(t *testing.T) {
	fake := newFakeUpstream()
	srv := fake.server(t)
	client := NewClient(testUpstreamConfig(srv.URL))
	sessions := NewStaticProvider("x-static")

	result, err := client.Provision(context.Background(), sessions, "pf_00000001", "Secret1234", 100, "welcome")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Account != "pf_00000001" || result.Password != "Secret1234" {
		t.Errorf("result credentials = %q/%q", result.Account, result.Password)
	}
	if result.Credits != 100 {
		t.Errorf("credits = %v", result.Credits)
	}
	if result.SavePlayer == nil || result.EnterScore == nil {
		t.Error("expected both upstream envelopes to be populated")
	}

	if fake.saveCalls != 1 || fake.scoreCalls != 1 {
		t.Fatalf("calls = %d save, %d score", fake.saveCalls, fake.scoreCalls)
	}
	// The create always submits score "0"; credits ride on enterScore.
	if fake.saveBody["score"] != "0" {
		t.Errorf("savePlayer score = %v", fake.saveBody["score"])
	}
	if fake.scoreBody["score"] != "100" {
		t.Errorf("enterScore score = %v", fake.scoreBody["score"])
	}
	if fake.scoreBody["user_type"] != "player" {
		t.Errorf("enterScore user_type = %v", fake.scoreBody["user_type"])
	}
	if fake.saveBody["sign"] != "sp-sign" || fake.scoreBody["sign"] != "es-sign" {
		t.Error("per-operation signing triples were mixed up")
	}
}

func TestProvisionZeroCreditsSkipsEnterScore(t *testing.T) {
	fake := newFakeUpstream()
	srv := fake.server(t)
	client := NewClient(testUpstreamConfig(srv.URL))

	result, err := client.Provision(context.Background(), NewStaticProvider("x"), "pf_00000002", "pw1234pw12", 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.EnterScore != nil {
		t.Error("expected no enterScore envelope")
	}
	if fake.scoreCalls != 0 {
		t.Errorf("enterScore calls = %d, want 0", fake.scoreCalls)
	}
}

func TestProvisionCreateFailure(t *testing.T) {
	fake := newFakeUpstream()
	fake.saveResponse = `{"code":40001,"msg":"duplicate account"}`
	srv := fake.server(t)
	client := NewClient(testUpstreamConfig(srv.URL))

	_, err := client.Provision(context.Background(), NewStaticProvider("x"), "pf_00000003", "pw1234pw12", 100, "")

	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpError, got %v", err)
	}
	if oe.Op != OpCreatePlayer || oe.Code != 40001 {
		t.Errorf("op = %s, code = %d", oe.Op, oe.Code)
	}
	if oe.Account != "" {
		t.Error("createPlayer failure must not claim the player exists")
	}
	if fake.scoreCalls != 0 {
		t.Errorf("enterScore calls = %d, want 0 after create failure", fake.scoreCalls)
	}
}

func TestProvisionPartialFailure(t *testing.T) {
	fake := newFakeUpstream()
	fake.scoreResponse = `{"code":50000,"msg":"insufficient agent balance"}`
	srv := fake.server(t)
	client := NewClient(testUpstreamConfig(srv.URL))

	_, err := client.Provision(context.Background(), NewStaticProvider("x"), "pf_00000004", "pw1234pw12", 50, "")

	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpError, got %v", err)
	}
	if oe.Op != OpEnterScore || oe.Code != 50000 {
		t.Errorf("op = %s, code = %d", oe.Op, oe.Code)
	}
	// The account exists upstream; the error must say which one.
	if oe.Account != "pf_00000004" || oe.Password != "pw1234pw12" {
		t.Errorf("partial failure payload = %q/%q", oe.Account, oe.Password)
	}
}

func TestProvisionGarbageBody(t *testing.T) {
	fake := newFakeUpstream()
	fake.saveResponse = `<html>502 bad gateway</html>`
	srv := fake.server(t)
	client := NewClient(testUpstreamConfig(srv.URL))

	_, err := client.Provision(context.Background(), NewStaticProvider("x"), "pf_00000005", "pw1234pw12", 0, "")

	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpError, got %v", err)
	}
	if oe.Op != OpCreatePlayer || oe.Code != 0 {
		t.Errorf("garbage body should fail the code check with code 0, got op=%s code=%d", oe.Op, oe.Code)
	}
}

type fakeSessions struct {
	tokens        []string
	idx           int
	invalidations int
}

func (f *fakeSessions) Token(ctx context.Context) (string, error) {
	return f.tokens[f.idx], nil
}

func (f *fakeSessions) Invalidate() {
	f.invalidations++
	if f.idx < len(f.tokens)-1 {
		f.idx++
	}
}

func TestProvisionRefreshesTokenOn401(t *testing.T) {
	var saveCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/account/savePlayer", func(w http.ResponseWriter, r *http.Request) {
		saveCalls++
		if r.Header.Get("X-Token") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":50008,"msg":"token expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":20000,"msg":"success"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testUpstreamConfig(srv.URL)
	cfg.XToken = "" // dynamic mode enables the refresh-and-retry path
	client := NewClient(cfg)
	sessions := &fakeSessions{tokens: []string{"stale", "fresh"}}

	result, err := client.Provision(context.Background(), sessions, "pf_00000006", "pw1234pw12", 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SavePlayer == nil {
		t.Error("expected savePlayer envelope")
	}
	if sessions.invalidations != 1 {
		t.Errorf("invalidations = %d, want 1", sessions.invalidations)
	}
	if saveCalls != 2 {
		t.Errorf("savePlayer calls = %d, want 2", saveCalls)
	}
}

func TestProvisionStaticModeDoesNotRetry401(t *testing.T) {
	fake := newFakeUpstream()
	fake.saveStatus = http.StatusUnauthorized
	fake.saveResponse = `{"code":50008,"msg":"token expired"}`
	srv := fake.server(t)
	client := NewClient(testUpstreamConfig(srv.URL))

	_, err := client.Provision(context.Background(), NewStaticProvider("x"), "pf_00000007", "pw1234pw12", 0, "")

	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpError, got %v", err)
	}
	if oe.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("status = %d", oe.HTTPStatus)
	}
	if fake.saveCalls != 1 {
		t.Errorf("savePlayer calls = %d, want 1 (no retry with a static token)", fake.saveCalls)
	}
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(testUpstreamConfig(srv.URL))
	client.timeout = 20 * time.Millisecond

	_, err := client.CreatePlayer(context.Background(), "x", "pf_00000008", "pw1234pw12", "")

	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpError, got %v", err)
	}
	if oe.HTTPStatus != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", oe.HTTPStatus)
	}
}
