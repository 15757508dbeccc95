package upstream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"pandagate/internal/config"
)

// SessionProvider yields a bearer token (x-token header) for upstream calls.
// Invalidate discards any cached token so the next Token call re-authenticates;
// callers invoke it when the upstream signals an expired session.
type SessionProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// NewSessionProvider selects the provider for the configured mode: a static
// pre-captured token, or fresh logins when none is configured.
func NewSessionProvider(cfg config.Upstream) SessionProvider {
	if cfg.DynamicSession() {
		return NewDynamicProvider(cfg)
	}
	return NewStaticProvider(cfg.XToken)
}

// StaticProvider returns a long-lived token straight from configuration.
type StaticProvider struct {
	token string
}

func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

// Invalidate is a no-op: there is nothing to refresh a static token with.
func (p *StaticProvider) Invalidate() {}

// DynamicProvider mints session tokens via POST /api/user/login and caches
// the result for a short TTL. The cache trades a per-request login round trip
// for a window of possible staleness; Invalidate closes that window when a
// downstream call reports an auth failure.
type DynamicProvider struct {
	cfg config.Upstream
	hc  *http.Client
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	token      string
	acquiredAt time.Time
}

func NewDynamicProvider(cfg config.Upstream) *DynamicProvider {
	return &DynamicProvider{
		cfg: cfg,
		hc:  &http.Client{Timeout: 10 * time.Second},
		ttl: 5 * time.Minute,
		now: time.Now,
	}
}

type loginBody struct {
	Sign     string `json:"sign"`
	Stime    int64  `json:"stime"`
	Username string `json:"username"`
	Password string `json:"password"`
	AuthCode string `json:"auth_code"`
}

func (p *DynamicProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Sub(p.acquiredAt) < p.ttl {
		return p.token, nil
	}

	body := loginBody{
		Sign:     p.cfg.Login.Sign,
		Stime:    p.cfg.Login.Stime,
		Username: p.cfg.Login.Username,
		Password: p.cfg.Login.Password,
		AuthCode: "",
	}

	status, _, env, err := postJSON(ctx, p.hc, p.cfg, "/api/user/login", "", body)
	if oe := checkEnvelope(OpLogin, status, env, err); oe != nil {
		return "", oe
	}
	if env.Token == "" {
		return "", &OpError{Op: OpLogin, HTTPStatus: status, Code: env.Code, Message: "login response carried no token"}
	}

	p.token = env.Token
	p.acquiredAt = p.now()
	return p.token, nil
}

func (p *DynamicProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}
