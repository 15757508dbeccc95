package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"pandagate/internal/config"
	"pandagate/internal/model"
	"pandagate/internal/resilience"
)

// Client provisions player accounts on the upstream gaming platform. Every
// call is a signed JSON POST; the per-operation sign/stime/token triples come
// from configuration, the session token from a SessionProvider.
type Client struct {
	cfg     config.Upstream
	hc      *http.Client
	breaker *resilience.Breaker
	timeout time.Duration
}

func NewClient(cfg config.Upstream) *Client {
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{},
		breaker: resilience.NewBreaker(5, 30*time.Second),
		timeout: 10 * time.Second,
	}
}

type savePlayerBody struct {
	Sign        string `json:"sign"`
	Stime       int64  `json:"stime"`
	Token       string `json:"token"`
	Account     string `json:"account"`
	Pwd         string `json:"pwd"`
	Score       string `json:"score"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	TelAreaCode string `json:"tel_area_code"`
	Remark      string `json:"remark"`
}

type enterScoreBody struct {
	Sign     string `json:"sign"`
	Stime    int64  `json:"stime"`
	Token    string `json:"token"`
	Account  string `json:"account"`
	Score    string `json:"score"`
	Remark   string `json:"remark"`
	UserType string `json:"user_type"`
}

// CreatePlayer registers a new player account. The starting score is always
// submitted as "0"; seeding credits is a separate EnterScore call so a failed
// grant never leaves the create in doubt.
func (c *Client) CreatePlayer(ctx context.Context, xToken, account, password, remark string) (json.RawMessage, error) {
	body := savePlayerBody{
		Sign:    c.cfg.SavePlayer.Sign,
		Stime:   c.cfg.SavePlayer.Stime,
		Token:   c.cfg.SavePlayer.Token,
		Account: account,
		Pwd:     password,
		Score:   "0",
		Remark:  remark,
	}
	return c.call(ctx, OpCreatePlayer, "/api/account/savePlayer", xToken, body)
}

// EnterScore grants credits to an existing player account.
func (c *Client) EnterScore(ctx context.Context, xToken, account string, credits model.Credits, remark string) (json.RawMessage, error) {
	body := enterScoreBody{
		Sign:     c.cfg.EnterScore.Sign,
		Stime:    c.cfg.EnterScore.Stime,
		Token:    c.cfg.EnterScore.Token,
		Account:  account,
		Score:    credits.String(),
		Remark:   remark,
		UserType: "player",
	}
	return c.call(ctx, OpEnterScore, "/api/account/enterScore", xToken, body)
}

// Provision runs the full sequence: acquire a token, create the player, and
// grant credits when a positive amount was requested. The steps are strictly
// sequential; a createPlayer failure aborts before any credit call. An
// enterScore failure returns an *OpError carrying the already-created
// account and password, since the upstream offers no way to roll the create
// back.
func (c *Client) Provision(ctx context.Context, sessions SessionProvider, account, password string, credits model.Credits, remark string) (*model.ProvisionResult, error) {
	token, err := sessions.Token(ctx)
	if err != nil {
		return nil, err
	}

	saveRaw, err := c.CreatePlayer(ctx, token, account, password, remark)
	if isAuthFailure(err) && c.cfg.DynamicSession() {
		sessions.Invalidate()
		if token, err = sessions.Token(ctx); err == nil {
			saveRaw, err = c.CreatePlayer(ctx, token, account, password, remark)
		}
	}
	if err != nil {
		return nil, err
	}

	result := &model.ProvisionResult{
		Account:    account,
		Password:   password,
		Credits:    credits,
		SavePlayer: saveRaw,
	}

	if credits <= 0 {
		return result, nil
	}

	scoreRaw, err := c.EnterScore(ctx, token, account, credits, remark)
	if isAuthFailure(err) && c.cfg.DynamicSession() {
		sessions.Invalidate()
		if token, err = sessions.Token(ctx); err == nil {
			scoreRaw, err = c.EnterScore(ctx, token, account, credits, remark)
		}
	}
	if err != nil {
		var oe *OpError
		if errors.As(err, &oe) && oe.Op == OpEnterScore {
			oe.Account = account
			oe.Password = password
		}
		return nil, err
	}

	result.EnterScore = scoreRaw
	return result, nil
}

// call sends one signed request with a bounded timeout and interprets the
// envelope. Only transport failures and 5xx responses count against the
// circuit breaker; an application-level rejection (duplicate account and the
// like) is the upstream working as intended.
func (c *Client) call(ctx context.Context, op Op, path, xToken string, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		status  int
		raw     json.RawMessage
		env     envelope
		sendErr error
	)
	brkErr := c.breaker.Do(func() error {
		status, raw, env, sendErr = postJSON(ctx, c.hc, c.cfg, path, xToken, body)
		if sendErr != nil {
			return sendErr
		}
		if status >= 500 {
			return errServerFault
		}
		return nil
	})
	if errors.Is(brkErr, resilience.ErrOpen) {
		return nil, &OpError{Op: op, Message: "upstream circuit open"}
	}

	if oe := checkEnvelope(op, status, env, sendErr); oe != nil {
		return nil, oe
	}
	return raw, nil
}

// errServerFault marks a 5xx response for the breaker without disturbing the
// envelope-based error reporting.
var errServerFault = errors.New("upstream server fault")

func isAuthFailure(err error) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.HTTPStatus == http.StatusUnauthorized
}
