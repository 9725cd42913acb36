// Package gymforce is the client for the remote subscription service
// that authorizes gate entries.  Every network or protocol failure
// degrades to a deny decision; nothing from this package reaches the
// gate path as an error except caller cancellation.
package gymforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultLoginPath  = "/api/turnstile/users/login"
	defaultAccessPath = "/api/turnstile/member/access"

	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWorkers        = 3

	// Used when the login response carries no expiry and the token has
	// no exp claim either.
	defaultTokenTTL = 2 * time.Hour
)

type Config struct {
	BaseURL  string
	Email    string
	Password string
	BranchID int

	// Workers bounds concurrent async validations.  Defaults to 3.
	Workers int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Decision is the outcome of one authorization query.
type Decision struct {
	Allowed bool
	Status  string
	Reason  string
}

type asyncJob struct {
	memberID string
	callback func(memberID string, dec Decision)
}

// Client owns the bearer-token lifecycle for the remote service.  Token
// state is guarded by a mutex scoped to the check-and-refresh section;
// the network calls themselves run outside the lock, so validations may
// be in flight concurrently against one shared token.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	jobs      chan asyncJob
	workers   sync.WaitGroup
	closeOnce sync.Once
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		httpc: &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
		jobs: make(chan asyncJob, 64),
	}

	for i := 0; i < cfg.Workers; i++ {
		c.workers.Add(1)
		go c.workerLoop()
	}
	return c
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type accessRequest struct {
	MemberID string `json:"member_id"`
	BranchID int    `json:"branch_id"`
}

type accessResponse struct {
	Status string `json:"status"`
	Access string `json:"access"`
	Reason string `json:"reason"`
}

// Authenticate exchanges credentials for a bearer token.  On failure
// the prior token, if any, is left untouched.
func (c *Client) Authenticate(ctx context.Context) error {
	body, status, err := c.postJSON(ctx, c.cfg.BaseURL+defaultLoginPath, "", loginRequest{
		Email:    c.cfg.Email,
		Password: c.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("login failed: HTTP %d", status)
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return fmt.Errorf("login response: %w", err)
	}
	if lr.Token == "" {
		return fmt.Errorf("login response carried no token")
	}

	now := time.Now()
	expiry := now.Add(time.Duration(lr.ExpiresIn) * time.Second)
	if lr.ExpiresIn <= 0 {
		expiry = tokenExpiry(lr.Token, now)
	}

	c.mu.Lock()
	c.token = lr.Token
	c.tokenExpiry = expiry
	c.mu.Unlock()

	c.logger.Info("authenticated with subscription service",
		zap.Time("token_expiry", expiry))
	return nil
}

// tokenExpiry falls back to the bearer token's exp claim (unverified —
// we only need the deadline, not trust) and to a fixed TTL after that.
func tokenExpiry(token string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(defaultTokenTTL)
}

// ensureToken re-authenticates lazily when the token is absent or past
// its expiry.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	valid := c.token != "" && time.Now().Before(c.tokenExpiry)
	c.mu.Unlock()
	if valid {
		return nil
	}
	return c.Authenticate(ctx)
}

// Validate asks the remote service whether the member may enter.  All
// failures — missing token, timeouts, non-200 responses — convert to a
// deny Decision with a diagnostic reason.  The only error returned is
// the caller's own context cancellation.
func (c *Client) Validate(ctx context.Context, memberID string) (Decision, error) {
	if err := c.ensureToken(ctx); err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		c.logger.Warn("validate without token", zap.String("member_id", memberID), zap.Error(err))
		return deny("no valid token"), nil
	}

	dec, status, err := c.postAccess(ctx, memberID)
	if err != nil {
		return c.denyOnTransport(ctx, memberID, err)
	}

	if status == http.StatusUnauthorized {
		// Expired token: re-authenticate exactly once, retry exactly once.
		c.logger.Info("token rejected, renewing", zap.String("member_id", memberID))
		if err := c.Authenticate(ctx); err != nil {
			if ctx.Err() != nil {
				return Decision{}, ctx.Err()
			}
			return deny("token renewal failed"), nil
		}
		dec, status, err = c.postAccess(ctx, memberID)
		if err != nil {
			return c.denyOnTransport(ctx, memberID, err)
		}
	}

	if status != http.StatusOK {
		c.logger.Warn("access query rejected",
			zap.String("member_id", memberID), zap.Int("status", status))
		return deny(fmt.Sprintf("HTTP %d", status)), nil
	}
	return dec, nil
}

// ValidateAsync queues a fire-and-forget validation on the bounded
// worker pool; the result is delivered through cb.  Ordering across
// concurrent requests is unspecified.  Must not be called after Close.
func (c *Client) ValidateAsync(memberID string, cb func(memberID string, dec Decision)) {
	c.jobs <- asyncJob{memberID: memberID, callback: cb}
}

// RecordVisit reports a completed entry after an allow.  The remote
// service has no visit endpoint yet, so this only leaves an audit line.
// TODO: call the visit endpoint once the remote service ships it.
func (c *Client) RecordVisit(_ context.Context, memberID string, at time.Time) {
	c.logger.Info("visit recorded",
		zap.String("member_id", memberID), zap.Time("at", at))
}

// Close drains in-flight async work and releases the pool and any idle
// network connections.  Must run before process exit.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.jobs)
		c.workers.Wait()
		c.httpc.CloseIdleConnections()
	})
}

func (c *Client) workerLoop() {
	defer c.workers.Done()
	for j := range c.jobs {
		dec, err := c.Validate(context.Background(), j.memberID)
		if err != nil {
			dec = deny(err.Error())
		}
		j.callback(j.memberID, dec)
	}
}

func (c *Client) postAccess(ctx context.Context, memberID string) (Decision, int, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	body, status, err := c.postJSON(ctx, c.cfg.BaseURL+defaultAccessPath, token, accessRequest{
		MemberID: memberID,
		BranchID: c.cfg.BranchID,
	})
	if err != nil {
		return Decision{}, 0, err
	}
	if status != http.StatusOK {
		return Decision{}, status, nil
	}

	var ar accessResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return Decision{}, 0, fmt.Errorf("access response: %w", err)
	}
	return Decision{
		Allowed: ar.Access == "allow",
		Status:  ar.Status,
		Reason:  ar.Reason,
	}, status, nil
}

func (c *Client) postJSON(ctx context.Context, url, bearer string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) denyOnTransport(ctx context.Context, memberID string, err error) (Decision, error) {
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}
	reason := "network error"
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		reason = "timeout"
	}
	c.logger.Warn("access query failed",
		zap.String("member_id", memberID), zap.Error(err))
	return deny(reason), nil
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Status: "ERROR", Reason: reason}
}
