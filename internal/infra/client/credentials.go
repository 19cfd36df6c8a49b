// Package client implements the HTTP adapters for the fraud platform:
// credential exchange, dashboard queries, and the live decision stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("infra/client")

// CredentialBroker owns the access-token lifecycle: acquisition, caching,
// expiry-aware reuse, and single-flight refresh. Any number of goroutines
// may call Token concurrently; at most one exchange runs per refresh
// cycle and every waiter receives the same result.
type CredentialBroker struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	skew       time.Duration
	fallback   time.Duration
	metrics    *observability.Metrics
	logger     *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cred  *domain.Credential
}

// NewCredentialBroker creates a broker exchanging the fixed analyst
// credentials for bearer tokens. skew is how far ahead of expiry a token
// stops being handed out; fallback is the assumed lifetime when the
// exchange response carries no usable expiry.
func NewCredentialBroker(httpClient *http.Client, baseURL, username, password string, skew, fallback time.Duration, metrics *observability.Metrics, logger *zap.Logger) *CredentialBroker {
	return &CredentialBroker{
		httpClient: httpClient,
		baseURL:    baseURL,
		username:   username,
		password:   password,
		skew:       skew,
		fallback:   fallback,
		metrics:    metrics,
		logger:     logger,
	}
}

// Token returns a bearer token valid for at least the configured skew.
// A cached credential is reused without I/O; otherwise concurrent callers
// share one exchange. Failures are not cached, so the next call retries.
func (b *CredentialBroker) Token(ctx context.Context) (string, error) {
	if cred, ok := b.cached(); ok {
		return cred.AccessToken, nil
	}

	v, err, _ := b.group.Do("token", func() (any, error) {
		// A caller queued behind a refresh that already completed can
		// reuse the fresh credential without another exchange.
		if cred, ok := b.cached(); ok {
			return cred, nil
		}
		return b.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(*domain.Credential).AccessToken, nil
}

func (b *CredentialBroker) cached() (*domain.Credential, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cred == nil || !time.Now().Add(b.skew).Before(b.cred.ExpiresAt) {
		return nil, false
	}
	return b.cred, true
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenResponse keeps expiresAt raw so a malformed value degrades to the
// fallback instead of failing the whole decode.
type tokenResponse struct {
	TokenType   string   `json:"tokenType"`
	AccessToken string   `json:"accessToken"`
	ExpiresAt   string   `json:"expiresAt"`
	Roles       []string `json:"roles"`
}

func (b *CredentialBroker) exchange(ctx context.Context) (*domain.Credential, error) {
	ctx, span := tracer.Start(ctx, "CredentialBroker.exchange")
	defer span.End()

	body, err := json.Marshal(tokenRequest{Username: b.username, Password: b.password})
	if err != nil {
		return nil, b.failed(&domain.ErrAuthFailed{Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return nil, b.failed(&domain.ErrAuthFailed{Err: err})
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, b.failed(&domain.ErrAuthFailed{Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.failed(&domain.ErrAuthFailed{Status: resp.StatusCode})
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, b.failed(&domain.ErrAuthFailed{Err: fmt.Errorf("decode token response: %w", err)})
	}
	if payload.AccessToken == "" {
		return nil, b.failed(&domain.ErrAuthFailed{Err: fmt.Errorf("token response missing accessToken")})
	}

	cred := &domain.Credential{
		AccessToken: payload.AccessToken,
		ExpiresAt:   b.resolveExpiry(payload),
	}

	b.mu.Lock()
	b.cred = cred
	b.mu.Unlock()

	b.metrics.IncrTokenExchange("success")
	b.logger.Debug("access token refreshed", zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

func (b *CredentialBroker) failed(err error) error {
	b.metrics.IncrTokenExchange("failure")
	return err
}

// resolveExpiry trusts the server's expiresAt when it parses. When it does
// not, the exp claim is read straight off the JWT, and as a last resort
// the token is assumed to live for the fallback TTL. Both fallbacks are
// policy choices, not derived facts: the default TTL is deliberately
// shorter than the server's issued lifetime.
func (b *CredentialBroker) resolveExpiry(payload tokenResponse) time.Time {
	if t, err := time.Parse(time.RFC3339, payload.ExpiresAt); err == nil {
		return t
	}
	if t, ok := jwtExpiry(payload.AccessToken); ok {
		return t
	}
	b.logger.Warn("token response carried no usable expiry, assuming fallback TTL",
		zap.Duration("fallback", b.fallback),
	)
	return time.Now().Add(b.fallback)
}

// jwtExpiry reads the exp claim without verifying the signature; the
// broker is a token consumer, not a validator.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
