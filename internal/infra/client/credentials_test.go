package client_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/frauddetection/fraudwatch-go/internal/infra/client"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"

	"go.uber.org/zap"
)

func newBroker(t *testing.T, serverURL string, skew, fallback time.Duration) *client.CredentialBroker {
	t.Helper()
	return client.NewCredentialBroker(
		&http.Client{Timeout: 5 * time.Second},
		serverURL,
		"analyst",
		"analyst-change-me",
		skew,
		fallback,
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

func tokenServer(t *testing.T, exchanges *atomic.Int64, respond func(w http.ResponseWriter, n int64)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username != "analyst" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		respond(w, exchanges.Add(1))
	}))
}

func writeToken(w http.ResponseWriter, token string, expiresAt time.Time) {
	json.NewEncoder(w).Encode(map[string]any{
		"tokenType":   "Bearer",
		"accessToken": token,
		"expiresAt":   expiresAt.Format(time.RFC3339),
		"roles":       []string{"ANALYST"},
	})
}

func TestToken_SingleFlightUnderConcurrency(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, n int64) {
		// Slow response widens the window concurrent callers pile into.
		time.Sleep(50 * time.Millisecond)
		writeToken(w, fmt.Sprintf("token-%d", n), time.Now().Add(time.Hour))
	})
	defer srv.Close()

	broker := newBroker(t, srv.URL, 5*time.Second, 55*time.Minute)

	const callers = 50
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = broker.Token(context.Background())
		}(i)
	}
	wg.Wait()

	if got := exchanges.Load(); got != 1 {
		t.Errorf("expected exactly 1 exchange, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Errorf("caller %d received %q, expected shared %q", i, tokens[i], tokens[0])
		}
	}
}

func TestToken_ReusesCachedUntilSkewWindow(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, n int64) {
		writeToken(w, fmt.Sprintf("token-%d", n), time.Now().Add(time.Hour))
	})
	defer srv.Close()

	broker := newBroker(t, srv.URL, 5*time.Second, 55*time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := broker.Token(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := exchanges.Load(); got != 1 {
		t.Errorf("expected cached reuse with 1 exchange, got %d", got)
	}
}

func TestToken_RefreshesInsideSkewWindow(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, n int64) {
		// Expires in 3s, within the 5s skew, so each call must re-exchange.
		writeToken(w, fmt.Sprintf("token-%d", n), time.Now().Add(3*time.Second))
	})
	defer srv.Close()

	broker := newBroker(t, srv.URL, 5*time.Second, 55*time.Minute)

	first, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exchanges.Load() != 2 {
		t.Errorf("expected 2 exchanges for near-expiry tokens, got %d", exchanges.Load())
	}
	if first == second {
		t.Error("expected a fresh token on the second call")
	}
}

func TestToken_FallsBackToJWTExpClaim(t *testing.T) {
	claims, _ := json.Marshal(map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString(claims)
	jwtToken := header + "." + payload + ".signature"

	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, n int64) {
		json.NewEncoder(w).Encode(map[string]any{
			"tokenType":   "Bearer",
			"accessToken": jwtToken,
			"expiresAt":   "not-a-timestamp",
		})
	})
	defer srv.Close()

	broker := newBroker(t, srv.URL, 5*time.Second, 55*time.Minute)

	if _, err := broker.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := broker.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := exchanges.Load(); got != 1 {
		t.Errorf("expected exp claim to make the token cacheable, got %d exchanges", got)
	}
}

func TestToken_FallbackTTLWhenNoUsableExpiry(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, n int64) {
		json.NewEncoder(w).Encode(map[string]any{
			"tokenType":   "Bearer",
			"accessToken": "opaque-token",
			"expiresAt":   "garbage",
		})
	})
	defer srv.Close()

	broker := newBroker(t, srv.URL, 5*time.Second, 55*time.Minute)

	if _, err := broker.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := broker.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := exchanges.Load(); got != 1 {
		t.Errorf("expected fallback TTL to keep the token cached, got %d exchanges", got)
	}
}

func TestToken_FailureIsTypedAndNotCached(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, n int64) {
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeToken(w, "token-2", time.Now().Add(time.Hour))
	})
	defer srv.Close()

	broker := newBroker(t, srv.URL, 5*time.Second, 55*time.Minute)

	_, err := broker.Token(context.Background())
	if err == nil {
		t.Fatal("expected error from rejected exchange")
	}
	var authErr *domain.ErrAuthFailed
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *domain.ErrAuthFailed, got %T", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", authErr.Status)
	}

	// The failure must not be sticky: the next call exchanges again.
	token, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("expected recovery on retry, got %v", err)
	}
	if token != "token-2" {
		t.Errorf("expected token-2, got %q", token)
	}
	if got := exchanges.Load(); got != 2 {
		t.Errorf("expected 2 exchanges, got %d", got)
	}
}
