// Command loadgen drives synthetic transactions into the fraud platform's
// ingestion endpoint: a steady arrival rate plus a high-risk burst window,
// matching the capacity profile the platform is tested against.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/frauddetection/fraudwatch-go/internal/config"
	"github.com/frauddetection/fraudwatch-go/internal/infra/client"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var merchants = []string{"merchant-1", "merchant-2", "crypto-exchange-1", "luxury-retail-9"}

var locations = []string{"New York, US", "Austin, US", "Moscow, RU", "Lagos, NG", "Berlin, DE"}

type transactionRequest struct {
	TransactionID string  `json:"transactionId"`
	UserID        string  `json:"userId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	MerchantID    string  `json:"merchantId"`
	Location      string  `json:"location"`
	DeviceID      string  `json:"deviceId"`
}

type generator struct {
	httpClient *http.Client
	baseURL    string
	tokens     *client.CredentialBroker
	logger     *zap.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.LoadLoadgen()

	logger := observability.NewLogger(config.Load().LogLevel)
	defer logger.Sync()

	logger.Info("load generator starting",
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.Int("rate", cfg.Rate),
		zap.Duration("duration", cfg.Duration),
		zap.Int("burst_rate", cfg.BurstRate),
		zap.Duration("burst_start", cfg.BurstStart),
		zap.Duration("burst_duration", cfg.BurstDuration),
	)

	metrics := observability.NewMetrics()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	broker := client.NewCredentialBroker(
		httpClient,
		cfg.APIBaseURL,
		cfg.AuthUsername,
		cfg.AuthPassword,
		5*time.Second,
		55*time.Minute,
		metrics,
		logger,
	)

	gen := &generator{
		httpClient: httpClient,
		baseURL:    cfg.APIBaseURL,
		tokens:     broker,
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	// Fail fast if credentials are wrong before spinning up workers.
	if _, err := broker.Token(ctx); err != nil {
		logger.Fatal("authentication failed", zap.Error(err))
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		gen.runPhase(ctx, cfg.Rate, cfg.Duration)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.BurstStart):
		}
		gen.runPhase(ctx, cfg.BurstRate, cfg.BurstDuration)
	}()

	wg.Wait()

	logger.Info("load generator finished",
		zap.Int64("sent", gen.sent.Load()),
		zap.Int64("failed", gen.failed.Load()),
	)
	if gen.failed.Load() > 0 {
		os.Exit(1)
	}
}

// runPhase submits transactions at a constant arrival rate until the phase
// duration elapses or the context is cancelled.
func (g *generator) runPhase(ctx context.Context, rate int, duration time.Duration) {
	if rate < 1 {
		rate = 1
	}
	phaseCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-phaseCtx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				g.submit(phaseCtx)
			}()
		}
	}
}

func (g *generator) submit(ctx context.Context) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		g.failed.Add(1)
		g.logger.Warn("token resolution failed", zap.Error(err))
		return
	}

	body, err := json.Marshal(randomTransaction())
	if err != nil {
		g.failed.Add(1)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/v1/transactions", g.baseURL), bytes.NewReader(body))
	if err != nil {
		g.failed.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			g.failed.Add(1)
			g.logger.Warn("submit failed", zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		g.failed.Add(1)
		g.logger.Warn("transaction rejected", zap.Int("status", resp.StatusCode))
		return
	}
	g.sent.Add(1)
}

func randomTransaction() transactionRequest {
	return transactionRequest{
		TransactionID: "txn-" + uuid.NewString(),
		UserID:        fmt.Sprintf("user-%d", rand.Intn(100000)),
		Amount:        randomAmount(),
		Currency:      "USD",
		MerchantID:    merchants[rand.Intn(len(merchants))],
		Location:      locations[rand.Intn(len(locations))],
		DeviceID:      "device-" + uuid.NewString(),
	}
}

// randomAmount biases one in five transactions into the high-risk band.
func randomAmount() float64 {
	if rand.Float64() < 0.2 {
		return 8000 + rand.Float64()*12000
	}
	return 10 + rand.Float64()*1200
}
