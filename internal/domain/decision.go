// Package domain holds the console's data model: fraud decisions, the
// paginated decision view, aggregate metrics, filters, and the error types
// shared across components.
package domain

import (
	"sort"
	"time"
)

// DecisionOutcome is the fraud engine's verdict for a transaction.
type DecisionOutcome string

const (
	DecisionApproved DecisionOutcome = "APPROVED"
	DecisionReview   DecisionOutcome = "REVIEW"
	DecisionBlocked  DecisionOutcome = "BLOCKED"
)

// Decision is one immutable fraud decision as emitted by the server.
// Identity for deduplication is the (TransactionID, CreatedAt) pair; two
// records with the same pair describe the same logical event.
type Decision struct {
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	Amount        *float64        `json:"amount"`
	Currency      *string         `json:"currency"`
	MerchantID    *string         `json:"merchantId"`
	Location      *string         `json:"location"`
	RiskScore     float64         `json:"riskScore"`
	Decision      DecisionOutcome `json:"decision"`
	RuleScore     float64         `json:"ruleScore"`
	MLScore       float64         `json:"mlScore"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SameIdentity reports whether two records describe the same logical event.
func (d Decision) SameIdentity(other Decision) bool {
	return d.TransactionID == other.TransactionID && d.CreatedAt.Equal(other.CreatedAt)
}

// DecisionPage is one server page of decisions, newest first. Content never
// exceeds Size; TotalElements counts all known matches, not visible rows.
type DecisionPage struct {
	Content       []Decision `json:"content"`
	Page          int        `json:"page"`
	Size          int        `json:"size"`
	TotalElements int64      `json:"totalElements"`
	TotalPages    int        `json:"totalPages"`
	Last          bool       `json:"last"`
}

// MergeLive folds a pushed decision into the page: any row with the same
// identity pair is replaced by the incoming record, the result is re-sorted
// newest first (a burst may arrive out of order) and truncated to Size.
// TotalElements grows by one whether or not a row was evicted — it tracks
// known matches, so callers must not assume it equals len(Content).
func (p *DecisionPage) MergeLive(d Decision) {
	merged := make([]Decision, 0, len(p.Content)+1)
	merged = append(merged, d)
	for _, existing := range p.Content {
		if existing.SameIdentity(d) {
			continue
		}
		merged = append(merged, existing)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		// Equal timestamps: break the tie on transaction id so the
		// ordering stays deterministic across merges.
		return merged[i].TransactionID > merged[j].TransactionID
	})

	if p.Size > 0 && len(merged) > p.Size {
		merged = merged[:p.Size]
	}

	p.Content = merged
	p.TotalElements++
}

// MinutePoint is one bucket of the per-minute throughput series.
type MinutePoint struct {
	Minute string `json:"minute"`
	Count  int64  `json:"count"`
}

// MetricsSnapshot is the aggregate risk picture for a time window. It is
// replaced wholesale on every poll; there is no incremental merge.
type MetricsSnapshot struct {
	From                  time.Time     `json:"from"`
	To                    time.Time     `json:"to"`
	TotalTransactions     int64         `json:"totalTransactions"`
	ApprovedCount         int64         `json:"approvedCount"`
	ReviewCount           int64         `json:"reviewCount"`
	BlockedCount          int64         `json:"blockedCount"`
	FraudRatePercentage   float64       `json:"fraudRatePercentage"`
	AverageRiskScore      float64       `json:"averageRiskScore"`
	TransactionsPerMinute []MinutePoint `json:"transactionsPerMinute"`
}

// Credential is a short-lived bearer token. It is only ever handed out
// while comfortably inside its expiry window.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// StreamState classifies the live feed connection for the status indicator.
type StreamState int

const (
	StreamConnecting StreamState = iota
	StreamConnected
	StreamDisconnected
)

func (s StreamState) String() string {
	switch s {
	case StreamConnecting:
		return "connecting"
	case StreamConnected:
		return "connected"
	case StreamDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConsoleSummary aggregates the console's own counters for the ops summary
// route.
type ConsoleSummary struct {
	LiveEventsMerged    int64 `json:"liveEventsMerged"`
	LiveEventsDropped   int64 `json:"liveEventsDropped"`
	StaleLoadsDiscarded int64 `json:"staleLoadsDiscarded"`
	TokenExchanges      int64 `json:"tokenExchanges"`
	FetchErrors         int64 `json:"fetchErrors"`
	StreamReconnects    int64 `json:"streamReconnects"`
}
