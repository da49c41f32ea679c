// Package events publishes verification lifecycle events for downstream
// consumers (analytics, audit). Publishing is fire-and-forget: a broker
// outage must never slow a verification down.
package events

import (
	"context"
	"time"
)

// Event types emitted by the core services.
const (
	TypeReceiptCompleted = "receipt_completed"
	TypeReceiptFailed    = "receipt_failed"
	TypeAccountChecked   = "account_checked"
	TypeFraudReported    = "fraud_reported"
)

// Event is one verification fact. Key groups related events onto one
// partition (job id or fingerprint) so per-subject ordering survives Kafka.
type Event struct {
	Type      string         `json:"type"`
	Key       string         `json:"key"`
	Actor     string         `json:"actor,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Publisher fans events out to whatever sink is configured.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close()
}

// Nop drops every event; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
func (Nop) Close()                         {}
