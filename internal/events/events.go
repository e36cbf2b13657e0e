// Package events publishes payment outcomes and ledger inconsistencies so
// operations can alert on them.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	PaymentAuthorized   Type = "payment.authorized"
	PaymentDeclined     Type = "payment.declined"
	VoidFailed          Type = "payment.void_failed"
	LedgerInconsistency Type = "ledger.inconsistency"
)

type Event struct {
	Type          Type            `json:"type"`
	OrderID       string          `json:"orderID"`
	PaymentID     string          `json:"paymentID,omitempty"`
	ReferenceCode string          `json:"referenceCode,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop drops every event. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Memory keeps published events in order.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the types of the published events in order.
func (m *Memory) Types() []Type {
	var out []Type
	for _, e := range m.Events() {
		out = append(out, e.Type)
	}
	return out
}
