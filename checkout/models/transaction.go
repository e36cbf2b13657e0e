package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeAuthorization     TransactionType = "Authorization"
	TransactionTypeVoidAuthorization TransactionType = "VoidAuthorization"
	TransactionTypeCapture           TransactionType = "Capture"
	TransactionTypeRefund            TransactionType = "Refund"
)

// Transaction records one processor interaction. It is never modified after it
// has been appended to a payment.
type Transaction struct {
	ID            string          `json:"id"`
	Type          TransactionType `json:"type"`
	Succeeded     bool            `json:"succeeded"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	ReferenceCode string          `json:"referenceCode,omitempty"`
	ResponseCode  string          `json:"responseCode,omitempty"`
	ResponseText  string          `json:"responseText,omitempty"`
	AuthCode      string          `json:"authCode,omitempty"`
	RawResponse   json.RawMessage `json:"rawResponse,omitempty"`
	DateExecuted  time.Time       `json:"dateExecuted"`
}

// History is the ordered, append-only transaction log of a payment, oldest first.
type History []Transaction

// Append returns a new history with tx at the end. The receiver is not modified.
func (h History) Append(tx Transaction) History {
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	return append(out, tx)
}

// LatestLiveAuthorization returns the most recent successful authorization that
// has not been followed by a successful void.
func (h History) LatestLiveAuthorization() (Transaction, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		tx := h[i]
		if !tx.Succeeded {
			continue
		}
		switch tx.Type {
		case TransactionTypeVoidAuthorization:
			return Transaction{}, false
		case TransactionTypeAuthorization:
			return tx, true
		}
	}
	return Transaction{}, false
}

// Latest returns the newest transaction of type t, successful or not.
func (h History) Latest(t TransactionType) (Transaction, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Type == t {
			return h[i], true
		}
	}
	return Transaction{}, false
}

func (h History) Len() int { return len(h) }

// All returns a copy of the history in original order.
func (h History) All() []Transaction {
	out := make([]Transaction, len(h))
	copy(out, h)
	return out
}
