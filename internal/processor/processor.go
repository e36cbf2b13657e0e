// Package processor defines the contract of the card-processing gateway. It owns
// no reconciliation logic; implementations are pure I/O.
package processor

import (
	"context"
	"encoding/json"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/shopspring/decimal"
)

type Processor interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error)
	Void(ctx context.Context, req VoidRequest) (*VoidResult, error)
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Inquire(ctx context.Context, req InquireRequest) (*InquireResult, error)
}

// Card identifies the account to charge: a stored token or a raw entry.
type Card struct {
	Token          string
	AccountNumber  string
	ExpirationDate string // YYMM
	CVV            string
	CardholderName string
}

type AuthorizationRequest struct {
	MerchantID string
	Currency   string
	Amount     decimal.Decimal
	OrderID    string
	Card       Card
	Billing    models.Address
}

type VoidRequest struct {
	MerchantID    string
	Currency      string
	ReferenceCode string
	Amount        decimal.Decimal
}

type CaptureRequest struct {
	MerchantID    string
	Currency      string
	ReferenceCode string
	Amount        decimal.Decimal
}

type RefundRequest struct {
	MerchantID    string
	Currency      string
	ReferenceCode string
	Amount        decimal.Decimal
}

type InquireRequest struct {
	MerchantID    string
	ReferenceCode string
}

// Result is the common shape of every gateway response.
type Result struct {
	ReferenceCode string
	Succeeded     bool
	ResponseCode  string
	ResponseText  string
	AuthCode      string
	Amount        decimal.Decimal
	Raw           json.RawMessage
}

type AuthorizationResult struct{ Result }

type VoidResult struct{ Result }

type CaptureResult struct{ Result }

type RefundResult struct{ Result }

type InquireResult struct {
	Result
	Status string
}
