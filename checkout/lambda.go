package checkout

import (
	"context"
	"errors"

	"github.com/alovak/cardflow-checkout/checkout/models"
)

// AuthorizeEvent is the payload the authorize Lambda is invoked with.
type AuthorizeEvent struct {
	OrderID      string                    `json:"orderID"`
	Direction    models.Direction          `json:"direction,omitempty"`
	CreditCardID string                    `json:"creditCardID"`
	CardDetails  *models.CreditCardDetails `json:"creditCardDetails,omitempty"`
	CVV          string                    `json:"cvv,omitempty"`
	Currency     string                    `json:"currency,omitempty"`
	UserToken    string                    `json:"userToken"`
	MerchantID   string                    `json:"merchantID,omitempty"`
}

// AuthorizeResponse reports the outcome. Caller-facing failures are returned
// in ErrorCode rather than as a Lambda error, so the invocation is not retried.
type AuthorizeResponse struct {
	Payment   *models.Payment `json:"payment,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      any             `json:"data,omitempty"`
}

type PaymentAuthorizer interface {
	AuthorizePayment(ctx context.Context, req models.CCPayment, userToken, merchantOverride string) (*models.Payment, error)
}

type LambdaHandler struct {
	authorizer PaymentAuthorizer
}

func NewLambdaHandler(authorizer PaymentAuthorizer) *LambdaHandler {
	return &LambdaHandler{authorizer: authorizer}
}

// Handle returns an error only for failures that are not classified, which
// lets the Lambda runtime surface them as invocation errors.
func (h *LambdaHandler) Handle(ctx context.Context, event AuthorizeEvent) (AuthorizeResponse, error) {
	req := models.CCPayment{
		OrderID:           event.OrderID,
		Direction:         event.Direction,
		CreditCardID:      event.CreditCardID,
		CreditCardDetails: event.CardDetails,
		CVV:               event.CVV,
		Currency:          event.Currency,
	}

	payment, err := h.authorizer.AuthorizePayment(ctx, req, event.UserToken, event.MerchantID)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return AuthorizeResponse{ErrorCode: e.Code, Message: e.Message, Data: e.Data}, nil
		}
		return AuthorizeResponse{}, err
	}

	return AuthorizeResponse{Payment: payment}, nil
}
