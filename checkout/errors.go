package checkout

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alovak/cardflow-checkout/internal/processor"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type Kind string

const (
	KindValidation                Kind = "ValidationError"
	KindMissingCreditCardPayment  Kind = "MissingCreditCardPayment"
	KindFailedToVoidAuthorization Kind = "FailedToVoidAuthorization"
	KindCreditCardAuth            Kind = "CreditCardAuth"
	KindLedgerWriteFailure        Kind = "LedgerWriteFailure"
	KindNotFound                  Kind = "NotFound"
)

const (
	CodeMissingCreditCardPayment  = "Payment.MissingCreditCardPayment"
	CodeFailedToVoidAuthorization = "Payment.FailedToVoidAuthorization"
	CodeLedgerWriteFailure        = "Payment.LedgerWriteFailure"
	CodeMerchantNotConfigured     = "Payment.MerchantNotConfigured"
	CodeCVVRequired               = "CreditCard.CVVRequired"
	CodeCardExpired               = "CreditCard.Expired"
	CodeCardInvalid               = "CreditCard.Invalid"
	CodeOrderRequired             = "Order.Required"
	CodeOrderNotFound             = "Order.NotFound"
	CodeCreditCardNotFound        = "CreditCard.NotFound"

	creditCardAuthPrefix = "CreditCardAuth."
)

// Error is returned by the reconciler for every failure a caller can act on.
// Code is the stable error code shown to API clients, Data the payload that
// explains it (usually the processor response).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Data    any
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrCreditCardAuth)
// holds for every CreditCardAuth.<code>.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation                = &Error{Kind: KindValidation}
	ErrMissingCreditCardPayment  = &Error{Kind: KindMissingCreditCardPayment}
	ErrFailedToVoidAuthorization = &Error{Kind: KindFailedToVoidAuthorization}
	ErrCreditCardAuth            = &Error{Kind: KindCreditCardAuth}
	ErrLedgerWriteFailure        = &Error{Kind: KindLedgerWriteFailure}
)

func validationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// ProcessorPayload is the processor response attached to auth and void errors.
type ProcessorPayload struct {
	Op            processor.Op    `json:"op"`
	ResponseCode  string          `json:"responseCode,omitempty"`
	ResponseText  string          `json:"responseText,omitempty"`
	ReferenceCode string          `json:"referenceCode,omitempty"`
	StatusCode    int             `json:"statusCode,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

func payloadOf(pe *processor.Error) ProcessorPayload {
	p := ProcessorPayload{
		Op:           pe.Op,
		ResponseCode: pe.Code,
		ResponseText: pe.Message,
		StatusCode:   pe.StatusCode,
		Raw:          processor.RawJSON(pe.Raw),
	}
	if pe.Result != nil {
		p.ReferenceCode = pe.Result.ReferenceCode
	}
	return p
}

func creditCardAuthError(pe *processor.Error) *Error {
	code := pe.Code
	if code == "" {
		code = "Unavailable"
	}
	return &Error{
		Kind:    KindCreditCardAuth,
		Code:    creditCardAuthPrefix + code,
		Message: nonEmpty(pe.Message, "credit card authorization failed"),
		Data:    payloadOf(pe),
		Err:     pe,
	}
}

func voidError(pe *processor.Error) *Error {
	return &Error{
		Kind:    KindFailedToVoidAuthorization,
		Code:    CodeFailedToVoidAuthorization,
		Message: nonEmpty(pe.Message, "failed to void the existing authorization"),
		Data:    payloadOf(pe),
		Err:     pe,
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
