package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const PaymentTypeCreditCard PaymentType = "CreditCard"

// Acceptance is the authorization state of a payment. On the wire it is the
// nullable "accepted" flag: null, true or false.
type Acceptance int

const (
	Undecided Acceptance = iota
	Authorized
	Declined
)

func (a Acceptance) String() string {
	switch a {
	case Authorized:
		return "Authorized"
	case Declined:
		return "Declined"
	default:
		return "Undecided"
	}
}

// AcceptanceFromBool maps a succeeded/failed authorization to its state.
func AcceptanceFromBool(accepted bool) Acceptance {
	if accepted {
		return Authorized
	}
	return Declined
}

// Bool returns the nullable flag form of a.
func (a Acceptance) Bool() *bool {
	switch a {
	case Authorized:
		v := true
		return &v
	case Declined:
		v := false
		return &v
	default:
		return nil
	}
}

// AcceptanceFromPtr is the inverse of Bool.
func AcceptanceFromPtr(accepted *bool) Acceptance {
	if accepted == nil {
		return Undecided
	}
	return AcceptanceFromBool(*accepted)
}

func (a Acceptance) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Bool())
}

func (a *Acceptance) UnmarshalJSON(b []byte) error {
	var v *bool
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("accepted must be null, true or false: %w", err)
	}
	*a = AcceptanceFromPtr(v)
	return nil
}

type Payment struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"orderID"`
	Type         PaymentType     `json:"type"`
	CreditCardID string          `json:"creditCardID,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	Accepted     Acceptance      `json:"accepted"`
	Transactions History         `json:"transactions"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// IsSettledFor reports whether the payment is already authorized for total.
func (p Payment) IsSettledFor(total decimal.Decimal, currency string) bool {
	return p.Accepted == Authorized && AmountsEqual(p.Amount, total, currency)
}

// PaymentPatch is a partial update of a payment. Nil fields are left untouched.
type PaymentPatch struct {
	Accepted *Acceptance
	Amount   *decimal.Decimal
}

// Apply returns a copy of p with the patch applied.
func (pp PaymentPatch) Apply(p Payment) Payment {
	if pp.Accepted != nil {
		p.Accepted = *pp.Accepted
	}
	if pp.Amount != nil {
		p.Amount = *pp.Amount
	}
	return p
}
