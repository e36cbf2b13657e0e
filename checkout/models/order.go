package models

import "github.com/shopspring/decimal"

// Direction selects which side of the order graph a read or write targets.
type Direction string

const (
	DirectionIncoming Direction = "Incoming"
	DirectionOutgoing Direction = "Outgoing"
)

type OrderType string

const (
	OrderTypeStandard OrderType = "standard"
	OrderTypeQuote    OrderType = "quote"
)

type Order struct {
	ID          string          `json:"id"`
	Direction   Direction       `json:"direction"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Type        OrderType       `json:"type"`
	FromUserID  string          `json:"fromUserID,omitempty"`
	ToCompanyID string          `json:"toCompanyID,omitempty"`
	LineItems   []LineItem      `json:"lineItems,omitempty"`
}

// IsQuote reports whether the order is a quote request rather than a purchase.
func (o Order) IsQuote() bool {
	return o.Type == OrderTypeQuote
}

type LineItem struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"productID"`
	SupplierID        string          `json:"supplierID"`
	ShipFromAddressID string          `json:"shipFromAddressID,omitempty"`
	Quantity          int             `json:"quantity"`
	LineTotal         decimal.Decimal `json:"lineTotal"`
}

// LineItemsBySupplier returns the line items shipped by supplierID.
func (o Order) LineItemsBySupplier(supplierID string) []LineItem {
	var out []LineItem
	for _, li := range o.LineItems {
		if li.SupplierID == supplierID {
			out = append(out, li)
		}
	}
	return out
}
