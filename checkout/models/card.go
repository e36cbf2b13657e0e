package models

type Address struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Street1   string `json:"street1,omitempty"`
	Street2   string `json:"street2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// BuyerCreditCard is a card on file at the platform, referenced by token.
type BuyerCreditCard struct {
	ID             string `json:"id"`
	UserID         string `json:"userID,omitempty"`
	Token          string `json:"token"`
	ExpirationDate string `json:"expirationDate"` // YYMM
	CardholderName string `json:"cardholderName,omitempty"`
	// PartialAccountNumber holds the last four digits only.
	PartialAccountNumber string  `json:"partialAccountNumber,omitempty"`
	BillingAddress       Address `json:"billingAddress"`
	// Editable is true for cards entered ad hoc; saved cards are not editable.
	Editable bool `json:"editable"`
}

// CreditCardDetails is a raw card entry supplied instead of a saved token.
type CreditCardDetails struct {
	AccountNumber  string `json:"accountNumber"`
	ExpirationDate string `json:"expirationDate"` // MM/YY or MMYY as printed
	CardholderName string `json:"cardholderName,omitempty"`
}

// CCPayment is a request to authorize the credit card payment of an order.
type CCPayment struct {
	OrderID           string             `json:"orderID"`
	Direction         Direction          `json:"direction,omitempty"`
	CreditCardID      string             `json:"creditCardID,omitempty"`
	CreditCardDetails *CreditCardDetails `json:"creditCardDetails,omitempty"`
	CVV               string             `json:"cvv,omitempty"`
	Currency          string             `json:"currency,omitempty"`
	MerchantID        string             `json:"merchantID,omitempty"`
}

// HasValidCVV applies the CVV policy: raw entries and editable cards both need a CVV,
// saved non-editable cards do not.
func (p CCPayment) HasValidCVV(card BuyerCreditCard) bool {
	hasCVV := p.CVV != ""
	return (p.CreditCardDetails == nil || hasCVV) && (!card.Editable || hasCVV)
}
