package models

// User is the platform account behind an access token.
type User struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	// Currency is the preferred settlement currency; empty means the base currency.
	Currency   string `json:"currency,omitempty"`
	Seller     bool   `json:"seller,omitempty"`
	SupplierID string `json:"supplierID,omitempty"`
}
