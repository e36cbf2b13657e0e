package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CurrencyResolver picks the settlement currency of a buyer and the merchant
// account the processor knows for that currency.
type CurrencyResolver struct {
	users     UserReader
	base      string
	merchants map[string]string
}

func NewCurrencyResolver(users UserReader, baseCurrency string, merchants map[string]string) *CurrencyResolver {
	m := make(map[string]string, len(merchants))
	for cur, id := range merchants {
		m[strings.ToUpper(cur)] = id
	}
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &CurrencyResolver{
		users:     users,
		base:      strings.ToUpper(baseCurrency),
		merchants: m,
	}
}

// Resolve returns the buyer's currency, defaulting to the base currency, and
// its merchant ID. Unknown tokens resolve to the base currency as well. The
// currency is still returned when no merchant is configured for it.
func (c *CurrencyResolver) Resolve(ctx context.Context, userToken string) (string, string, error) {
	currency := c.base

	if c.users != nil && userToken != "" {
		user, err := c.users.GetUser(ctx, userToken)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return "", "", fmt.Errorf("getting user currency: %w", err)
		case user.Currency != "":
			currency = strings.ToUpper(user.Currency)
		}
	}

	merchantID, err := c.MerchantFor(currency)
	if err != nil {
		return currency, "", err
	}

	return currency, merchantID, nil
}

func (c *CurrencyResolver) MerchantFor(currency string) (string, error) {
	id, ok := c.merchants[strings.ToUpper(currency)]
	if !ok || id == "" {
		return "", validationError(CodeMerchantNotConfigured, fmt.Sprintf("no merchant account configured for %s", currency))
	}
	return id, nil
}

func (c *CurrencyResolver) BaseCurrency() string {
	return c.base
}
