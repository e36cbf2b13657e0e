package checkout

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/suppliersync"
	"github.com/shopspring/decimal"
)

type TaxCalculator interface {
	Estimate(ctx context.Context, order models.Order) (decimal.Decimal, error)
}

type ShippingRater interface {
	Rates(ctx context.Context, order models.Order) ([]suppliersync.ShipEstimate, error)
}

type OrderCalculation struct {
	OrderID       string                      `json:"orderID"`
	Subtotal      decimal.Decimal             `json:"subtotal"`
	Tax           decimal.Decimal             `json:"tax"`
	Shipping      decimal.Decimal             `json:"shipping"`
	Total         decimal.Decimal             `json:"total"`
	ShipEstimates []suppliersync.ShipEstimate `json:"shipEstimates"`
}

// Calculator prices an order. Tax and shipping are independent of each other
// and of payment authorization, so they are fetched in parallel.
type Calculator struct {
	orders   OrderReader
	tax      TaxCalculator
	shipping ShippingRater
}

func NewCalculator(orders OrderReader, tax TaxCalculator, shipping ShippingRater) *Calculator {
	return &Calculator{orders: orders, tax: tax, shipping: shipping}
}

// CalculateOrder returns the priced order. Quotes carry no tax or shipping.
func (c *Calculator) CalculateOrder(ctx context.Context, orderID string) (*OrderCalculation, error) {
	order, err := c.orders.GetOrder(ctx, models.DirectionIncoming, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}

	subtotal := decimal.Zero
	for _, li := range order.LineItems {
		subtotal = subtotal.Add(li.LineTotal)
	}

	calc := &OrderCalculation{
		OrderID:  order.ID,
		Subtotal: subtotal,
		Tax:      decimal.Zero,
		Shipping: decimal.Zero,
		Total:    subtotal,
	}
	if order.IsQuote() {
		return calc, nil
	}

	var (
		wg       sync.WaitGroup
		tax      decimal.Decimal
		rates    []suppliersync.ShipEstimate
		taxErr   error
		ratesErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		tax, taxErr = c.tax.Estimate(ctx, *order)
	}()
	go func() {
		defer wg.Done()
		rates, ratesErr = c.shipping.Rates(ctx, *order)
	}()
	wg.Wait()

	if taxErr != nil {
		return nil, fmt.Errorf("estimating tax: %w", taxErr)
	}
	if ratesErr != nil {
		return nil, fmt.Errorf("rating shipments: %w", ratesErr)
	}

	shipping := decimal.Zero
	for _, e := range rates {
		for _, m := range e.ShipMethods {
			if m.ID == e.SelectedShipMethodID {
				shipping = shipping.Add(m.Cost)
			}
		}
	}

	calc.Tax = models.RoundAmount(tax, order.Currency)
	calc.Shipping = shipping
	calc.ShipEstimates = rates
	calc.Total = subtotal.Add(calc.Tax).Add(shipping)
	return calc, nil
}

// FlatRateTax charges Rate on the line item subtotal.
type FlatRateTax struct {
	Rate decimal.Decimal
}

func (t FlatRateTax) Estimate(_ context.Context, order models.Order) (decimal.Decimal, error) {
	subtotal := decimal.Zero
	for _, li := range order.LineItems {
		subtotal = subtotal.Add(li.LineTotal)
	}
	return subtotal.Mul(t.Rate), nil
}

// FlatRateShipping offers the same methods for every ship-from address and
// preselects the first one.
type FlatRateShipping struct {
	Methods []suppliersync.ShipMethod
}

func (s FlatRateShipping) Rates(_ context.Context, order models.Order) ([]suppliersync.ShipEstimate, error) {
	if len(s.Methods) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	for _, li := range order.LineItems {
		seen[li.ShipFromAddressID] = struct{}{}
	}
	from := make([]string, 0, len(seen))
	for id := range seen {
		from = append(from, id)
	}
	sort.Strings(from)

	estimates := make([]suppliersync.ShipEstimate, 0, len(from))
	for _, id := range from {
		estimates = append(estimates, suppliersync.ShipEstimate{
			ID:                   "est-" + id,
			ShipFromAddressID:    id,
			SelectedShipMethodID: s.Methods[0].ID,
			ShipMethods:          append([]suppliersync.ShipMethod(nil), s.Methods...),
		})
	}
	return estimates, nil
}
