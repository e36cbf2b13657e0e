// Package suppliersync exposes an order to the supplier that fulfils it. Each
// supplier may register its own Strategy; suppliers without one are served by
// the Generic strategy.
package suppliersync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/shopspring/decimal"
)

// GenericSupplierID is the registry key of the fallback strategy.
const GenericSupplierID = "Generic"

var (
	ErrUnauthorized = errors.New("not authorized to view this order")
	ErrNotFound     = errors.New("order not found")
)

// Caller is the authenticated user asking for an order.
type Caller struct {
	UserID     string
	Seller     bool
	SupplierID string
}

type ShipMethod struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Cost                 decimal.Decimal `json:"cost"`
	EstimatedTransitDays int             `json:"estimatedTransitDays"`
}

type ShipEstimate struct {
	ID                   string       `json:"id"`
	ShipFromAddressID    string       `json:"shipFromAddressID"`
	SelectedShipMethodID string       `json:"selectedShipMethodID"`
	ShipMethods          []ShipMethod `json:"shipMethods"`
}

// Worksheet is an order with the shipping estimates computed for it.
type Worksheet struct {
	Order         models.Order
	ShipEstimates []ShipEstimate
}

// MatchingShipEstimate returns the estimate for the given ship-from address.
func (w Worksheet) MatchingShipEstimate(shipFromAddressID string) (ShipEstimate, bool) {
	for _, e := range w.ShipEstimates {
		if e.ShipFromAddressID == shipFromAddressID {
			return e, true
		}
	}
	return ShipEstimate{}, false
}

// OrderSource reads worksheets. Missing orders are reported with ErrNotFound.
type OrderSource interface {
	GetWorksheet(ctx context.Context, dir models.Direction, orderID string) (*Worksheet, error)
}

type OrderSection struct {
	Order     models.Order      `json:"order"`
	LineItems []models.LineItem `json:"lineItems"`
}

type OrderDetail struct {
	SupplierOrder *OrderSection `json:"supplierOrder,omitempty"`
	BuyerOrder    *OrderSection `json:"buyerOrder,omitempty"`
	ShipMethod    *ShipMethod   `json:"shipMethod,omitempty"`
}

type Strategy interface {
	GetOrder(ctx context.Context, orderID string, orderType models.OrderType, caller Caller) (*OrderDetail, error)
}

type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry fails when no Generic strategy is registered, so every lookup
// has somewhere to land.
func NewRegistry(strategies map[string]Strategy) (*Registry, error) {
	if strategies[GenericSupplierID] == nil {
		return nil, fmt.Errorf("supplier sync registry requires a %q strategy", GenericSupplierID)
	}

	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for id, s := range strategies {
		r.strategies[id] = s
	}
	return r, nil
}

// Lookup returns the strategy of supplierID or the Generic one.
func (r *Registry) Lookup(supplierID string) Strategy {
	if s, ok := r.strategies[supplierID]; ok && s != nil {
		return s
	}
	return r.strategies[GenericSupplierID]
}

type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// SupplierIDFromOrderID returns the second dash segment of a supplier order ID
// ("SO1-SUPP2" -> "SUPP2"). Quote IDs often have no dash and are returned whole.
func SupplierIDFromOrderID(orderID string) string {
	parts := strings.Split(orderID, "-")
	if len(parts) > 1 {
		return parts[1]
	}
	return orderID
}

func (d *Dispatcher) GetOrder(ctx context.Context, orderID string, orderType models.OrderType, caller Caller) (*OrderDetail, error) {
	supplierID := SupplierIDFromOrderID(orderID)

	if orderType != models.OrderTypeQuote && !caller.Seller && caller.SupplierID != supplierID {
		return nil, ErrUnauthorized
	}

	detail, err := d.registry.Lookup(supplierID).GetOrder(ctx, orderID, orderType, caller)
	if err != nil {
		return nil, fmt.Errorf("getting order %s for supplier %s: %w", orderID, supplierID, err)
	}

	return detail, nil
}
