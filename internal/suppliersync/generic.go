package suppliersync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alovak/cardflow-checkout/checkout/models"
)

// GenericStrategy builds the supplier view from the outgoing supplier order and
// the incoming buyer order it was split from.
type GenericStrategy struct {
	source OrderSource
}

func NewGenericStrategy(source OrderSource) *GenericStrategy {
	return &GenericStrategy{source: source}
}

func (g *GenericStrategy) GetOrder(ctx context.Context, orderID string, orderType models.OrderType, _ Caller) (*OrderDetail, error) {
	// quote orders have no supplier worksheet
	supplierWorksheet, err := g.source.GetWorksheet(ctx, models.DirectionOutgoing, orderID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("getting supplier worksheet: %w", err)
		}
		supplierWorksheet = nil
	}

	salesOrderID := orderID
	if orderType == models.OrderTypeStandard {
		salesOrderID = strings.Split(orderID, "-")[0]
	}

	buyerWorksheet, err := g.source.GetWorksheet(ctx, models.DirectionIncoming, salesOrderID)
	if err != nil {
		return nil, fmt.Errorf("getting buyer worksheet: %w", err)
	}

	var supplierID string
	if supplierWorksheet != nil {
		supplierID = supplierWorksheet.Order.ToCompanyID
	}
	quote := buyerWorksheet.Order.IsQuote()
	if quote && len(buyerWorksheet.Order.LineItems) > 0 {
		supplierID = buyerWorksheet.Order.LineItems[0].SupplierID
	}

	detail := &OrderDetail{
		BuyerOrder: &OrderSection{
			Order:     buyerWorksheet.Order,
			LineItems: buyerWorksheet.Order.LineItemsBySupplier(supplierID),
		},
	}

	switch {
	case quote:
		detail.SupplierOrder = &OrderSection{
			Order:     buyerWorksheet.Order,
			LineItems: buyerWorksheet.Order.LineItems,
		}
	case supplierWorksheet != nil:
		detail.SupplierOrder = &OrderSection{
			Order:     supplierWorksheet.Order,
			LineItems: supplierWorksheet.Order.LineItems,
		}
	}

	var shipFrom string
	if supplierWorksheet != nil && len(supplierWorksheet.Order.LineItems) > 0 {
		shipFrom = supplierWorksheet.Order.LineItems[0].ShipFromAddressID
	}
	if estimate, ok := buyerWorksheet.MatchingShipEstimate(shipFrom); ok {
		for _, m := range estimate.ShipMethods {
			if m.ID == estimate.SelectedShipMethodID {
				m := m
				detail.ShipMethod = &m
				break
			}
		}
	}

	return detail, nil
}
