package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/suppliersync"
)

// WorksheetSource serves orders with their ship estimates to the supplier
// sync strategies.
type WorksheetSource struct {
	orders   OrderReader
	shipping ShippingRater
}

var _ suppliersync.OrderSource = (*WorksheetSource)(nil)

func NewWorksheetSource(orders OrderReader, shipping ShippingRater) *WorksheetSource {
	return &WorksheetSource{orders: orders, shipping: shipping}
}

func (w *WorksheetSource) GetWorksheet(ctx context.Context, dir models.Direction, orderID string) (*suppliersync.Worksheet, error) {
	order, err := w.orders.GetOrder(ctx, dir, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s order %s: %w", dir, orderID, suppliersync.ErrNotFound)
		}
		return nil, err
	}

	ws := &suppliersync.Worksheet{Order: *order}
	if w.shipping != nil && !order.IsQuote() {
		estimates, err := w.shipping.Rates(ctx, *order)
		if err != nil {
			return nil, fmt.Errorf("rating shipments: %w", err)
		}
		ws.ShipEstimates = estimates
	}
	return ws, nil
}
