package checkout_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/suppliersync"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type taxFunc func(ctx context.Context, order models.Order) (decimal.Decimal, error)

func (f taxFunc) Estimate(ctx context.Context, order models.Order) (decimal.Decimal, error) {
	return f(ctx, order)
}

type ratesFunc func(ctx context.Context, order models.Order) ([]suppliersync.ShipEstimate, error)

func (f ratesFunc) Rates(ctx context.Context, order models.Order) ([]suppliersync.ShipEstimate, error) {
	return f(ctx, order)
}

func seedOrder(t *testing.T, orderType models.OrderType) *checkout.Repository {
	t.Helper()
	repo := checkout.NewRepository()
	require.NoError(t, repo.SaveOrder(context.Background(), &models.Order{
		ID:   orderID,
		Type: orderType,
		LineItems: []models.LineItem{
			{ID: "li1", ShipFromAddressID: "addr1", LineTotal: decimal.RequireFromString("12.50")},
		},
	}))
	return repo
}

func TestCalculateOrder_QuoteHasNoTaxOrShipping(t *testing.T) {
	repo := seedOrder(t, models.OrderTypeQuote)
	called := false
	tax := taxFunc(func(context.Context, models.Order) (decimal.Decimal, error) {
		called = true
		return decimal.NewFromInt(1), nil
	})
	rates := ratesFunc(func(context.Context, models.Order) ([]suppliersync.ShipEstimate, error) {
		called = true
		return nil, nil
	})

	calc, err := checkout.NewCalculator(repo, tax, rates).CalculateOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.False(t, called)
	require.True(t, calc.Tax.IsZero())
	require.True(t, calc.Total.Equal(decimal.RequireFromString("12.50")))
}

func TestCalculateOrder_RunsTaxAndShippingConcurrently(t *testing.T) {
	repo := seedOrder(t, models.OrderTypeStandard)

	// each side waits for the other to start, so a sequential implementation would deadlock
	taxStarted := make(chan struct{})
	ratesStarted := make(chan struct{})
	tax := taxFunc(func(context.Context, models.Order) (decimal.Decimal, error) {
		close(taxStarted)
		<-ratesStarted
		return decimal.RequireFromString("1.25"), nil
	})
	rates := ratesFunc(func(context.Context, models.Order) ([]suppliersync.ShipEstimate, error) {
		close(ratesStarted)
		<-taxStarted
		return []suppliersync.ShipEstimate{{
			ShipFromAddressID:    "addr1",
			SelectedShipMethodID: "ground",
			ShipMethods: []suppliersync.ShipMethod{
				{ID: "air", Cost: decimal.NewFromInt(20)},
				{ID: "ground", Cost: decimal.NewFromInt(7)},
			},
		}}, nil
	})

	calc, err := checkout.NewCalculator(repo, tax, rates).CalculateOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.True(t, calc.Shipping.Equal(decimal.NewFromInt(7)))
	require.True(t, calc.Total.Equal(decimal.RequireFromString("20.75")))
}

func TestCalculateOrder_PropagatesErrors(t *testing.T) {
	repo := seedOrder(t, models.OrderTypeStandard)
	boom := errors.New("tax engine down")

	tax := taxFunc(func(context.Context, models.Order) (decimal.Decimal, error) { return decimal.Zero, boom })
	rates := checkout.FlatRateShipping{}

	_, err := checkout.NewCalculator(repo, tax, rates).CalculateOrder(context.Background(), orderID)
	require.ErrorIs(t, err, boom)

	_, err = checkout.NewCalculator(repo, tax, rates).CalculateOrder(context.Background(), "missing")
	require.ErrorIs(t, err, checkout.ErrNotFound)
}
