package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/cardutil"
	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/alovak/cardflow-checkout/internal/processor/processortest"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type apiErrors struct {
	Errors []struct {
		ErrorCode string          `json:"errorCode"`
		Message   string          `json:"message"`
		Data      json.RawMessage `json:"data"`
	} `json:"errors"`
}

func newTestAPI(t *testing.T) (chi.Router, *checkout.Repository, *processortest.Fake) {
	t.Helper()

	cfg := checkout.DefaultConfig()
	cfg.Merchants = map[string]string{"USD": usdMerchant, "CAD": cadMerchant}
	cfg.Pricing.TaxRate = "0.1"
	cfg.Pricing.ShippingFlat = "5"

	repo := checkout.NewRepository()
	proc := &processortest.Fake{}
	components, err := checkout.NewComponents(slog.Default(), cfg, repo, proc, nil)
	require.NoError(t, err)

	router := chi.NewRouter()
	api := checkout.NewAPI(components)
	api.AppendRoutes(router)
	api.AppendDevRoutes(router)

	return router, repo, proc
}

func do(t *testing.T, router chi.Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPI_AuthorizeFlow(t *testing.T) {
	router, _, proc := newTestAPI(t)

	w := do(t, router, http.MethodPost, "/dev/users", "", models.User{ID: "buyer1", Token: userToken})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, http.MethodPost, "/dev/cards", "", models.BuyerCreditCard{ID: creditCardID, UserID: "buyer1", Token: "tok", ExpirationDate: "3012"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, http.MethodPost, "/dev/orders", "", models.Order{ID: orderID, Total: decimal.RequireFromString("38")})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("missing payment", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/orders/"+orderID+"/payments/authorize", userToken, map[string]string{"creditCardID": creditCardID, "cvv": cvv})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var body apiErrors
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Errors, 1)
		require.Equal(t, checkout.CodeMissingCreditCardPayment, body.Errors[0].ErrorCode)
	})

	w = do(t, router, http.MethodPost, "/dev/orders/"+orderID+"/payments", "", models.Payment{ID: paymentID, CreditCardID: creditCardID})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("authorized", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/orders/"+orderID+"/payments/authorize", userToken, map[string]string{"creditCardID": creditCardID, "cvv": cvv})
		require.Equal(t, http.StatusOK, w.Code)

		var payment models.Payment
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
		require.Equal(t, models.Authorized, payment.Accepted)
		require.True(t, payment.Amount.Equal(decimal.RequireFromString("38")))
		require.Len(t, payment.Transactions, 1)
		require.Contains(t, w.Body.String(), `"accepted":true`)
	})

	t.Run("list payments", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/orders/"+orderID+"/payments", "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var payments []models.Payment
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payments))
		require.Len(t, payments, 1)
	})

	require.Equal(t, []processor.Op{processor.OpAuthorize}, proc.Ops())
}

func TestAPI_DeclineMapsToPaymentRequired(t *testing.T) {
	router, repo, proc := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveOrder(ctx, &models.Order{ID: orderID, Total: decimal.RequireFromString("38")}))
	require.NoError(t, repo.SaveCreditCard(ctx, &models.BuyerCreditCard{ID: creditCardID, Token: "tok"}))
	require.NoError(t, repo.CreatePayment(ctx, models.DirectionIncoming, &models.Payment{ID: paymentID, OrderID: orderID}))

	proc.AuthorizeFn = func(ctx context.Context, req processor.AuthorizationRequest) (*processor.AuthorizationResult, error) {
		return nil, processor.Declined(processor.OpAuthorize, processor.Result{ResponseCode: "05", ResponseText: "Do not honor"})
	}

	w := do(t, router, http.MethodPost, "/orders/"+orderID+"/payments/authorize", "", map[string]string{"creditCardID": creditCardID})
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body apiErrors
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "CreditCardAuth.05", body.Errors[0].ErrorCode)
	require.Equal(t, "Do not honor", body.Errors[0].Message)
}

func TestAPI_CVVRequiredIsBadRequest(t *testing.T) {
	router, repo, proc := newTestAPI(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveCreditCard(ctx, &models.BuyerCreditCard{ID: creditCardID, Token: "tok", Editable: true}))

	w := do(t, router, http.MethodPost, "/orders/"+orderID+"/payments/authorize", "", map[string]string{"creditCardID": creditCardID})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), checkout.CodeCVVRequired)
	require.Empty(t, proc.Calls())
}

func TestAPI_CalculateOrder(t *testing.T) {
	router, repo, _ := newTestAPI(t)
	require.NoError(t, repo.SaveOrder(context.Background(), &models.Order{
		ID:       orderID,
		Currency: "USD",
		LineItems: []models.LineItem{
			{ID: "li1", SupplierID: "SUPP1", ShipFromAddressID: "addr1", Quantity: 1, LineTotal: decimal.RequireFromString("20")},
			{ID: "li2", SupplierID: "SUPP2", ShipFromAddressID: "addr2", Quantity: 2, LineTotal: decimal.RequireFromString("10")},
		},
	}))

	w := do(t, router, http.MethodGet, "/orders/"+orderID+"/calculate", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var calc checkout.OrderCalculation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &calc))
	require.True(t, calc.Subtotal.Equal(decimal.RequireFromString("30")))
	require.True(t, calc.Tax.Equal(decimal.RequireFromString("3")))
	require.True(t, calc.Shipping.Equal(decimal.RequireFromString("10")))
	require.True(t, calc.Total.Equal(decimal.RequireFromString("43")))
	require.Len(t, calc.ShipEstimates, 2)
}

func TestAPI_SupplierOrder(t *testing.T) {
	router, repo, _ := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveUser(ctx, &models.User{ID: "u-supp", Token: "supp-token", SupplierID: "SUPP1"}))
	require.NoError(t, repo.SaveUser(ctx, &models.User{ID: "u-other", Token: "other-token", SupplierID: "SUPP9"}))
	require.NoError(t, repo.SaveOrder(ctx, &models.Order{
		ID:        "SO1",
		Direction: models.DirectionIncoming,
		LineItems: []models.LineItem{{ID: "li1", SupplierID: "SUPP1", ShipFromAddressID: "addr1", LineTotal: decimal.NewFromInt(20)}},
	}))
	require.NoError(t, repo.SaveOrder(ctx, &models.Order{
		ID:          "SO1-SUPP1",
		Direction:   models.DirectionOutgoing,
		ToCompanyID: "SUPP1",
		LineItems:   []models.LineItem{{ID: "li1", SupplierID: "SUPP1", ShipFromAddressID: "addr1", LineTotal: decimal.NewFromInt(20)}},
	}))

	w := do(t, router, http.MethodGet, "/supplier-orders/SO1-SUPP1", "supp-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"shipMethod"`)

	w = do(t, router, http.MethodGet, "/supplier-orders/SO1-SUPP1", "other-token", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, checkout.StatusCode(checkout.KindValidation))
	require.Equal(t, http.StatusUnprocessableEntity, checkout.StatusCode(checkout.KindMissingCreditCardPayment))
	require.Equal(t, http.StatusPaymentRequired, checkout.StatusCode(checkout.KindFailedToVoidAuthorization))
	require.Equal(t, http.StatusPaymentRequired, checkout.StatusCode(checkout.KindCreditCardAuth))
	require.Equal(t, http.StatusServiceUnavailable, checkout.StatusCode(checkout.KindLedgerWriteFailure))
	require.Equal(t, http.StatusNotFound, checkout.StatusCode(checkout.KindNotFound))
}

func TestAPI_DevCardWithoutTokenGetsTestNumber(t *testing.T) {
	router, repo, _ := newTestAPI(t)

	w := do(t, router, http.MethodPost, "/dev/cards", "", models.BuyerCreditCard{ID: "sandbox1", ExpirationDate: "3012"})
	require.Equal(t, http.StatusCreated, w.Code)

	card, err := repo.GetCreditCard(context.Background(), "sandbox1", "")
	require.NoError(t, err)
	require.Len(t, card.Token, 16)
	require.Equal(t, "411111", card.Token[:6])
	require.NoError(t, cardutil.ValidatePAN(card.Token))
	require.Equal(t, card.Token[12:], card.PartialAccountNumber)
}
