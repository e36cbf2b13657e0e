package checkout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/processor/cardconnect"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const badGatewayPage = "<html>Bad Gateway</html>"

func TestAuthorizePayment_HTMLGatewayErrorStaysEncodable(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(badGatewayPage))
	}))
	defer gateway.Close()

	ctx := context.Background()
	repo := checkout.NewRepository()
	require.NoError(t, repo.SaveOrder(ctx, &models.Order{ID: orderID, Total: decimal.RequireFromString("38")}))
	require.NoError(t, repo.SaveCreditCard(ctx, &models.BuyerCreditCard{ID: creditCardID, Token: "tok", ExpirationDate: "3012"}))
	require.NoError(t, repo.CreatePayment(ctx, models.DirectionIncoming, &models.Payment{ID: paymentID, OrderID: orderID}))

	cfg := checkout.DefaultConfig()
	cfg.Merchants = map[string]string{"USD": usdMerchant}
	components, err := checkout.NewComponents(slog.Default(), cfg, repo, cardconnect.New(gateway.URL, "user", "secret", nil), nil)
	require.NoError(t, err)

	router := chi.NewRouter()
	checkout.NewAPI(components).AppendRoutes(router)

	w := do(t, router, http.MethodPost, "/orders/"+orderID+"/payments/authorize", "", map[string]string{"creditCardID": creditCardID, "cvv": cvv})
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body struct {
		Errors []struct {
			ErrorCode string `json:"errorCode"`
			Data      struct {
				StatusCode int    `json:"statusCode"`
				Raw        string `json:"raw"`
			} `json:"data"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	require.Equal(t, "CreditCardAuth.Unavailable", body.Errors[0].ErrorCode)
	require.Equal(t, http.StatusBadGateway, body.Errors[0].Data.StatusCode)
	require.Equal(t, badGatewayPage, body.Errors[0].Data.Raw)

	// the failed attempt is in the history and the order's payments still encode
	w = do(t, router, http.MethodGet, "/orders/"+orderID+"/payments", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var payments []struct {
		Transactions []struct {
			Succeeded   bool   `json:"succeeded"`
			RawResponse string `json:"rawResponse"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payments))
	require.Len(t, payments, 1)
	require.Len(t, payments[0].Transactions, 1)
	require.False(t, payments[0].Transactions[0].Succeeded)
	require.Equal(t, badGatewayPage, payments[0].Transactions[0].RawResponse)

	// the lambda response for the same failure serializes too
	resp, err := checkout.NewLambdaHandler(components.Reconciler).Handle(ctx, checkout.AuthorizeEvent{OrderID: orderID, CreditCardID: creditCardID, CVV: cvv})
	require.NoError(t, err)
	require.Equal(t, "CreditCardAuth.Unavailable", resp.ErrorCode)
	_, err = json.Marshal(resp)
	require.NoError(t, err)
}
