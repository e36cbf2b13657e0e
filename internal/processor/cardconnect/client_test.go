package cardconnect_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/alovak/cardflow-checkout/internal/processor/cardconnect"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, respstat string) (*httptest.Server, *[]map[string]string) {
	t.Helper()
	var received []map[string]string

	r := chi.NewRouter()
	handle := func(retref string) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			user, pass, ok := req.BasicAuth()
			require.True(t, ok)
			require.Equal(t, "user", user)
			require.Equal(t, "secret", pass)

			body := map[string]string{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			received = append(received, body)

			ref := body["retref"]
			if ref == "" {
				ref = retref
			}
			json.NewEncoder(w).Encode(map[string]string{
				"respstat": respstat,
				"retref":   ref,
				"amount":   body["amount"],
				"respcode": map[string]string{"A": "00", "C": "05"}[respstat],
				"resptext": map[string]string{"A": "Approval", "C": "Do not honor"}[respstat],
				"authcode": "PPS568",
			})
		}
	}
	r.Put("/auth", handle("343005123105"))
	r.Put("/void", handle(""))
	r.Put("/capture", handle(""))
	r.Put("/refund", handle("343005123999"))
	r.Get("/inquire/{retref}/{merchid}", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"respstat": respstat,
			"retref":   chi.URLParam(req, "retref"),
			"merchid":  chi.URLParam(req, "merchid"),
			"setlstat": "Authorized",
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestAuthorizeApproved(t *testing.T) {
	srv, received := newGateway(t, "A")
	client := cardconnect.New(srv.URL, "user", "secret", nil)

	res, err := client.Authorize(context.Background(), processor.AuthorizationRequest{
		MerchantID: "123",
		Currency:   "CAD",
		Amount:     decimal.NewFromInt(38),
		OrderID:    "mockOrderID",
		Card:       processor.Card{Token: "mockCcToken", ExpirationDate: "2712", CVV: "112"},
		Billing:    models.Address{Street1: "1 Main St", Zip: "55401", Country: "US"},
	})
	require.NoError(t, err)
	require.True(t, res.Succeeded)
	require.Equal(t, "343005123105", res.ReferenceCode)
	require.True(t, res.Amount.Equal(decimal.NewFromInt(38)))
	require.NotEmpty(t, res.Raw)

	require.Len(t, *received, 1)
	got := (*received)[0]
	require.Equal(t, "123", got["merchid"])
	require.Equal(t, "mockCcToken", got["account"])
	require.Equal(t, "1227", got["expiry"])
	require.Equal(t, "38.00", got["amount"])
	require.Equal(t, "CAD", got["currency"])
	require.Equal(t, "N", got["capture"])
	require.Equal(t, "112", got["cvv2"])
}

func TestAuthorizeDeclinedCarriesPayload(t *testing.T) {
	srv, _ := newGateway(t, "C")
	client := cardconnect.New(srv.URL, "user", "secret", nil)

	_, err := client.Authorize(context.Background(), processor.AuthorizationRequest{
		MerchantID: "123",
		Currency:   "USD",
		Amount:     decimal.NewFromInt(38),
		Card:       processor.Card{Token: "tok"},
	})
	require.Error(t, err)

	var perr *processor.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, processor.OpAuthorize, perr.Op)
	require.Equal(t, "05", perr.Code)
	require.Equal(t, "Do not honor", perr.Message)
	require.NotNil(t, perr.Result)
	require.Equal(t, "343005123105", perr.Result.ReferenceCode)
	require.NotEmpty(t, perr.Raw)
}

func TestVoidTargetsReference(t *testing.T) {
	srv, received := newGateway(t, "A")
	client := cardconnect.New(srv.URL, "user", "secret", nil)

	res, err := client.Void(context.Background(), processor.VoidRequest{MerchantID: "123", Currency: "CAD", ReferenceCode: "retref1"})
	require.NoError(t, err)
	require.Equal(t, "retref1", res.ReferenceCode)

	got := (*received)[0]
	require.Equal(t, "retref1", got["retref"])
	require.Equal(t, "CAD", got["currency"])
	_, hasAmount := got["amount"]
	require.False(t, hasAmount)
}

func TestInquire(t *testing.T) {
	srv, _ := newGateway(t, "A")
	client := cardconnect.New(srv.URL, "user", "secret", nil)

	res, err := client.Inquire(context.Background(), processor.InquireRequest{MerchantID: "123", ReferenceCode: "retref9"})
	require.NoError(t, err)
	require.Equal(t, "retref9", res.ReferenceCode)
	require.Equal(t, "Authorized", res.Status)
}

func TestHTTPErrorKeepsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := cardconnect.New(srv.URL, "user", "wrong", nil)
	_, err := client.Capture(context.Background(), processor.CaptureRequest{MerchantID: "123", ReferenceCode: "r", Amount: decimal.NewFromInt(1)})

	var perr *processor.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	require.Contains(t, string(perr.Raw), "unauthorized")
}

func TestHTMLErrorPageIsKeptAsJSONString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>Bad Gateway</html>"))
	}))
	defer srv.Close()

	client := cardconnect.New(srv.URL, "user", "secret", nil)
	_, err := client.Authorize(context.Background(), processor.AuthorizationRequest{MerchantID: "123", Currency: "USD", Amount: decimal.NewFromInt(38)})

	var perr *processor.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusBadGateway, perr.StatusCode)
	require.True(t, json.Valid(perr.Raw))

	var body string
	require.NoError(t, json.Unmarshal(perr.Raw, &body))
	require.Equal(t, "<html>Bad Gateway</html>", body)
}
