package models_test

import (
	"encoding/json"
	"testing"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func tx(typ models.TransactionType, ok bool, ref string) models.Transaction {
	return models.Transaction{Type: typ, Succeeded: ok, ReferenceCode: ref, Amount: decimal.NewFromInt(30)}
}

func TestLatestLiveAuthorization(t *testing.T) {
	auth := models.TransactionTypeAuthorization
	void := models.TransactionTypeVoidAuthorization

	cases := []struct {
		name    string
		history models.History
		wantRef string
		wantOK  bool
	}{
		{"empty", nil, "", false},
		{"single auth", models.History{tx(auth, true, "retref1")}, "retref1", true},
		{"failed auth only", models.History{tx(auth, false, "retref1")}, "", false},
		{"auth then void", models.History{tx(auth, true, "retref1"), tx(void, true, "retref1")}, "", false},
		{"auth then failed void", models.History{tx(auth, true, "retref1"), tx(void, false, "retref1")}, "retref1", true},
		{"auth void auth", models.History{tx(auth, true, "retref1"), tx(void, true, "retref2"), tx(auth, true, "retref3")}, "retref3", true},
		{"auth then failed reauth", models.History{tx(auth, true, "retref1"), tx(auth, false, "")}, "retref1", true},
		{"capture ignored", models.History{tx(auth, true, "retref1"), tx(models.TransactionTypeCapture, true, "retref1")}, "retref1", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := c.history.LatestLiveAuthorization()
			require.Equal(t, c.wantOK, ok)
			require.Equal(t, c.wantRef, got.ReferenceCode)
		})
	}
}

func TestHistoryAppendKeepsOrderAndReceiver(t *testing.T) {
	var h models.History
	for i := 0; i < 5; i++ {
		next := h.Append(models.Transaction{ID: string(rune('a' + i))})
		require.Len(t, h, i)
		h = next
	}

	require.Len(t, h, 5)
	for i, tx := range h {
		require.Equal(t, string(rune('a'+i)), tx.ID)
	}
}

func TestAcceptanceJSON(t *testing.T) {
	for _, a := range []models.Acceptance{models.Undecided, models.Authorized, models.Declined} {
		b, err := json.Marshal(a)
		require.NoError(t, err)

		var got models.Acceptance
		require.NoError(t, json.Unmarshal(b, &got))
		require.Equal(t, a, got)
	}

	b, _ := json.Marshal(models.Undecided)
	require.Equal(t, "null", string(b))
}

func TestAmountsEqual(t *testing.T) {
	require.True(t, models.AmountsEqual(decimal.RequireFromString("38"), decimal.RequireFromString("38.001"), "USD"))
	require.False(t, models.AmountsEqual(decimal.RequireFromString("38"), decimal.RequireFromString("38.01"), "USD"))
	require.True(t, models.AmountsEqual(decimal.RequireFromString("1000"), decimal.RequireFromString("1000.4"), "JPY"))
}

func TestHasValidCVV(t *testing.T) {
	saved := models.BuyerCreditCard{Editable: false}
	editable := models.BuyerCreditCard{Editable: true}
	raw := &models.CreditCardDetails{AccountNumber: "4111111111111111"}

	require.True(t, models.CCPayment{}.HasValidCVV(saved))
	require.False(t, models.CCPayment{}.HasValidCVV(editable))
	require.True(t, models.CCPayment{CVV: "112"}.HasValidCVV(editable))
	require.False(t, models.CCPayment{CreditCardDetails: raw}.HasValidCVV(saved))
	require.True(t, models.CCPayment{CreditCardDetails: raw, CVV: "112"}.HasValidCVV(saved))
}
