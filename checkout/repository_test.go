package checkout_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"
)

// testLedgerRoundTrip appends N transactions and expects to read them back in
// the same order, whatever the backend.
func testLedgerRoundTrip(t *testing.T, store checkout.Store) {
	ctx := context.Background()
	order := &models.Order{ID: "SO-" + uuid.New().String()[:8], Total: decimal.RequireFromString("38.00"), Currency: "USD"}
	require.NoError(t, store.SaveOrder(ctx, order))

	payment := &models.Payment{
		ID:       uuid.New().String(),
		OrderID:  order.ID,
		Amount:   decimal.RequireFromString("38.00"),
		Currency: "USD",
	}
	require.NoError(t, store.CreatePayment(ctx, models.DirectionIncoming, payment))

	const n = 5
	executed := time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)
	var want []string
	for i := 0; i < n; i++ {
		typ := models.TransactionTypeAuthorization
		if i%2 == 1 {
			typ = models.TransactionTypeVoidAuthorization
		}
		tx := models.Transaction{
			ID:            uuid.New().String(),
			Type:          typ,
			Succeeded:     i != 3,
			Amount:        decimal.RequireFromString("38.00"),
			Currency:      "USD",
			ReferenceCode: fmt.Sprintf("retref%d", i),
			RawResponse:   []byte(fmt.Sprintf(`{"retref":"retref%d"}`, i)),
			DateExecuted:  executed.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.AppendTransaction(ctx, models.DirectionIncoming, order.ID, payment.ID, tx))
		want = append(want, tx.ID)
	}

	payments, err := store.ListCreditCardPayments(ctx, models.DirectionIncoming, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)

	history := payments[0].Transactions
	require.Equal(t, n, history.Len())
	for i, tx := range history {
		require.Equal(t, want[i], tx.ID)
		require.Equal(t, fmt.Sprintf("retref%d", i), tx.ReferenceCode)
		require.True(t, tx.Amount.Equal(decimal.RequireFromString("38")))
		require.JSONEq(t, fmt.Sprintf(`{"retref":"retref%d"}`, i), string(tx.RawResponse))
	}

	// a retried append of the same transaction is rejected
	err = store.AppendTransaction(ctx, models.DirectionIncoming, order.ID, payment.ID, history[0])
	require.ErrorIs(t, err, checkout.ErrConflict)

	accepted := models.Declined
	amount := decimal.RequireFromString("40.50")
	patched, err := store.PatchPayment(ctx, models.DirectionIncoming, order.ID, payment.ID, models.PaymentPatch{Accepted: &accepted, Amount: &amount})
	require.NoError(t, err)
	require.Equal(t, models.Declined, patched.Accepted)
	require.True(t, patched.Amount.Equal(amount))
	require.Equal(t, n, patched.Transactions.Len())

	// a nil field leaves the value alone
	undecided := models.Undecided
	patched, err = store.PatchPayment(ctx, models.DirectionIncoming, order.ID, payment.ID, models.PaymentPatch{Accepted: &undecided})
	require.NoError(t, err)
	require.Equal(t, models.Undecided, patched.Accepted)
	require.True(t, patched.Amount.Equal(amount))

	_, err = store.PatchPayment(ctx, models.DirectionIncoming, order.ID, "missing", models.PaymentPatch{Amount: &amount})
	require.ErrorIs(t, err, checkout.ErrNotFound)

	_, err = store.GetOrder(ctx, models.DirectionOutgoing, order.ID)
	require.ErrorIs(t, err, checkout.ErrNotFound)
}

func TestRepository_LedgerRoundTrip(t *testing.T) {
	testLedgerRoundTrip(t, checkout.NewRepository())
}

func TestRepository_CreditCardOwnership(t *testing.T) {
	repo := checkout.NewRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveUser(ctx, &models.User{ID: "u1", Token: "t1"}))
	require.NoError(t, repo.SaveUser(ctx, &models.User{ID: "u2", Token: "t2"}))
	require.NoError(t, repo.SaveCreditCard(ctx, &models.BuyerCreditCard{ID: "cc1", UserID: "u1", Token: "tok"}))

	card, err := repo.GetCreditCard(ctx, "cc1", "t1")
	require.NoError(t, err)
	require.Equal(t, "tok", card.Token)

	_, err = repo.GetCreditCard(ctx, "cc1", "t2")
	require.ErrorIs(t, err, checkout.ErrNotFound)

	_, err = repo.GetCreditCard(ctx, "cc1", "unknown")
	require.ErrorIs(t, err, checkout.ErrNotFound)
}

func TestRepository_ListsOnlyCreditCardPayments(t *testing.T) {
	repo := checkout.NewRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreatePayment(ctx, models.DirectionIncoming, &models.Payment{ID: "p1", OrderID: "o1"}))
	require.NoError(t, repo.CreatePayment(ctx, models.DirectionIncoming, &models.Payment{ID: "p2", OrderID: "o1", Type: "PurchaseOrder"}))
	require.ErrorIs(t, repo.CreatePayment(ctx, models.DirectionIncoming, &models.Payment{ID: "p1", OrderID: "o1"}), checkout.ErrConflict)

	payments, err := repo.ListCreditCardPayments(ctx, models.DirectionIncoming, "o1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, "p1", payments[0].ID)
}

// Skips unless DB_DSN is provided.
func TestPGRepository_LedgerRoundTrip(t *testing.T) {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set; skipping DB integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())

	repo := checkout.NewPGRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))

	testLedgerRoundTrip(t, repo)
}

// Skips unless MONGO_URI is provided.
func TestMongoStore_LedgerRoundTrip(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set; skipping mongo integration test")
	}

	ctx := context.Background()
	store, err := checkout.NewMongoStore(ctx, uri, "checkout_test")
	require.NoError(t, err)
	defer store.Close(ctx)
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.EnsureIndexes(ctx))

	testLedgerRoundTrip(t, store)
}
