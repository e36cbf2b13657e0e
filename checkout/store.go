package checkout

import (
	"context"

	"github.com/alovak/cardflow-checkout/checkout/models"
)

// Ledger reads and writes the payment records of an order. Appends and patches
// are independent writes; nothing ties them into one transaction.
type Ledger interface {
	ListCreditCardPayments(ctx context.Context, dir models.Direction, orderID string) ([]models.Payment, error)
	AppendTransaction(ctx context.Context, dir models.Direction, orderID, paymentID string, tx models.Transaction) error
	PatchPayment(ctx context.Context, dir models.Direction, orderID, paymentID string, patch models.PaymentPatch) (*models.Payment, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, dir models.Direction, orderID string) (*models.Order, error)
}

type CardReader interface {
	GetCreditCard(ctx context.Context, cardID, userToken string) (*models.BuyerCreditCard, error)
}

type UserReader interface {
	GetUser(ctx context.Context, userToken string) (*models.User, error)
}

// PaymentStore is everything the reconciler reads and writes.
type PaymentStore interface {
	Ledger
	OrderReader
	CardReader
}

// Store is a complete backend: postgres, mongo or memory.
type Store interface {
	PaymentStore
	UserReader

	SaveUser(ctx context.Context, user *models.User) error
	SaveOrder(ctx context.Context, order *models.Order) error
	SaveCreditCard(ctx context.Context, card *models.BuyerCreditCard) error
	CreatePayment(ctx context.Context, dir models.Direction, payment *models.Payment) error
	Ping(ctx context.Context) error
}
