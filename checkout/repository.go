package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Repository is the platform store backed by postgres, or by memory when
// created with NewRepository.
type Repository struct {
	mu       sync.RWMutex
	users    map[string]models.User
	orders   map[string]models.Order
	cards    map[string]models.BuyerCreditCard
	payments map[string][]models.Payment

	db *sql.DB
}

var _ Store = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		users:    make(map[string]models.User),
		orders:   make(map[string]models.Order),
		cards:    make(map[string]models.BuyerCreditCard),
		payments: make(map[string][]models.Payment),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func orderKey(dir models.Direction, orderID string) string {
	return string(dir) + "/" + orderID
}

const schema = `
CREATE SCHEMA IF NOT EXISTS checkout;

CREATE TABLE IF NOT EXISTS checkout.users (
	token       TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	currency    TEXT NOT NULL DEFAULT '',
	seller      BOOLEAN NOT NULL DEFAULT FALSE,
	supplier_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS checkout.orders (
	direction     TEXT NOT NULL,
	order_id      TEXT NOT NULL,
	total         NUMERIC(19,4) NOT NULL,
	currency      TEXT NOT NULL DEFAULT '',
	order_type    TEXT NOT NULL DEFAULT 'standard',
	from_user_id  TEXT NOT NULL DEFAULT '',
	to_company_id TEXT NOT NULL DEFAULT '',
	line_items    JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (direction, order_id)
);

CREATE TABLE IF NOT EXISTS checkout.credit_cards (
	card_id         TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL DEFAULT '',
	token           TEXT NOT NULL,
	expiry_yymm     TEXT NOT NULL DEFAULT '',
	cardholder_name TEXT NOT NULL DEFAULT '',
	last4           TEXT NOT NULL DEFAULT '',
	billing_address JSONB NOT NULL DEFAULT '{}',
	editable        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS checkout.payments (
	payment_id     TEXT PRIMARY KEY,
	direction      TEXT NOT NULL,
	order_id       TEXT NOT NULL,
	payment_type   TEXT NOT NULL,
	credit_card_id TEXT NOT NULL DEFAULT '',
	amount         NUMERIC(19,4) NOT NULL,
	currency       TEXT NOT NULL DEFAULT '',
	accepted       BOOLEAN,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS payments_order_idx ON checkout.payments (direction, order_id);

CREATE TABLE IF NOT EXISTS checkout.payment_transactions (
	seq            BIGSERIAL PRIMARY KEY,
	tx_id          TEXT NOT NULL UNIQUE,
	payment_id     TEXT NOT NULL REFERENCES checkout.payments(payment_id),
	tx_type        TEXT NOT NULL,
	succeeded      BOOLEAN NOT NULL,
	amount         NUMERIC(19,4) NOT NULL,
	currency       TEXT NOT NULL DEFAULT '',
	reference_code TEXT NOT NULL DEFAULT '',
	response_code  TEXT NOT NULL DEFAULT '',
	response_text  TEXT NOT NULL DEFAULT '',
	auth_code      TEXT NOT NULL DEFAULT '',
	raw_response   JSONB,
	date_executed  TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the checkout schema. It is a no-op for the memory backend.
func (r *Repository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (r *Repository) SaveUser(ctx context.Context, user *models.User) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.users[user.Token] = *user
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkout.users(token, user_id, currency, seller, supplier_id)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (token) DO UPDATE
		   SET user_id=EXCLUDED.user_id, currency=EXCLUDED.currency,
		       seller=EXCLUDED.seller, supplier_id=EXCLUDED.supplier_id
	`, user.Token, user.ID, strings.ToUpper(user.Currency), user.Seller, user.SupplierID)
	return err
}

func (r *Repository) GetUser(ctx context.Context, userToken string) (*models.User, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		u, ok := r.users[userToken]
		if !ok {
			return nil, ErrNotFound
		}
		return &u, nil
	}
	u := models.User{Token: userToken}
	err := r.db.QueryRowContext(ctx, `SELECT user_id, currency, seller, supplier_id FROM checkout.users WHERE token=$1`, userToken).
		Scan(&u.ID, &u.Currency, &u.Seller, &u.SupplierID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *Repository) SaveOrder(ctx context.Context, order *models.Order) error {
	if order.Direction == "" {
		order.Direction = models.DirectionIncoming
	}
	if order.Type == "" {
		order.Type = models.OrderTypeStandard
	}
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		o := *order
		o.LineItems = append([]models.LineItem(nil), order.LineItems...)
		r.orders[orderKey(o.Direction, o.ID)] = o
		return nil
	}
	items, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("marshaling line items: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkout.orders(direction, order_id, total, currency, order_type, from_user_id, to_company_id, line_items)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (direction, order_id) DO UPDATE
		   SET total=EXCLUDED.total, currency=EXCLUDED.currency, order_type=EXCLUDED.order_type,
		       from_user_id=EXCLUDED.from_user_id, to_company_id=EXCLUDED.to_company_id, line_items=EXCLUDED.line_items
	`, string(order.Direction), order.ID, order.Total, strings.ToUpper(order.Currency), string(order.Type), order.FromUserID, order.ToCompanyID, string(items))
	return err
}

func (r *Repository) GetOrder(ctx context.Context, dir models.Direction, orderID string) (*models.Order, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		o, ok := r.orders[orderKey(dir, orderID)]
		if !ok {
			return nil, ErrNotFound
		}
		o.LineItems = append([]models.LineItem(nil), o.LineItems...)
		return &o, nil
	}
	o := models.Order{ID: orderID, Direction: dir}
	var orderType string
	var items []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT total, currency, order_type, from_user_id, to_company_id, line_items
		  FROM checkout.orders WHERE direction=$1 AND order_id=$2
	`, string(dir), orderID).Scan(&o.Total, &o.Currency, &orderType, &o.FromUserID, &o.ToCompanyID, &items)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Type = models.OrderType(orderType)
	if err := json.Unmarshal(items, &o.LineItems); err != nil {
		return nil, fmt.Errorf("decoding line items: %w", err)
	}
	return &o, nil
}

func (r *Repository) SaveCreditCard(ctx context.Context, card *models.BuyerCreditCard) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.cards[card.ID] = *card
		return nil
	}
	billing, err := json.Marshal(card.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshaling billing address: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkout.credit_cards(card_id, user_id, token, expiry_yymm, cardholder_name, last4, billing_address, editable)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, card.ID, card.UserID, card.Token, card.ExpirationDate, card.CardholderName, card.PartialAccountNumber, string(billing), card.Editable)
	if isUniqueViolation(err) {
		return fmt.Errorf("credit card %s: %w", card.ID, ErrConflict)
	}
	return err
}

// GetCreditCard returns the card only when it belongs to the user behind
// userToken. Cards without an owner are visible to everyone.
func (r *Repository) GetCreditCard(ctx context.Context, cardID, userToken string) (*models.BuyerCreditCard, error) {
	var card models.BuyerCreditCard

	if r.db == nil {
		r.mu.RLock()
		c, ok := r.cards[cardID]
		r.mu.RUnlock()
		if !ok {
			return nil, ErrNotFound
		}
		card = c
	} else {
		var billing []byte
		err := r.db.QueryRowContext(ctx, `
			SELECT user_id, token, expiry_yymm, cardholder_name, last4, billing_address, editable
			  FROM checkout.credit_cards WHERE card_id=$1
		`, cardID).Scan(&card.UserID, &card.Token, &card.ExpirationDate, &card.CardholderName, &card.PartialAccountNumber, &billing, &card.Editable)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		card.ID = cardID
		if err := json.Unmarshal(billing, &card.BillingAddress); err != nil {
			return nil, fmt.Errorf("decoding billing address: %w", err)
		}
	}

	if card.UserID != "" {
		user, err := r.GetUser(ctx, userToken)
		if err != nil {
			return nil, err
		}
		if user.ID != card.UserID {
			return nil, ErrNotFound
		}
	}

	return &card, nil
}

func (r *Repository) CreatePayment(ctx context.Context, dir models.Direction, payment *models.Payment) error {
	if payment.Type == "" {
		payment.Type = models.PaymentTypeCreditCard
	}
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		key := orderKey(dir, payment.OrderID)
		for _, p := range r.payments[key] {
			if p.ID == payment.ID {
				return fmt.Errorf("payment %s: %w", payment.ID, ErrConflict)
			}
		}
		p := *payment
		p.Transactions = payment.Transactions.All()
		r.payments[key] = append(r.payments[key], p)
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkout.payments(payment_id, direction, order_id, payment_type, credit_card_id, amount, currency, accepted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, string(dir), payment.OrderID, string(payment.Type), payment.CreditCardID, payment.Amount, strings.ToUpper(payment.Currency), payment.Accepted.Bool())
	if isUniqueViolation(err) {
		return fmt.Errorf("payment %s: %w", payment.ID, ErrConflict)
	}
	if err != nil {
		return err
	}
	for _, tx := range payment.Transactions {
		if err := r.AppendTransaction(ctx, dir, payment.OrderID, payment.ID, tx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ListCreditCardPayments(ctx context.Context, dir models.Direction, orderID string) ([]models.Payment, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []models.Payment
		for _, p := range r.payments[orderKey(dir, orderID)] {
			if p.Type == models.PaymentTypeCreditCard {
				p.Transactions = p.Transactions.All()
				out = append(out, p)
			}
		}
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT payment_id, payment_type, credit_card_id, amount, currency, accepted, created_at
		  FROM checkout.payments
		 WHERE direction=$1 AND order_id=$2 AND payment_type=$3
		 ORDER BY created_at, payment_id
	`, string(dir), orderID, string(models.PaymentTypeCreditCard))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p := models.Payment{OrderID: orderID}
		var typ string
		var accepted sql.NullBool
		if err := rows.Scan(&p.ID, &typ, &p.CreditCardID, &p.Amount, &p.Currency, &accepted, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Type = models.PaymentType(typ)
		p.Accepted = acceptanceFromNull(accepted)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		history, err := r.history(ctx, out[i].ID)
		if err != nil {
			return nil, fmt.Errorf("reading history of payment %s: %w", out[i].ID, err)
		}
		out[i].Transactions = history
	}
	return out, nil
}

func (r *Repository) history(ctx context.Context, paymentID string) (models.History, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_id, tx_type, succeeded, amount, currency, reference_code, response_code, response_text, auth_code, raw_response, date_executed
		  FROM checkout.payment_transactions WHERE payment_id=$1 ORDER BY seq
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var h models.History
	for rows.Next() {
		var tx models.Transaction
		var typ string
		var raw []byte
		if err := rows.Scan(&tx.ID, &typ, &tx.Succeeded, &tx.Amount, &tx.Currency, &tx.ReferenceCode, &tx.ResponseCode, &tx.ResponseText, &tx.AuthCode, &raw, &tx.DateExecuted); err != nil {
			return nil, err
		}
		tx.Type = models.TransactionType(typ)
		if len(raw) > 0 {
			tx.RawResponse = raw
		}
		h = append(h, tx)
	}
	return h, rows.Err()
}

// AppendTransaction adds tx at the end of the payment history. Appending the
// same transaction ID twice fails with ErrConflict.
func (r *Repository) AppendTransaction(ctx context.Context, dir models.Direction, orderID, paymentID string, tx models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		p, err := r.findPayment(dir, orderID, paymentID)
		if err != nil {
			return err
		}
		for _, existing := range p.Transactions {
			if existing.ID == tx.ID {
				return fmt.Errorf("transaction %s: %w", tx.ID, ErrConflict)
			}
		}
		p.Transactions = p.Transactions.Append(tx)
		return nil
	}

	var raw sql.NullString
	if body := processor.RawJSON(tx.RawResponse); len(body) > 0 {
		raw = sql.NullString{String: string(body), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO checkout.payment_transactions(tx_id, payment_id, tx_type, succeeded, amount, currency, reference_code, response_code, response_text, auth_code, raw_response, date_executed)
		SELECT $1, p.payment_id, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		  FROM checkout.payments p
		 WHERE p.payment_id=$2 AND p.order_id=$3 AND p.direction=$14
	`, tx.ID, paymentID, orderID, string(tx.Type), tx.Succeeded, tx.Amount, strings.ToUpper(tx.Currency), tx.ReferenceCode, tx.ResponseCode, tx.ResponseText, tx.AuthCode, raw, tx.DateExecuted, string(dir))
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrConflict)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) PatchPayment(ctx context.Context, dir models.Direction, orderID, paymentID string, patch models.PaymentPatch) (*models.Payment, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		p, err := r.findPayment(dir, orderID, paymentID)
		if err != nil {
			return nil, err
		}
		*p = patch.Apply(*p)
		out := *p
		out.Transactions = p.Transactions.All()
		return &out, nil
	}

	// unset fields keep their value; accepted needs its own flag since NULL is a valid state
	var amount decimal.NullDecimal
	if patch.Amount != nil {
		amount = decimal.NullDecimal{Decimal: *patch.Amount, Valid: true}
	}
	var accepted *bool
	if patch.Accepted != nil {
		accepted = patch.Accepted.Bool()
	}

	p := models.Payment{ID: paymentID, OrderID: orderID}
	var typ string
	var acc sql.NullBool
	err := r.db.QueryRowContext(ctx, `
		UPDATE checkout.payments
		   SET amount   = COALESCE($4, amount),
		       accepted = CASE WHEN $5 THEN $6 ELSE accepted END
		 WHERE payment_id=$1 AND order_id=$2 AND direction=$3
		RETURNING payment_type, credit_card_id, amount, currency, accepted, created_at
	`, paymentID, orderID, string(dir), amount, patch.Accepted != nil, accepted).
		Scan(&typ, &p.CreditCardID, &p.Amount, &p.Currency, &acc, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Type = models.PaymentType(typ)
	p.Accepted = acceptanceFromNull(acc)

	history, err := r.history(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	p.Transactions = history
	return &p, nil
}

// findPayment must be called with r.mu held.
func (r *Repository) findPayment(dir models.Direction, orderID, paymentID string) (*models.Payment, error) {
	payments := r.payments[orderKey(dir, orderID)]
	for i := range payments {
		if payments[i].ID == paymentID {
			return &payments[i], nil
		}
	}
	return nil, ErrNotFound
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func acceptanceFromNull(b sql.NullBool) models.Acceptance {
	if !b.Valid {
		return models.Undecided
	}
	return models.AcceptanceFromBool(b.Bool)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
