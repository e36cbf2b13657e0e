package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionUsers    = "users"
	collectionOrders   = "orders"
	collectionCards    = "credit_cards"
	collectionPayments = "payments"
)

// MongoStore keeps one document per payment with its transactions embedded,
// so an append is a single $push on that document.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// EnsureIndexes creates the lookups the store queries by.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(collectionPayments).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "direction", Value: 1}, {Key: "order_id", Value: 1}, {Key: "type", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating payments index: %w", err)
	}
	return nil
}

// decimals are stored as strings to keep their exact value

type userDoc struct {
	Token      string `bson:"_id"`
	UserID     string `bson:"user_id"`
	Currency   string `bson:"currency"`
	Seller     bool   `bson:"seller"`
	SupplierID string `bson:"supplier_id"`
}

type lineItemDoc struct {
	ID                string `bson:"id"`
	ProductID         string `bson:"product_id"`
	SupplierID        string `bson:"supplier_id"`
	ShipFromAddressID string `bson:"ship_from_address_id"`
	Quantity          int    `bson:"quantity"`
	LineTotal         string `bson:"line_total"`
}

type orderDoc struct {
	Key         string        `bson:"_id"`
	ID          string        `bson:"order_id"`
	Direction   string        `bson:"direction"`
	Total       string        `bson:"total"`
	Currency    string        `bson:"currency"`
	Type        string        `bson:"type"`
	FromUserID  string        `bson:"from_user_id"`
	ToCompanyID string        `bson:"to_company_id"`
	LineItems   []lineItemDoc `bson:"line_items"`
}

type cardDoc struct {
	ID             string         `bson:"_id"`
	UserID         string         `bson:"user_id"`
	Token          string         `bson:"token"`
	ExpirationDate string         `bson:"expiry_yymm"`
	CardholderName string         `bson:"cardholder_name"`
	Last4          string         `bson:"last4"`
	BillingAddress models.Address `bson:"billing_address"`
	Editable       bool           `bson:"editable"`
}

type transactionDoc struct {
	ID            string    `bson:"id"`
	Type          string    `bson:"type"`
	Succeeded     bool      `bson:"succeeded"`
	Amount        string    `bson:"amount"`
	Currency      string    `bson:"currency"`
	ReferenceCode string    `bson:"reference_code"`
	ResponseCode  string    `bson:"response_code"`
	ResponseText  string    `bson:"response_text"`
	AuthCode      string    `bson:"auth_code"`
	RawResponse   string    `bson:"raw_response,omitempty"`
	DateExecuted  time.Time `bson:"date_executed"`
}

type paymentDoc struct {
	ID           string           `bson:"_id"`
	Direction    string           `bson:"direction"`
	OrderID      string           `bson:"order_id"`
	Type         string           `bson:"type"`
	CreditCardID string           `bson:"credit_card_id"`
	Amount       string           `bson:"amount"`
	Currency     string           `bson:"currency"`
	Accepted     *bool            `bson:"accepted"`
	Transactions []transactionDoc `bson:"transactions"`
	CreatedAt    time.Time        `bson:"created_at"`
}

func (m *MongoStore) SaveUser(ctx context.Context, user *models.User) error {
	doc := userDoc{
		Token:      user.Token,
		UserID:     user.ID,
		Currency:   strings.ToUpper(user.Currency),
		Seller:     user.Seller,
		SupplierID: user.SupplierID,
	}
	_, err := m.db.Collection(collectionUsers).ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.Token}}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) GetUser(ctx context.Context, userToken string) (*models.User, error) {
	var doc userDoc
	err := m.db.Collection(collectionUsers).FindOne(ctx, bson.D{{Key: "_id", Value: userToken}}).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return &models.User{ID: doc.UserID, Token: doc.Token, Currency: doc.Currency, Seller: doc.Seller, SupplierID: doc.SupplierID}, nil
}

func (m *MongoStore) SaveOrder(ctx context.Context, order *models.Order) error {
	if order.Direction == "" {
		order.Direction = models.DirectionIncoming
	}
	if order.Type == "" {
		order.Type = models.OrderTypeStandard
	}
	doc := orderDoc{
		Key:         orderKey(order.Direction, order.ID),
		ID:          order.ID,
		Direction:   string(order.Direction),
		Total:       order.Total.String(),
		Currency:    strings.ToUpper(order.Currency),
		Type:        string(order.Type),
		FromUserID:  order.FromUserID,
		ToCompanyID: order.ToCompanyID,
	}
	for _, li := range order.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemDoc{
			ID:                li.ID,
			ProductID:         li.ProductID,
			SupplierID:        li.SupplierID,
			ShipFromAddressID: li.ShipFromAddressID,
			Quantity:          li.Quantity,
			LineTotal:         li.LineTotal.String(),
		})
	}
	_, err := m.db.Collection(collectionOrders).ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.Key}}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) GetOrder(ctx context.Context, dir models.Direction, orderID string) (*models.Order, error) {
	var doc orderDoc
	err := m.db.Collection(collectionOrders).FindOne(ctx, bson.D{{Key: "_id", Value: orderKey(dir, orderID)}}).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}

	total, err := decimal.NewFromString(doc.Total)
	if err != nil {
		return nil, fmt.Errorf("decoding order total: %w", err)
	}
	order := &models.Order{
		ID:          doc.ID,
		Direction:   models.Direction(doc.Direction),
		Total:       total,
		Currency:    doc.Currency,
		Type:        models.OrderType(doc.Type),
		FromUserID:  doc.FromUserID,
		ToCompanyID: doc.ToCompanyID,
	}
	for _, li := range doc.LineItems {
		lineTotal, err := decimal.NewFromString(li.LineTotal)
		if err != nil {
			return nil, fmt.Errorf("decoding line total: %w", err)
		}
		order.LineItems = append(order.LineItems, models.LineItem{
			ID:                li.ID,
			ProductID:         li.ProductID,
			SupplierID:        li.SupplierID,
			ShipFromAddressID: li.ShipFromAddressID,
			Quantity:          li.Quantity,
			LineTotal:         lineTotal,
		})
	}
	return order, nil
}

func (m *MongoStore) SaveCreditCard(ctx context.Context, card *models.BuyerCreditCard) error {
	doc := cardDoc{
		ID:             card.ID,
		UserID:         card.UserID,
		Token:          card.Token,
		ExpirationDate: card.ExpirationDate,
		CardholderName: card.CardholderName,
		Last4:          card.PartialAccountNumber,
		BillingAddress: card.BillingAddress,
		Editable:       card.Editable,
	}
	_, err := m.db.Collection(collectionCards).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("credit card %s: %w", card.ID, ErrConflict)
	}
	return err
}

func (m *MongoStore) GetCreditCard(ctx context.Context, cardID, userToken string) (*models.BuyerCreditCard, error) {
	var doc cardDoc
	err := m.db.Collection(collectionCards).FindOne(ctx, bson.D{{Key: "_id", Value: cardID}}).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	if doc.UserID != "" {
		user, err := m.GetUser(ctx, userToken)
		if err != nil {
			return nil, err
		}
		if user.ID != doc.UserID {
			return nil, ErrNotFound
		}
	}
	return &models.BuyerCreditCard{
		ID:                   doc.ID,
		UserID:               doc.UserID,
		Token:                doc.Token,
		ExpirationDate:       doc.ExpirationDate,
		CardholderName:       doc.CardholderName,
		PartialAccountNumber: doc.Last4,
		BillingAddress:       doc.BillingAddress,
		Editable:             doc.Editable,
	}, nil
}

func (m *MongoStore) CreatePayment(ctx context.Context, dir models.Direction, payment *models.Payment) error {
	if payment.Type == "" {
		payment.Type = models.PaymentTypeCreditCard
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	doc := paymentDoc{
		ID:           payment.ID,
		Direction:    string(dir),
		OrderID:      payment.OrderID,
		Type:         string(payment.Type),
		CreditCardID: payment.CreditCardID,
		Amount:       payment.Amount.String(),
		Currency:     strings.ToUpper(payment.Currency),
		Accepted:     payment.Accepted.Bool(),
		Transactions: []transactionDoc{},
		CreatedAt:    payment.CreatedAt,
	}
	for _, tx := range payment.Transactions {
		doc.Transactions = append(doc.Transactions, toTransactionDoc(tx))
	}
	_, err := m.db.Collection(collectionPayments).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("payment %s: %w", payment.ID, ErrConflict)
	}
	return err
}

func (m *MongoStore) ListCreditCardPayments(ctx context.Context, dir models.Direction, orderID string) ([]models.Payment, error) {
	filter := bson.D{
		{Key: "direction", Value: string(dir)},
		{Key: "order_id", Value: orderID},
		{Key: "type", Value: string(models.PaymentTypeCreditCard)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.db.Collection(collectionPayments).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []paymentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]models.Payment, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.payment()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// AppendTransaction pushes tx unless a transaction with the same ID is already
// embedded, which makes a retried append harmless.
func (m *MongoStore) AppendTransaction(ctx context.Context, dir models.Direction, orderID, paymentID string, tx models.Transaction) error {
	filter := bson.D{
		{Key: "_id", Value: paymentID},
		{Key: "direction", Value: string(dir)},
		{Key: "order_id", Value: orderID},
		{Key: "transactions.id", Value: bson.D{{Key: "$ne", Value: tx.ID}}},
	}
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "transactions", Value: toTransactionDoc(tx)}}}}

	res, err := m.db.Collection(collectionPayments).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := m.findPayment(ctx, dir, orderID, paymentID); err != nil {
			return err
		}
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrConflict)
	}
	return nil
}

func (m *MongoStore) PatchPayment(ctx context.Context, dir models.Direction, orderID, paymentID string, patch models.PaymentPatch) (*models.Payment, error) {
	set := bson.D{}
	if patch.Accepted != nil {
		set = append(set, bson.E{Key: "accepted", Value: patch.Accepted.Bool()})
	}
	if patch.Amount != nil {
		set = append(set, bson.E{Key: "amount", Value: patch.Amount.String()})
	}
	if len(set) == 0 {
		return m.findPayment(ctx, dir, orderID, paymentID)
	}

	filter := bson.D{
		{Key: "_id", Value: paymentID},
		{Key: "direction", Value: string(dir)},
		{Key: "order_id", Value: orderID},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc paymentDoc
	err := m.db.Collection(collectionPayments).FindOneAndUpdate(ctx, filter, bson.D{{Key: "$set", Value: set}}, opts).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return doc.payment()
}

func (m *MongoStore) findPayment(ctx context.Context, dir models.Direction, orderID, paymentID string) (*models.Payment, error) {
	filter := bson.D{
		{Key: "_id", Value: paymentID},
		{Key: "direction", Value: string(dir)},
		{Key: "order_id", Value: orderID},
	}
	var doc paymentDoc
	if err := m.db.Collection(collectionPayments).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.payment()
}

func toTransactionDoc(tx models.Transaction) transactionDoc {
	return transactionDoc{
		ID:            tx.ID,
		Type:          string(tx.Type),
		Succeeded:     tx.Succeeded,
		Amount:        tx.Amount.String(),
		Currency:      strings.ToUpper(tx.Currency),
		ReferenceCode: tx.ReferenceCode,
		ResponseCode:  tx.ResponseCode,
		ResponseText:  tx.ResponseText,
		AuthCode:      tx.AuthCode,
		RawResponse:   string(tx.RawResponse),
		DateExecuted:  tx.DateExecuted,
	}
}

func (d paymentDoc) payment() (*models.Payment, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("decoding amount of payment %s: %w", d.ID, err)
	}
	p := &models.Payment{
		ID:           d.ID,
		OrderID:      d.OrderID,
		Type:         models.PaymentType(d.Type),
		CreditCardID: d.CreditCardID,
		Amount:       amount,
		Currency:     d.Currency,
		Accepted:     models.AcceptanceFromPtr(d.Accepted),
		CreatedAt:    d.CreatedAt,
	}
	for _, t := range d.Transactions {
		txAmount, err := decimal.NewFromString(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("decoding amount of transaction %s: %w", t.ID, err)
		}
		tx := models.Transaction{
			ID:            t.ID,
			Type:          models.TransactionType(t.Type),
			Succeeded:     t.Succeeded,
			Amount:        txAmount,
			Currency:      t.Currency,
			ReferenceCode: t.ReferenceCode,
			ResponseCode:  t.ResponseCode,
			ResponseText:  t.ResponseText,
			AuthCode:      t.AuthCode,
			DateExecuted:  t.DateExecuted,
		}
		if t.RawResponse != "" {
			tx.RawResponse = processor.RawJSON([]byte(t.RawResponse))
		}
		p.Transactions = append(p.Transactions, tx)
	}
	return p, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
