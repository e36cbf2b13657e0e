package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/cardutil"
	"github.com/alovak/cardflow-checkout/internal/events"
	"github.com/alovak/cardflow-checkout/internal/expiry"
	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

const defaultBookkeepingTimeout = 30 * time.Second

// Reconciler makes sure an order has exactly one live authorization for its
// current total and that every gateway call it makes is written to the ledger.
type Reconciler struct {
	store     PaymentStore
	processor processor.Processor
	currency  *CurrencyResolver
	publisher events.Publisher
	logger    *slog.Logger

	bookkeepingTimeout time.Duration
	expiryLoc          *time.Location
	now                func() time.Time
	newID              func() string
}

type Option func(*Reconciler)

func WithPublisher(p events.Publisher) Option {
	return func(r *Reconciler) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithBookkeepingTimeout bounds the ledger writes that follow a processor call.
// They run on a context detached from the caller.
func WithBookkeepingTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.bookkeepingTimeout = d
		}
	}
}

// WithExpiryLocation sets the timezone in which a card's expiry month ends.
func WithExpiryLocation(loc *time.Location) Option {
	return func(r *Reconciler) {
		r.expiryLoc = loc
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(logger *slog.Logger, store PaymentStore, proc processor.Processor, resolver *CurrencyResolver, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:              store,
		processor:          proc,
		currency:           resolver,
		publisher:          events.Noop{},
		logger:             logger.With(slog.String("component", "reconciler")),
		bookkeepingTimeout: defaultBookkeepingTimeout,
		expiryLoc:          time.UTC,
		now:                time.Now,
		newID:              func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// attempt carries what is known about the payment being reconciled.
type attempt struct {
	dir        models.Direction
	order      *models.Order
	payment    models.Payment
	card       *models.BuyerCreditCard
	req        models.CCPayment
	currency   string
	merchantID string
}

// AuthorizePayment brings the credit card payment of req.OrderID to an
// authorized state for the current order total. A payment that is already
// authorized for that total is returned as is without calling the processor.
//
// Once a processor call has been made the bookkeeping for it runs to
// completion even if ctx is cancelled.
func (r *Reconciler) AuthorizePayment(ctx context.Context, req models.CCPayment, userToken, merchantOverride string) (*models.Payment, error) {
	if req.OrderID == "" {
		return nil, validationError(CodeOrderRequired, "order ID is required")
	}
	dir := req.Direction
	if dir == "" {
		dir = models.DirectionIncoming
	}

	card, err := r.buyerCard(ctx, req, userToken)
	if err != nil {
		return nil, err
	}

	currency, merchantID, err := r.resolveMerchant(ctx, req, userToken, merchantOverride)
	if err != nil {
		return nil, err
	}

	order, err := r.store.GetOrder(ctx, dir, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &Error{Kind: KindNotFound, Code: CodeOrderNotFound, Message: fmt.Sprintf("order %s not found", req.OrderID), Err: err}
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	payments, err := r.store.ListCreditCardPayments(ctx, dir, order.ID)
	if err != nil {
		return nil, fmt.Errorf("listing credit card payments: %w", err)
	}

	if len(payments) == 0 {
		return nil, &Error{
			Kind:    KindMissingCreditCardPayment,
			Code:    CodeMissingCreditCardPayment,
			Message: "order requires a credit card payment",
			Data:    map[string]string{"orderID": order.ID},
		}
	}

	if len(payments) == 1 && payments[0].IsSettledFor(order.Total, currency) {
		return &payments[0], nil
	}

	a := &attempt{
		dir:        dir,
		order:      order,
		payment:    payments[0],
		card:       card,
		req:        req,
		currency:   currency,
		merchantID: merchantID,
	}

	logger := r.logger.With(
		slog.String("order_id", order.ID),
		slog.String("payment_id", a.payment.ID),
		slog.String("currency", currency),
		slog.String("merchant_id", merchantID),
	)

	// nothing has reached the processor yet, so honour cancellation here
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.bookkeepingTimeout)
	defer cancel()

	if live, ok := a.payment.Transactions.LatestLiveAuthorization(); ok {
		if models.AmountsEqual(live.Amount, order.Total, currency) {
			return r.repair(bctx, logger, a, live)
		}

		if err := r.void(bctx, logger, a, live); err != nil {
			return nil, err
		}
	}

	return r.authorize(bctx, logger, a)
}

func (r *Reconciler) buyerCard(ctx context.Context, req models.CCPayment, userToken string) (*models.BuyerCreditCard, error) {
	var card *models.BuyerCreditCard

	switch {
	case req.CreditCardID != "":
		c, err := r.store.GetCreditCard(ctx, req.CreditCardID, userToken)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, &Error{Kind: KindNotFound, Code: CodeCreditCardNotFound, Message: fmt.Sprintf("credit card %s not found", req.CreditCardID), Err: err}
			}
			return nil, fmt.Errorf("getting credit card: %w", err)
		}
		card = c
	case req.CreditCardDetails != nil:
		card = &models.BuyerCreditCard{
			CardholderName: req.CreditCardDetails.CardholderName,
			Editable:       true,
		}
	default:
		return nil, validationError(CodeCardInvalid, "credit card ID or card details are required")
	}

	if !req.HasValidCVV(*card) {
		return nil, validationError(CodeCVVRequired, "CVV is required for this card")
	}
	if req.CVV != "" {
		if err := cardutil.ValidateCVV(req.CVV); err != nil {
			return nil, &Error{Kind: KindValidation, Code: CodeCardInvalid, Message: "invalid CVV", Err: err}
		}
	}

	if d := req.CreditCardDetails; d != nil {
		if err := cardutil.ValidatePAN(cardutil.NormalizePAN(d.AccountNumber)); err != nil {
			return nil, &Error{Kind: KindValidation, Code: CodeCardInvalid, Message: "invalid card number", Err: err}
		}
		yymm, err := expiry.ParseCardFace(d.ExpirationDate)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Code: CodeCardInvalid, Message: "invalid expiration date", Err: err}
		}
		card.ExpirationDate = yymm
		card.PartialAccountNumber = cardutil.LastN(cardutil.NormalizePAN(d.AccountNumber), 4)
	}

	if card.ExpirationDate != "" {
		if err := expiry.Check(card.ExpirationDate, r.now(), r.expiryLoc); err != nil {
			if errors.Is(err, expiry.ErrExpired) {
				return nil, &Error{Kind: KindValidation, Code: CodeCardExpired, Message: "credit card is expired", Err: err}
			}
			return nil, &Error{Kind: KindValidation, Code: CodeCardInvalid, Message: "invalid expiration date", Err: err}
		}
	}

	return card, nil
}

// resolveMerchant applies, in order of precedence: the explicit override, the
// merchant on the request, and the merchant of the resolved currency.
func (r *Reconciler) resolveMerchant(ctx context.Context, req models.CCPayment, userToken, merchantOverride string) (string, string, error) {
	var (
		currency   string
		merchantID string
		err        error
	)

	if req.Currency != "" {
		currency = req.Currency
		merchantID, err = r.currency.MerchantFor(currency)
	} else {
		currency, merchantID, err = r.currency.Resolve(ctx, userToken)
	}

	// an override only stands in for a missing merchant mapping
	var cerr *Error
	if err != nil && !errors.As(err, &cerr) {
		return "", "", err
	}

	switch {
	case merchantOverride != "":
		merchantID = merchantOverride
	case req.MerchantID != "":
		merchantID = req.MerchantID
	case err != nil:
		return "", "", err
	}

	if currency == "" {
		currency = r.currency.BaseCurrency()
	}

	return currency, merchantID, nil
}

// repair brings the payment record in line with a live authorization that
// already covers the order total, e.g. after an earlier patch was lost.
func (r *Reconciler) repair(ctx context.Context, logger *slog.Logger, a *attempt, live models.Transaction) (*models.Payment, error) {
	logger.Warn("payment record out of sync with live authorization; repairing",
		slog.String("reference_code", live.ReferenceCode),
		slog.String("accepted", a.payment.Accepted.String()),
		slog.String("amount", a.payment.Amount.String()),
	)

	accepted := models.Authorized
	amount := a.order.Total
	patch := models.PaymentPatch{Accepted: &accepted, Amount: &amount}

	updated, err := r.store.PatchPayment(ctx, a.dir, a.order.ID, a.payment.ID, patch)
	if err != nil {
		return nil, r.ledgerFailure(ctx, logger, a, live.ReferenceCode, err)
	}

	return updated, nil
}

func (r *Reconciler) void(ctx context.Context, logger *slog.Logger, a *attempt, live models.Transaction) error {
	logger = logger.With(slog.String("reference_code", live.ReferenceCode))
	logger.Info("voiding stale authorization",
		slog.String("authorized_amount", live.Amount.String()),
		slog.String("order_total", a.order.Total.String()),
	)

	res, voidErr := r.processor.Void(ctx, processor.VoidRequest{
		MerchantID:    a.merchantID,
		Currency:      a.currency,
		ReferenceCode: live.ReferenceCode,
		Amount:        live.Amount,
	})

	var result *processor.Result
	if res != nil {
		result = &res.Result
	}
	tx := r.transaction(models.TransactionTypeVoidAuthorization, processor.OpVoid, live.Amount, a.currency, result, voidErr)
	if tx.ReferenceCode == "" {
		tx.ReferenceCode = live.ReferenceCode
	}

	appendErr := r.store.AppendTransaction(ctx, a.dir, a.order.ID, a.payment.ID, tx)
	if appendErr == nil {
		a.payment.Transactions = a.payment.Transactions.Append(tx)
	}

	if voidErr != nil {
		pe := processor.AsError(processor.OpVoid, voidErr)
		logger.Error("void failed", slog.String("code", pe.Code), slog.Any("err", voidErr))

		verr := voidError(pe)
		r.publish(ctx, logger, events.Event{
			Type:          events.VoidFailed,
			OrderID:       a.order.ID,
			PaymentID:     a.payment.ID,
			ReferenceCode: live.ReferenceCode,
			Amount:        live.Amount,
			Currency:      a.currency,
			Code:          verr.Code,
			Message:       verr.Message,
		})

		if appendErr != nil {
			return errors.Join(r.ledgerFailure(ctx, logger, a, live.ReferenceCode, appendErr), verr)
		}
		return verr
	}

	if appendErr != nil {
		return r.ledgerFailure(ctx, logger, a, live.ReferenceCode, appendErr)
	}

	return nil
}

func (r *Reconciler) authorize(ctx context.Context, logger *slog.Logger, a *attempt) (*models.Payment, error) {
	amount := a.order.Total

	req := processor.AuthorizationRequest{
		MerchantID: a.merchantID,
		Currency:   a.currency,
		Amount:     amount,
		OrderID:    a.order.ID,
		Card: processor.Card{
			Token:          a.card.Token,
			ExpirationDate: a.card.ExpirationDate,
			CVV:            a.req.CVV,
			CardholderName: a.card.CardholderName,
		},
		Billing: a.card.BillingAddress,
	}
	if d := a.req.CreditCardDetails; d != nil {
		req.Card.Token = ""
		req.Card.AccountNumber = cardutil.NormalizePAN(d.AccountNumber)
	}

	logger.Info("authorizing payment",
		slog.String("amount", amount.String()),
		slog.String("card", cardutil.MaskPAN(req.Card.Token+req.Card.AccountNumber)),
	)

	res, authErr := r.processor.Authorize(ctx, req)

	var result *processor.Result
	if res != nil {
		result = &res.Result
	}
	tx := r.transaction(models.TransactionTypeAuthorization, processor.OpAuthorize, amount, a.currency, result, authErr)

	// both writes are attempted whatever happens to the other
	var ledgerErrs []error
	if err := r.store.AppendTransaction(ctx, a.dir, a.order.ID, a.payment.ID, tx); err != nil {
		ledgerErrs = append(ledgerErrs, fmt.Errorf("appending authorization transaction: %w", err))
	} else {
		a.payment.Transactions = a.payment.Transactions.Append(tx)
	}

	accepted := models.AcceptanceFromBool(authErr == nil)
	patch := models.PaymentPatch{Accepted: &accepted, Amount: &amount}

	updated, err := r.store.PatchPayment(ctx, a.dir, a.order.ID, a.payment.ID, patch)
	if err != nil {
		ledgerErrs = append(ledgerErrs, fmt.Errorf("patching payment: %w", err))
		local := patch.Apply(a.payment)
		updated = &local
	}

	var authError *Error
	if authErr != nil {
		pe := processor.AsError(processor.OpAuthorize, authErr)
		authError = creditCardAuthError(pe)
		logger.Warn("authorization failed",
			slog.String("code", authError.Code),
			slog.String("message", authError.Message),
		)
		r.publish(ctx, logger, events.Event{
			Type:          events.PaymentDeclined,
			OrderID:       a.order.ID,
			PaymentID:     a.payment.ID,
			ReferenceCode: tx.ReferenceCode,
			Amount:        amount,
			Currency:      a.currency,
			Code:          authError.Code,
			Message:       authError.Message,
		})
	} else {
		logger.Info("payment authorized", slog.String("reference_code", tx.ReferenceCode))
		r.publish(ctx, logger, events.Event{
			Type:          events.PaymentAuthorized,
			OrderID:       a.order.ID,
			PaymentID:     a.payment.ID,
			ReferenceCode: tx.ReferenceCode,
			Amount:        amount,
			Currency:      a.currency,
		})
	}

	if len(ledgerErrs) > 0 {
		lerr := r.ledgerFailure(ctx, logger, a, tx.ReferenceCode, errors.Join(ledgerErrs...))
		if authError != nil {
			return nil, errors.Join(lerr, authError)
		}
		return nil, lerr
	}

	if authError != nil {
		return nil, authError
	}

	return updated, nil
}

// transaction builds the ledger entry for a processor call from whatever the
// gateway returned, or from the error when it returned nothing.
func (r *Reconciler) transaction(typ models.TransactionType, op processor.Op, amount decimal.Decimal, currency string, res *processor.Result, callErr error) models.Transaction {
	tx := models.Transaction{
		ID:           r.newID(),
		Type:         typ,
		Succeeded:    callErr == nil,
		Amount:       amount,
		Currency:     currency,
		DateExecuted: r.now().UTC(),
	}

	if callErr != nil {
		pe := processor.AsError(op, callErr)
		if pe.Result != nil {
			res = pe.Result
		}
		tx.ResponseCode = pe.Code
		tx.ResponseText = pe.Message
		tx.RawResponse = processor.RawJSON(pe.Raw)
	}

	if res != nil {
		tx.ReferenceCode = res.ReferenceCode
		tx.AuthCode = res.AuthCode
		if res.ResponseCode != "" {
			tx.ResponseCode = res.ResponseCode
		}
		if res.ResponseText != "" {
			tx.ResponseText = res.ResponseText
		}
		if len(res.Raw) > 0 {
			tx.RawResponse = processor.RawJSON(res.Raw)
		}
	}

	return tx
}

// ledgerFailure reports a write that was lost after the processor was called.
// The two systems of record now disagree until a retry fixes it.
func (r *Reconciler) ledgerFailure(ctx context.Context, logger *slog.Logger, a *attempt, ref string, err error) *Error {
	logger.Error("ledger inconsistent with processor",
		slog.String("reference_code", ref),
		slog.Any("err", err),
	)

	lerr := &Error{
		Kind:    KindLedgerWriteFailure,
		Code:    CodeLedgerWriteFailure,
		Message: "payment ledger could not be updated after the processor call; retry the authorization",
		Data:    map[string]string{"orderID": a.order.ID, "paymentID": a.payment.ID, "referenceCode": ref},
		Err:     err,
	}

	r.publish(ctx, logger, events.Event{
		Type:          events.LedgerInconsistency,
		OrderID:       a.order.ID,
		PaymentID:     a.payment.ID,
		ReferenceCode: ref,
		Amount:        a.order.Total,
		Currency:      a.currency,
		Code:          lerr.Code,
		Message:       err.Error(),
	})

	return lerr
}

func (r *Reconciler) publish(ctx context.Context, logger *slog.Logger, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if err := r.publisher.Publish(ctx, e); err != nil {
		logger.Error("publishing event", slog.String("type", string(e.Type)), slog.Any("err", err))
	}
}
