package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/cardutil"
	"github.com/alovak/cardflow-checkout/internal/suppliersync"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const devCardBIN = "411111"

// API is a HTTP API for the checkout service
type API struct {
	reconciler *Reconciler
	calculator *Calculator
	suppliers  *suppliersync.Dispatcher
	store      Store
	logger     *slog.Logger
}

func NewAPI(c *Components) *API {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		logger:     logger.With(slog.String("component", "api")),
		reconciler: c.Reconciler,
		calculator: c.Calculator,
		suppliers:  c.Suppliers,
		store:      c.Store,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/payments", a.listPayments)
		r.Post("/payments/authorize", a.authorizePayment)
		r.Get("/calculate", a.calculateOrder)
	})
	r.Get("/supplier-orders/{orderID}", a.getSupplierOrder)
}

// AppendDevRoutes mounts the seeding endpoints used against sandboxes.
func (a *API) AppendDevRoutes(r chi.Router) {
	r.Route("/dev", func(r chi.Router) {
		r.Post("/users", a.createUser)
		r.Post("/orders", a.createOrder)
		r.Post("/cards", a.createCard)
		r.Post("/orders/{orderID}/payments", a.createPayment)
	})
}

type authorizeRequest struct {
	CreditCardID      string                    `json:"creditCardID"`
	CVV               string                    `json:"cvv"`
	MerchantID        string                    `json:"merchantID,omitempty"`
	Currency          string                    `json:"currency,omitempty"`
	Direction         models.Direction          `json:"direction,omitempty"`
	CreditCardDetails *models.CreditCardDetails `json:"creditCardDetails,omitempty"`
}

func (a *API) authorizePayment(w http.ResponseWriter, r *http.Request) {
	var body authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, validationError("Request.Invalid", err.Error()))
		return
	}

	req := models.CCPayment{
		OrderID:           chi.URLParam(r, "orderID"),
		Direction:         body.Direction,
		CreditCardID:      body.CreditCardID,
		CreditCardDetails: body.CreditCardDetails,
		CVV:               body.CVV,
		Currency:          body.Currency,
	}

	payment, err := a.reconciler.AuthorizePayment(r.Context(), req, bearerToken(r), body.MerchantID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, payment)
}

func (a *API) listPayments(w http.ResponseWriter, r *http.Request) {
	dir := models.Direction(r.URL.Query().Get("direction"))
	if dir == "" {
		dir = models.DirectionIncoming
	}

	payments, err := a.store.ListCreditCardPayments(r.Context(), dir, chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}

	a.writeJSON(w, http.StatusOK, payments)
}

func (a *API) calculateOrder(w http.ResponseWriter, r *http.Request) {
	calc, err := a.calculator.CalculateOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, calc)
}

func (a *API) getSupplierOrder(w http.ResponseWriter, r *http.Request) {
	orderType := models.OrderType(r.URL.Query().Get("type"))
	if orderType == "" {
		orderType = models.OrderTypeStandard
	}

	var caller suppliersync.Caller
	if token := bearerToken(r); token != "" {
		user, err := a.store.GetUser(r.Context(), token)
		if err != nil && !errors.Is(err, ErrNotFound) {
			a.writeError(w, err)
			return
		}
		if user != nil {
			caller = suppliersync.Caller{UserID: user.ID, Seller: user.Seller, SupplierID: user.SupplierID}
		}
	}

	detail, err := a.suppliers.GetOrder(r.Context(), chi.URLParam(r, "orderID"), orderType, caller)
	if err != nil {
		switch {
		case errors.Is(err, suppliersync.ErrUnauthorized):
			a.writeErrorBody(w, http.StatusForbidden, "Order.Unauthorized", err.Error(), nil)
		case errors.Is(err, suppliersync.ErrNotFound):
			a.writeErrorBody(w, http.StatusNotFound, CodeOrderNotFound, err.Error(), nil)
		default:
			a.writeError(w, err)
		}
		return
	}

	a.writeJSON(w, http.StatusOK, detail)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Token == "" {
		user.Token = uuid.New().String()
	}
	if err := a.store.SaveUser(r.Context(), &user); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, user)
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var order models.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if err := a.store.SaveOrder(r.Context(), &order); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, order)
}

func (a *API) createCard(w http.ResponseWriter, r *http.Request) {
	var card models.BuyerCreditCard
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if card.ID == "" {
		card.ID = uuid.New().String()
	}
	// sandbox cards without a token get a generated Luhn-valid test number
	if card.Token == "" {
		pan, err := cardutil.TestPAN(devCardBIN, 16)
		if err != nil {
			a.writeError(w, err)
			return
		}
		card.Token = pan
		card.PartialAccountNumber = cardutil.LastN(pan, 4)
	}
	if err := a.store.SaveCreditCard(r.Context(), &card); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, card)
}

func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	var payment models.Payment
	if err := json.NewDecoder(r.Body).Decode(&payment); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	payment.OrderID = chi.URLParam(r, "orderID")

	dir := models.Direction(r.URL.Query().Get("direction"))
	if dir == "" {
		dir = models.DirectionIncoming
	}
	if err := a.store.CreatePayment(r.Context(), dir, &payment); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, payment)
}

type apiError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
}

type errorBody struct {
	Errors []apiError `json:"errors"`
}

// StatusCode maps an error kind to the HTTP status shown to API clients.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindMissingCreditCardPayment:
		return http.StatusUnprocessableEntity
	case KindFailedToVoidAuthorization, KindCreditCardAuth:
		return http.StatusPaymentRequired
	case KindLedgerWriteFailure:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var e *Error
	switch {
	case errors.As(err, &e):
		a.writeErrorBody(w, StatusCode(e.Kind), e.Code, e.Message, e.Data)
	case errors.Is(err, ErrNotFound):
		a.writeErrorBody(w, http.StatusNotFound, "NotFound", err.Error(), nil)
	case errors.Is(err, ErrConflict):
		a.writeErrorBody(w, http.StatusConflict, "Conflict", err.Error(), nil)
	default:
		a.writeErrorBody(w, http.StatusInternalServerError, "InternalServerError", err.Error(), nil)
	}
}

func (a *API) writeErrorBody(w http.ResponseWriter, status int, code, message string, data any) {
	a.writeJSON(w, status, errorBody{Errors: []apiError{{ErrorCode: code, Message: message, Data: data}}})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("encoding response", slog.Int("status", status), slog.Any("err", err))
		status = http.StatusInternalServerError
		body = []byte(`{"errors":[{"errorCode":"InternalServerError","message":"response could not be encoded"}]}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		a.logger.Debug("writing response", slog.Any("err", err))
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
