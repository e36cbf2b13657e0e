// Package cardconnect is a REST client for a CardConnect-style card gateway.
package cardconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alovak/cardflow-checkout/internal/expiry"
	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/shopspring/decimal"
)

const approvedStatus = "A"

type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

var _ processor.Processor = (*Client)(nil)

func New(baseURL, username, password string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: hc,
	}
}

type authRequest struct {
	MerchID  string `json:"merchid"`
	Account  string `json:"account"`
	Expiry   string `json:"expiry,omitempty"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Name     string `json:"name,omitempty"`
	Address  string `json:"address,omitempty"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
	Postal   string `json:"postal,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	CVV2     string `json:"cvv2,omitempty"`
	OrderID  string `json:"orderid,omitempty"`
	Capture  string `json:"capture"`
}

type referenceRequest struct {
	MerchID  string `json:"merchid"`
	RetRef   string `json:"retref"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

type response struct {
	RespStat string `json:"respstat"`
	RetRef   string `json:"retref"`
	Amount   string `json:"amount"`
	MerchID  string `json:"merchid"`
	RespCode string `json:"respcode"`
	RespText string `json:"resptext"`
	AuthCode string `json:"authcode"`
	Token    string `json:"token,omitempty"`
	SetlStat string `json:"setlstat,omitempty"`
	CVVResp  string `json:"cvvresp,omitempty"`
	AVSResp  string `json:"avsresp,omitempty"`
}

func (r response) result(raw []byte) processor.Result {
	amount, _ := decimal.NewFromString(r.Amount)
	return processor.Result{
		ReferenceCode: r.RetRef,
		Succeeded:     r.RespStat == approvedStatus,
		ResponseCode:  r.RespCode,
		ResponseText:  r.RespText,
		AuthCode:      r.AuthCode,
		Amount:        amount,
		Raw:           processor.RawJSON(raw),
	}
}

func (c *Client) Authorize(ctx context.Context, req processor.AuthorizationRequest) (*processor.AuthorizationResult, error) {
	account := req.Card.Token
	if account == "" {
		account = req.Card.AccountNumber
	}
	body := authRequest{
		MerchID:  req.MerchantID,
		Account:  account,
		Expiry:   yymmToMMYY(req.Card.ExpirationDate),
		Amount:   req.Amount.StringFixed(2),
		Currency: req.Currency,
		Name:     req.Card.CardholderName,
		Address:  req.Billing.Street1,
		Address2: req.Billing.Street2,
		City:     req.Billing.City,
		Region:   req.Billing.State,
		Country:  req.Billing.Country,
		Postal:   req.Billing.Zip,
		Phone:    req.Billing.Phone,
		Email:    req.Billing.Email,
		CVV2:     req.Card.CVV,
		OrderID:  req.OrderID,
		Capture:  "N",
	}
	res, err := c.exchange(ctx, processor.OpAuthorize, http.MethodPut, "/auth", body)
	if err != nil {
		return nil, err
	}
	return &processor.AuthorizationResult{Result: res}, nil
}

func (c *Client) Void(ctx context.Context, req processor.VoidRequest) (*processor.VoidResult, error) {
	body := referenceRequest{MerchID: req.MerchantID, RetRef: req.ReferenceCode, Currency: req.Currency}
	if !req.Amount.IsZero() {
		body.Amount = req.Amount.StringFixed(2)
	}
	res, err := c.exchange(ctx, processor.OpVoid, http.MethodPut, "/void", body)
	if err != nil {
		return nil, err
	}
	return &processor.VoidResult{Result: res}, nil
}

func (c *Client) Capture(ctx context.Context, req processor.CaptureRequest) (*processor.CaptureResult, error) {
	body := referenceRequest{MerchID: req.MerchantID, RetRef: req.ReferenceCode, Amount: req.Amount.StringFixed(2), Currency: req.Currency}
	res, err := c.exchange(ctx, processor.OpCapture, http.MethodPut, "/capture", body)
	if err != nil {
		return nil, err
	}
	return &processor.CaptureResult{Result: res}, nil
}

func (c *Client) Refund(ctx context.Context, req processor.RefundRequest) (*processor.RefundResult, error) {
	body := referenceRequest{MerchID: req.MerchantID, RetRef: req.ReferenceCode, Amount: req.Amount.StringFixed(2), Currency: req.Currency}
	res, err := c.exchange(ctx, processor.OpRefund, http.MethodPut, "/refund", body)
	if err != nil {
		return nil, err
	}
	return &processor.RefundResult{Result: res}, nil
}

func (c *Client) Inquire(ctx context.Context, req processor.InquireRequest) (*processor.InquireResult, error) {
	path := fmt.Sprintf("/inquire/%s/%s", req.ReferenceCode, req.MerchantID)
	status, raw, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &processor.Error{Op: processor.OpInquire, StatusCode: status, Raw: processor.RawJSON(raw), Message: "inquire request failed", Err: err}
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &processor.Error{Op: processor.OpInquire, StatusCode: status, Raw: processor.RawJSON(raw), Message: "decode inquire response", Err: err}
	}
	res := resp.result(raw)
	if !res.Succeeded {
		return nil, processor.Declined(processor.OpInquire, res)
	}
	return &processor.InquireResult{Result: res, Status: resp.SetlStat}, nil
}

// exchange sends body and decodes the gateway response; a response that is not
// approved is reported as a processor.Error carrying the decoded result.
func (c *Client) exchange(ctx context.Context, op processor.Op, method, path string, body any) (processor.Result, error) {
	status, raw, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return processor.Result{}, &processor.Error{Op: op, StatusCode: status, Raw: processor.RawJSON(raw), Message: fmt.Sprintf("%s request failed", op), Err: err}
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return processor.Result{}, &processor.Error{Op: op, StatusCode: status, Raw: processor.RawJSON(raw), Message: fmt.Sprintf("decode %s response", op), Err: err}
	}
	res := resp.result(raw)
	if !res.Succeeded {
		return res, processor.Declined(op, res)
	}
	return res, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, data, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp.StatusCode, data, nil
}

// yymmToMMYY converts the stored YYMM expiry to the MMYY the gateway expects.
// Malformed values are passed through so the gateway reports them.
func yymmToMMYY(yymm string) string {
	mmyy, err := expiry.ToMMYY(yymm)
	if err != nil {
		return yymm
	}
	return mmyy
}
