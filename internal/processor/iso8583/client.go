package iso8583

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/moov-io/iso8583"
	connection "github.com/moov-io/iso8583-connection"
	"github.com/shopspring/decimal"
)

const (
	processingPurchase = "000000"
	processingRefund   = "200000"
	processingInquiry  = "310000"

	responseApproved = "00"
)

var responseTexts = map[string]string{
	"00": "Approved",
	"05": "Do not honor",
	"14": "Invalid card number",
	"25": "Unable to locate record",
	"51": "Insufficient funds",
	"54": "Expired card",
	"91": "Issuer unavailable",
	"96": "System malfunction",
}

// numeric ISO 4217 codes for field 49
var currencyCodes = map[string]string{
	"USD": "840",
	"CAD": "124",
	"EUR": "978",
	"GBP": "826",
	"JPY": "392",
	"AUD": "036",
	"MXN": "484",
	"KWD": "414",
}

type sender interface {
	Send(message *iso8583.Message) (*iso8583.Message, error)
}

var _ processor.Processor = (*Client)(nil)

// Client is a processor.Processor speaking ISO 8583 to an acquiring host
// over a persistent TCP connection.
type Client struct {
	conn   sender
	closer io.Closer
	stan   atomic.Uint32
	now    func() time.Time
}

// Dial connects to the acquiring host at addr.
func Dial(addr string, sendTimeout time.Duration) (*Client, error) {
	conn, err := connection.New(addr, spec, readMessageLength, writeMessageLength,
		connection.SendTimeout(sendTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connection: %w", err)
	}

	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	return &Client{conn: conn, closer: conn, now: time.Now}, nil
}

// NewWithSender builds a client on top of any link that can exchange messages.
func NewWithSender(s sender) *Client {
	return &Client{conn: s, now: time.Now}
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) Authorize(ctx context.Context, req processor.AuthorizationRequest) (*processor.AuthorizationResult, error) {
	msg, err := c.newMessage("0100", processingPurchase, req.Currency, req.Amount)
	if err != nil {
		return nil, processor.AsError(processor.OpAuthorize, err)
	}

	fields := map[int]string{
		fieldMerchantID: req.MerchantID,
		fieldExpiry:     req.Card.ExpirationDate,
	}
	if req.Card.AccountNumber != "" {
		fields[fieldPAN] = req.Card.AccountNumber
	}
	if req.Card.Token != "" {
		fields[fieldCardToken] = req.Card.Token
	}
	if req.Card.CVV != "" {
		fields[fieldCVV] = req.Card.CVV
	}
	if err := setFields(msg, fields); err != nil {
		return nil, processor.AsError(processor.OpAuthorize, err)
	}

	res, err := c.exchange(ctx, processor.OpAuthorize, msg, req.Amount)
	if err != nil {
		return nil, err
	}
	return &processor.AuthorizationResult{Result: res}, nil
}

func (c *Client) Void(ctx context.Context, req processor.VoidRequest) (*processor.VoidResult, error) {
	msg, err := c.newMessage("0400", processingPurchase, req.Currency, req.Amount)
	if err != nil {
		return nil, processor.AsError(processor.OpVoid, err)
	}

	err = setFields(msg, map[int]string{
		fieldMerchantID: req.MerchantID,
		fieldRRN:        req.ReferenceCode,
	})
	if err != nil {
		return nil, processor.AsError(processor.OpVoid, err)
	}

	res, err := c.exchange(ctx, processor.OpVoid, msg, req.Amount)
	if err != nil {
		return nil, err
	}
	if res.ReferenceCode == "" {
		res.ReferenceCode = req.ReferenceCode
	}
	return &processor.VoidResult{Result: res}, nil
}

func (c *Client) Capture(ctx context.Context, req processor.CaptureRequest) (*processor.CaptureResult, error) {
	msg, err := c.newMessage("0220", processingPurchase, req.Currency, req.Amount)
	if err != nil {
		return nil, processor.AsError(processor.OpCapture, err)
	}

	err = setFields(msg, map[int]string{
		fieldMerchantID: req.MerchantID,
		fieldRRN:        req.ReferenceCode,
	})
	if err != nil {
		return nil, processor.AsError(processor.OpCapture, err)
	}

	res, err := c.exchange(ctx, processor.OpCapture, msg, req.Amount)
	if err != nil {
		return nil, err
	}
	return &processor.CaptureResult{Result: res}, nil
}

func (c *Client) Refund(ctx context.Context, req processor.RefundRequest) (*processor.RefundResult, error) {
	msg, err := c.newMessage("0200", processingRefund, req.Currency, req.Amount)
	if err != nil {
		return nil, processor.AsError(processor.OpRefund, err)
	}

	err = setFields(msg, map[int]string{
		fieldMerchantID: req.MerchantID,
		fieldRRN:        req.ReferenceCode,
	})
	if err != nil {
		return nil, processor.AsError(processor.OpRefund, err)
	}

	res, err := c.exchange(ctx, processor.OpRefund, msg, req.Amount)
	if err != nil {
		return nil, err
	}
	return &processor.RefundResult{Result: res}, nil
}

func (c *Client) Inquire(ctx context.Context, req processor.InquireRequest) (*processor.InquireResult, error) {
	msg := iso8583.NewMessage(spec)
	err := setFields(msg, map[int]string{
		0:                   "0100",
		fieldProcessingCode: processingInquiry,
		fieldTransmission:   c.now().UTC().Format("0102150405"),
		fieldSTAN:           c.nextSTAN(),
		fieldMerchantID:     req.MerchantID,
		fieldRRN:            req.ReferenceCode,
	})
	if err != nil {
		return nil, processor.AsError(processor.OpInquire, err)
	}

	res, err := c.exchange(ctx, processor.OpInquire, msg, decimal.Zero)
	if err != nil {
		return nil, err
	}
	return &processor.InquireResult{Result: res, Status: res.ResponseText}, nil
}

func (c *Client) newMessage(mti, processingCode, currency string, amount decimal.Decimal) (*iso8583.Message, error) {
	numeric, ok := currencyCodes[currency]
	if !ok {
		return nil, fmt.Errorf("unsupported currency %q", currency)
	}

	minor := amount.Shift(models.MinorUnits(currency)).Round(0)
	if minor.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", amount)
	}

	msg := iso8583.NewMessage(spec)
	err := setFields(msg, map[int]string{
		0:                   mti,
		fieldProcessingCode: processingCode,
		fieldAmount:         minor.StringFixed(0),
		fieldTransmission:   c.now().UTC().Format("0102150405"),
		fieldSTAN:           c.nextSTAN(),
		fieldCurrency:       numeric,
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func (c *Client) exchange(ctx context.Context, op processor.Op, msg *iso8583.Message, amount decimal.Decimal) (processor.Result, error) {
	type reply struct {
		msg *iso8583.Message
		err error
	}

	// the connection enforces its own send timeout; ctx only lets callers stop waiting
	done := make(chan reply, 1)
	go func() {
		resp, err := c.conn.Send(msg)
		done <- reply{resp, err}
	}()

	var resp *iso8583.Message
	select {
	case <-ctx.Done():
		return processor.Result{}, processor.AsError(op, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return processor.Result{}, processor.AsError(op, fmt.Errorf("sending message: %w", r.err))
		}
		resp = r.msg
	}

	code, err := resp.GetString(fieldResponseCode)
	if err != nil {
		return processor.Result{}, processor.AsError(op, fmt.Errorf("reading response code: %w", err))
	}

	res := processor.Result{
		ResponseCode: code,
		ResponseText: responseTexts[code],
		Succeeded:    code == responseApproved,
		Amount:       amount,
	}
	res.ReferenceCode, _ = resp.GetString(fieldRRN)
	res.AuthCode, _ = resp.GetString(fieldAuthCode)
	res.Raw = describe(resp)

	if !res.Succeeded {
		return res, processor.Declined(op, res)
	}

	return res, nil
}

func (c *Client) nextSTAN() string {
	return fmt.Sprintf("%06d", c.stan.Add(1)%1000000)
}

func setFields(msg *iso8583.Message, fields map[int]string) error {
	for id, val := range fields {
		if id == 0 {
			msg.MTI(val)
			continue
		}
		if err := msg.Field(id, val); err != nil {
			return fmt.Errorf("setting field %d: %w", id, err)
		}
	}
	return nil
}

// describe renders the response fields the ledger keeps as raw payload.
func describe(msg *iso8583.Message) json.RawMessage {
	out := map[string]string{}
	if mti, err := msg.GetMTI(); err == nil {
		out["mti"] = mti
	}
	for _, id := range []int{fieldAmount, fieldSTAN, fieldRRN, fieldAuthCode, fieldResponseCode, fieldMerchantID, fieldCurrency} {
		if v, err := msg.GetString(id); err == nil && v != "" {
			out[fmt.Sprintf("%d", id)] = v
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return raw
}

func readMessageLength(r io.Reader) (int, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, fmt.Errorf("reading length header: %w", err)
	}
	return int(binary.BigEndian.Uint16(header[:])), nil
}

func writeMessageLength(w io.Writer, length int) (int, error) {
	if length > 0xFFFF {
		return 0, fmt.Errorf("message length %d exceeds header capacity", length)
	}
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(length))
	return w.Write(header[:])
}
