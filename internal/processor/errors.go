package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Op string

const (
	OpAuthorize Op = "authorize"
	OpVoid      Op = "void"
	OpCapture   Op = "capture"
	OpRefund    Op = "refund"
	OpInquire   Op = "inquire"
)

// Error is returned for any failed gateway interaction, declines included. It
// carries the structured processor error together with the raw response.
type Error struct {
	Op         Op
	Code       string
	Message    string
	StatusCode int
	// Result is the decoded response when the gateway answered at all.
	Result *Result
	Raw    json.RawMessage
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("processor %s failed", e.Op)
	if e.Code != "" {
		msg += fmt.Sprintf(": code=%s", e.Code)
	}
	if e.Message != "" {
		msg += fmt.Sprintf(" message=%q", e.Message)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a processor error from err. Errors that did not come from the
// gateway (transport, context) are wrapped so callers always get a payload.
func AsError(op Op, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Op: op, Message: err.Error(), Err: err}
}

// Declined builds the error for a response the gateway answered but did not approve.
func Declined(op Op, res Result) *Error {
	return &Error{
		Op:      op,
		Code:    res.ResponseCode,
		Message: res.ResponseText,
		Result:  &res,
		Raw:     res.Raw,
	}
}

// RawJSON returns a gateway body as a JSON value. Bodies that are not JSON,
// such as an HTML error page from a proxy, are kept as a JSON string.
func RawJSON(body []byte) json.RawMessage {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}
