// Package processortest provides an in-memory gateway that records every call.
package processortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/alovak/cardflow-checkout/internal/processor"
	"github.com/shopspring/decimal"
)

// Call is one recorded gateway interaction.
type Call struct {
	Op      processor.Op
	Request any
}

// Fake answers every operation with success unless a hook overrides it.
type Fake struct {
	AuthorizeFn func(ctx context.Context, req processor.AuthorizationRequest) (*processor.AuthorizationResult, error)
	VoidFn      func(ctx context.Context, req processor.VoidRequest) (*processor.VoidResult, error)

	mu    sync.Mutex
	calls []Call
	seq   int
}

var _ processor.Processor = (*Fake)(nil)

func (f *Fake) record(op processor.Op, req any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, Request: req})
	f.seq++
	return fmt.Sprintf("retref%d", f.seq)
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ops returns the operations of the recorded calls in order.
func (f *Fake) Ops() []processor.Op {
	var ops []processor.Op
	for _, c := range f.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

func (f *Fake) Authorize(ctx context.Context, req processor.AuthorizationRequest) (*processor.AuthorizationResult, error) {
	ref := f.record(processor.OpAuthorize, req)
	if f.AuthorizeFn != nil {
		return f.AuthorizeFn(ctx, req)
	}
	return &processor.AuthorizationResult{Result: approved(ref, req.Amount)}, nil
}

func (f *Fake) Void(ctx context.Context, req processor.VoidRequest) (*processor.VoidResult, error) {
	f.record(processor.OpVoid, req)
	if f.VoidFn != nil {
		return f.VoidFn(ctx, req)
	}
	res := approved(req.ReferenceCode, req.Amount)
	res.AuthCode = "REVERS"
	return &processor.VoidResult{Result: res}, nil
}

func (f *Fake) Capture(ctx context.Context, req processor.CaptureRequest) (*processor.CaptureResult, error) {
	f.record(processor.OpCapture, req)
	return &processor.CaptureResult{Result: approved(req.ReferenceCode, req.Amount)}, nil
}

func (f *Fake) Refund(ctx context.Context, req processor.RefundRequest) (*processor.RefundResult, error) {
	ref := f.record(processor.OpRefund, req)
	return &processor.RefundResult{Result: approved(ref, req.Amount)}, nil
}

func (f *Fake) Inquire(ctx context.Context, req processor.InquireRequest) (*processor.InquireResult, error) {
	f.record(processor.OpInquire, req)
	return &processor.InquireResult{Result: approved(req.ReferenceCode, decimal.Zero), Status: "Authorized"}, nil
}

func approved(ref string, amount decimal.Decimal) processor.Result {
	return processor.Result{
		Amount:        amount,
		ReferenceCode: ref,
		Succeeded:     true,
		ResponseCode:  "00",
		ResponseText:  "Approval",
		AuthCode:      "PPS123",
		Raw:           []byte(fmt.Sprintf(`{"retref":%q,"respstat":"A","amount":%q}`, ref, amount.StringFixed(2))),
	}
}
