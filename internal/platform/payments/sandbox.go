package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// Sandbox hold states.
const (
	HoldAuthorized = "requires_capture"
	HoldCaptured   = "succeeded"
	HoldCanceled   = "canceled"
	HoldRefunded   = "refunded"
)

// SandboxHold is one hold as the sandbox sees it.
type SandboxHold struct {
	Ref      string
	PayerRef string
	Amount   decimal.Decimal
	Status   string
}

// Sandbox is an in-process PaymentGateway. It honours idempotency keys and
// lets callers script failures per operation.
type Sandbox struct {
	mu       sync.Mutex
	holds    map[string]*SandboxHold
	byKey    map[string]string
	declined map[string]bool
	failNext map[string][]error
	calls    map[string]int
}

// NewSandbox creates an empty Sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{
		holds:    make(map[string]*SandboxHold),
		byKey:    make(map[string]string),
		declined: make(map[string]bool),
		failNext: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// Decline makes every authorization for payerRef fail permanently.
func (s *Sandbox) Decline(payerRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declined[payerRef] = true
}

// FailNext queues err for the next call of op ("authorize", "capture",
// "cancel" or "refund").
func (s *Sandbox) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = append(s.failNext[op], err)
}

// Calls returns how many times op reached the sandbox, failures included.
func (s *Sandbox) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Hold returns the hold for ref.
func (s *Sandbox) Hold(ref string) (SandboxHold, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[ref]
	if !ok {
		return SandboxHold{}, false
	}
	return *h, true
}

// Holds returns the number of distinct holds created.
func (s *Sandbox) Holds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holds)
}

// enter counts the call and pops a scripted failure. Callers hold s.mu.
func (s *Sandbox) enter(op string) error {
	s.calls[op]++
	if q := s.failNext[op]; len(q) > 0 {
		s.failNext[op] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Sandbox) AuthorizeHold(_ context.Context, req domain.HoldRequest) (domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("authorize"); err != nil {
		return domain.Hold{}, err
	}
	if ref, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return domain.Hold{PaymentRef: ref, Status: s.holds[ref].Status}, nil
	}
	if s.declined[req.PayerRef] {
		return domain.Hold{}, &domain.PaymentError{Op: "authorize", Code: "card_declined", Message: "card declined", Permanent: true}
	}
	ref := "pi_" + uuid.NewString()
	s.holds[ref] = &SandboxHold{Ref: ref, PayerRef: req.PayerRef, Amount: req.Amount, Status: HoldAuthorized}
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = ref
	}
	return domain.Hold{PaymentRef: ref, Status: HoldAuthorized}, nil
}

func (s *Sandbox) CaptureHold(_ context.Context, paymentRef, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("capture"); err != nil {
		return err
	}
	h, ok := s.holds[paymentRef]
	if !ok {
		return &domain.PaymentError{Op: "capture", Code: "resource_missing", Message: "no such hold " + paymentRef, Permanent: true}
	}
	switch h.Status {
	case HoldCaptured:
		return nil
	case HoldAuthorized:
		h.Status = HoldCaptured
		return nil
	default:
		return &domain.PaymentError{Op: "capture", Code: h.Status, Message: fmt.Sprintf("hold is %s", h.Status), Permanent: true}
	}
}

func (s *Sandbox) CancelOrRefundHold(_ context.Context, paymentRef string, captured bool, _ string) error {
	op := "cancel"
	if captured {
		op = "refund"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(op); err != nil {
		return err
	}
	h, ok := s.holds[paymentRef]
	if !ok {
		return &domain.PaymentError{Op: op, Code: "resource_missing", Message: "no such hold " + paymentRef, Permanent: true}
	}
	switch {
	case h.Status == HoldCanceled || h.Status == HoldRefunded:
		return nil
	case h.Status == HoldAuthorized && !captured:
		h.Status = HoldCanceled
	case h.Status == HoldCaptured && captured:
		h.Status = HoldRefunded
	default:
		return &domain.PaymentError{Op: op, Code: h.Status, Message: fmt.Sprintf("hold is %s", h.Status), Permanent: true}
	}
	return nil
}

// Compile-time interface check.
var _ domain.PaymentGateway = (*Sandbox)(nil)
