package gateway

import "fmt"

// AuthError reports a failed session open: either the credential login or
// the certificate activation step. It is fatal for a reconciliation pass.
type AuthError struct {
	Stage string // "login" or "activate_ca"
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed during %s: %v", e.Stage, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RejectError reports a rejected order submission with the brokerage's
// reason. Per-order and non-fatal: the standing order stays put and is
// retried on the next pass.
type RejectError struct {
	InstrumentID string
	Reason       string
	Err          error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("order for %s rejected: %s", e.InstrumentID, e.Reason)
}

func (e *RejectError) Unwrap() error { return e.Err }

// CancelError reports a failed best-effort cancellation.
type CancelError struct {
	TradeID string
	Err     error
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("cancel of trade %s failed: %v", e.TradeID, e.Err)
}

func (e *CancelError) Unwrap() error { return e.Err }
