package x402

import (
	"errors"
	"fmt"
)

// PaymentError is a failure reported by the payment layer itself, such as a
// facilitator refusing a verify or settle call.
type PaymentError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match a PaymentError against the sentinel of its code.
func (e *PaymentError) Is(target error) bool {
	switch e.Code {
	case ErrCodeSettlementFailed:
		return target == ErrSettlementFailed
	case ErrCodeUnsupportedNetwork:
		return target == ErrUnsupportedNetwork
	}
	return false
}

// Error codes
const (
	ErrCodeFacilitatorRejected = "facilitator_rejected"
	ErrCodeSettlementFailed    = "settlement_failed"
	ErrCodeUnsupportedNetwork  = "unsupported_network"
)

var (
	ErrPaymentRequired    = errors.New("x402: payment required")
	ErrSettlementFailed   = errors.New("x402: payment settlement failed")
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")
	ErrNoMatchingScheme   = errors.New("x402: no payment requirements match this payer")
)
