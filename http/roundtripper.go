package http

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"go.uber.org/zap"

	x402 "github.com/tipmd/x402-tipping"
)

// PaymentRoundTripper answers one 402 challenge per request with a payment
// from Payer. A request that already carries X-PAYMENT is never paid again.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Payer     Payer
	// MaxAmount caps maxAmountRequired in atomic units. Nil pays any amount.
	MaxAmount *big.Int
	log       *zap.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.transport().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired || req.Header.Get(x402.HeaderPayment) != "" {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	var challenge x402.PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("%w: invalid payment challenge: %v", ErrPaymentCreation, err)
	}

	selected, err := t.selectRequirements(challenge.Accepts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentCreation, err)
	}

	ctx := req.Context()
	payload, err := t.Payer.CreatePaymentPayload(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentCreation, err)
	}
	header, err := payload.EncodeToBase64String()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentCreation, err)
	}

	paid := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("%w: request body cannot be replayed", ErrPaymentCreation)
		}
		paid.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to reset request body: %w", err)
		}
	}
	paid.Header.Set(x402.HeaderPayment, header)

	t.logger().Debug("retrying with payment",
		zap.String("url", req.URL.String()),
		zap.String("network", selected.Network),
		zap.String("amount", selected.MaxAmountRequired),
		zap.String("payTo", selected.PayTo))

	return t.transport().RoundTrip(paid)
}

func (t *PaymentRoundTripper) selectRequirements(accepts []x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	overLimit := false
	for _, r := range accepts {
		if !t.Payer.Supports(r) {
			continue
		}
		if !t.withinLimit(r) {
			overLimit = true
			continue
		}
		return r, nil
	}
	if overLimit {
		return x402.PaymentRequirements{}, ErrAmountExceeded
	}
	return x402.PaymentRequirements{}, x402.ErrNoMatchingScheme
}

func (t *PaymentRoundTripper) withinLimit(r x402.PaymentRequirements) bool {
	if t.MaxAmount == nil {
		return true
	}
	amount, ok := new(big.Int).SetString(r.MaxAmountRequired, 10)
	return ok && amount.Sign() >= 0 && amount.Cmp(t.MaxAmount) <= 0
}

func (t *PaymentRoundTripper) transport() http.RoundTripper {
	if t.Transport == nil {
		return http.DefaultTransport
	}
	return t.Transport
}

func (t *PaymentRoundTripper) logger() *zap.Logger {
	if t.log == nil {
		return zap.NewNop()
	}
	return t.log
}
