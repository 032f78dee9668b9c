// Package http is the paying side of x402: an http.RoundTripper that answers
// a 402 challenge by signing a payment and replaying the request once.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	x402 "github.com/tipmd/x402-tipping"
)

// DefaultTimeout bounds a whole Post, including the paid retry.
const DefaultTimeout = 30 * time.Second

var (
	// ErrPaymentCreation wraps failures to build or sign a payment.
	ErrPaymentCreation = errors.New("x402http: failed to create payment")
	// ErrRetryLimit marks a 402 returned for a request that already carried a payment.
	ErrRetryLimit = errors.New("x402http: payment rejected after retry")
	// ErrAmountExceeded marks a challenge asking for more than the client's
	// MaxAmount.
	ErrAmountExceeded = errors.New("x402http: requested amount exceeds limit")
)

// Payer produces payments for the requirements it supports.
type Payer interface {
	Supports(requirements x402.PaymentRequirements) bool
	CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (*x402.PaymentPayload, error)
}

// StatusError is returned by Client.Post for any non-2xx final response.
type StatusError struct {
	StatusCode int
	Body       []byte
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("x402http: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, ErrRetryLimit) detect a rejected payment. Post
// only ever sees a final 402 after the round tripper has paid once.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusPaymentRequired {
		return ErrRetryLimit
	}
	return nil
}

// Response is a successful reply from a payment-gated endpoint.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Settlement *x402.SettleResponse
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client posts JSON to a payment-gated service.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithTransport sets the transport under the payment round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport.(*PaymentRoundTripper).Transport = rt
	}
}

// WithMaxAmount refuses to pay challenges above atomic units.
func WithMaxAmount(atomic *big.Int) Option {
	return func(c *Client) {
		c.http.Transport.(*PaymentRoundTripper).MaxAmount = atomic
	}
}

// NewClient builds a Client for baseURL that pays with payer.
func NewClient(baseURL string, payer Payer, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &PaymentRoundTripper{
				Transport: http.DefaultTransport,
				Payer:     payer,
			},
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Transport.(*PaymentRoundTripper).log = c.log
	return c
}

// Post sends body as JSON to path. A 2xx reply returns a Response; any other
// final status returns a *StatusError.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			Message:    errorMessage(resp.StatusCode, respBody),
		}
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}
	if h := resp.Header.Get(x402.HeaderPaymentResponse); h != "" {
		settle, err := x402.DecodeSettleResponseFromBase64(h)
		if err != nil {
			c.log.Warn("undecodable payment response header", zap.Error(err))
		} else {
			out.Settlement = settle
		}
	}
	return out, nil
}

// errorMessage pulls "error" and "details" out of a JSON error body.
func errorMessage(status int, body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		if parsed.Details != "" {
			return parsed.Error + ": " + parsed.Details
		}
		return parsed.Error
	}
	if len(body) > 0 && len(body) <= 512 {
		return strings.TrimSpace(string(body))
	}
	return http.StatusText(status)
}
