// Package facilitator talks to an x402 facilitator service, which checks
// payment authorizations and broadcasts them on chain.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/tipmd/x402-tipping"
)

const (
	// DefaultURL is the public x402 facilitator.
	DefaultURL = "https://x402.org/facilitator"

	// DefaultTimeout bounds a single facilitator call.
	DefaultTimeout = 30 * time.Second

	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	actionVerify    = "verify"
	actionSettle    = "settle"
	actionSupported = "supported"
)

// Facilitator is what the payment gate needs from a facilitator.
type Facilitator interface {
	Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error)
	Supported(ctx context.Context) (*x402.SupportedResponse, error)
}

// AuthHeadersFunc returns extra headers keyed by action ("verify", "settle",
// "supported").
type AuthHeadersFunc func() (map[string]map[string]string, error)

// Config configures a Client.
type Config struct {
	URL               string
	Timeout           time.Duration
	CreateAuthHeaders AuthHeadersFunc
}

// Client is an HTTP facilitator client.
type Client struct {
	URL               string
	HTTPClient        *http.Client
	CreateAuthHeaders AuthHeadersFunc
}

var _ Facilitator = (*Client)(nil)

// NewClient creates a facilitator client. A nil config uses DefaultURL.
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	url := config.URL
	if url == "" {
		url = DefaultURL
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		URL:               strings.TrimSuffix(url, "/"),
		HTTPClient:        &http.Client{Timeout: timeout},
		CreateAuthHeaders: config.CreateAuthHeaders,
	}
}

// BearerAuth returns an AuthHeadersFunc that sends the same bearer token on
// every action.
func BearerAuth(token string) AuthHeadersFunc {
	return func() (map[string]map[string]string, error) {
		h := map[string]string{"Authorization": "Bearer " + token}
		return map[string]map[string]string{
			actionVerify:    h,
			actionSettle:    h,
			actionSupported: h,
		}, nil
	}
}

type paymentRequest struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator whether payload satisfies requirements.
func (c *Client) Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	body := paymentRequest{X402Version: x402.X402Version, PaymentPayload: payload, PaymentRequirements: requirements}
	if err := c.do(ctx, http.MethodPost, actionVerify, body, &out); err != nil {
		return nil, fmt.Errorf("failed to verify payment: %w", err)
	}
	return &out, nil
}

// Settle asks the facilitator to execute the payment on chain.
func (c *Client) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var out x402.SettleResponse
	body := paymentRequest{X402Version: x402.X402Version, PaymentPayload: payload, PaymentRequirements: requirements}
	if err := c.do(ctx, http.MethodPost, actionSettle, body, &out); err != nil {
		return nil, fmt.Errorf("failed to settle payment: %w", err)
	}
	return &out, nil
}

// Supported lists the scheme/network pairs the facilitator handles.
func (c *Client) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	var out x402.SupportedResponse
	if err := c.do(ctx, http.MethodGet, actionSupported, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get supported payment kinds: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, action string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+"/"+action, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	if err := c.addAuthHeader(req, action); err != nil {
		return fmt.Errorf("failed to apply %s auth headers: %w", action, err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		code := x402.ErrCodeFacilitatorRejected
		if action == actionSettle {
			code = x402.ErrCodeSettlementFailed
		}
		return &x402.PaymentError{
			Code:    code,
			Message: fmt.Sprintf("facilitator returned %s: %s", resp.Status, strings.TrimSpace(string(msg))),
			Details: map[string]any{"action": action, "status": resp.StatusCode},
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	return nil
}

func (c *Client) addAuthHeader(req *http.Request, action string) error {
	if c.CreateAuthHeaders == nil {
		return nil
	}

	headers, err := c.CreateAuthHeaders()
	if err != nil {
		return fmt.Errorf("create auth headers: %w", err)
	}

	for key, value := range headers[action] {
		req.Header.Set(key, value)
	}
	return nil
}
