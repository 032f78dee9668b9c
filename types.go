package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// X402Version is the protocol version spoken on the wire by this module.
const X402Version = 1

// SchemeExact is the only payment scheme supported for tips.
const SchemeExact = "exact"

// Header names used by x402 v1.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// PaymentRequirements describes what a resource accepts as payment.
type PaymentRequirements struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description,omitempty"`
	MimeType          string          `json:"mimeType,omitempty"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds,omitempty"`
	Asset             string          `json:"asset"`
	OutputSchema      json.RawMessage `json:"outputSchema,omitempty"`
	Extra             map[string]any  `json:"extra,omitempty"`
}

// ExtraString returns a string value from the Extra map, or "" when absent.
func (p PaymentRequirements) ExtraString(key string) string {
	if p.Extra == nil {
		return ""
	}
	v, _ := p.Extra[key].(string)
	return v
}

// PaymentPayload is the decoded content of the X-PAYMENT header.
// Payload is scheme and network specific; see ExactEvmPayload and ExactSvmPayload.
type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyResponse is returned by a facilitator's /verify endpoint.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is returned by a facilitator's /settle endpoint and echoed to
// the client in the X-PAYMENT-RESPONSE header.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// SupportedKind is one scheme/network pair advertised by a facilitator.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is returned by a facilitator's /supported endpoint.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// ExactEvmAuthorization is the EIP-3009 TransferWithAuthorization message.
type ExactEvmAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload is the exact-scheme payload for EVM networks.
type ExactEvmPayload struct {
	Signature     string                `json:"signature"`
	Authorization ExactEvmAuthorization `json:"authorization"`
}

// ToMap converts the payload into the generic PaymentPayload.Payload form.
func (p ExactEvmPayload) ToMap() map[string]any {
	return map[string]any{
		"signature": p.Signature,
		"authorization": map[string]any{
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
}

// ExactSvmPayload is the exact-scheme payload for Solana networks: a base64
// encoded transaction partially signed by the payer.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts the payload into the generic PaymentPayload.Payload form.
func (p ExactSvmPayload) ToMap() map[string]any {
	return map[string]any{"transaction": p.Transaction}
}

// EvmPayload decodes the generic payload as an EVM exact payload.
func (p *PaymentPayload) EvmPayload() (*ExactEvmPayload, error) {
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var out ExactEvmPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evm payload: %w", err)
	}
	return &out, nil
}

// EncodeToBase64String encodes the payload for the X-PAYMENT header.
func (p *PaymentPayload) EncodeToBase64String() (string, error) {
	return encodeBase64JSON(p)
}

// EncodeToBase64String encodes the settle response for the X-PAYMENT-RESPONSE header.
func (s *SettleResponse) EncodeToBase64String() (string, error) {
	return encodeBase64JSON(s)
}

// DecodePaymentPayloadFromBase64 decodes an X-PAYMENT header value.
func DecodePaymentPayloadFromBase64(encoded string) (*PaymentPayload, error) {
	if encoded == "" {
		return nil, ErrPaymentRequired
	}

	var payload PaymentPayload
	if err := decodeBase64JSON(encoded, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payment payload: %w", err)
	}
	payload.X402Version = X402Version

	return &payload, nil
}

// DecodeSettleResponseFromBase64 decodes an X-PAYMENT-RESPONSE header value.
func DecodeSettleResponseFromBase64(encoded string) (*SettleResponse, error) {
	var resp SettleResponse
	if err := decodeBase64JSON(encoded, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode settle response: %w", err)
	}
	return &resp, nil
}

func encodeBase64JSON(v any) (string, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal header value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

func decodeBase64JSON(encoded string, v any) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode base64 string: %w", err)
	}
	if err := json.Unmarshal(decoded, v); err != nil {
		return fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return nil
}
