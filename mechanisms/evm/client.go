package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	x402 "github.com/tipmd/x402-tipping"
)

// ExactClient creates exact-scheme EIP-3009 payment payloads.
type ExactClient struct {
	signer Signer
	now    func() time.Time
}

// NewExactClient creates an ExactClient that signs with signer.
func NewExactClient(signer Signer) *ExactClient {
	return &ExactClient{signer: signer, now: time.Now}
}

// Scheme returns the scheme identifier.
func (c *ExactClient) Scheme() string {
	return SchemeExact
}

// Address returns the paying address.
func (c *ExactClient) Address() string {
	return c.signer.Address()
}

// Supports reports whether the client can pay requirements.
func (c *ExactClient) Supports(requirements x402.PaymentRequirements) bool {
	return requirements.Scheme == SchemeExact && IsValidNetwork(requirements.Network)
}

// CreatePaymentPayload signs a TransferWithAuthorization for requirements.
func (c *ExactClient) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if !c.Supports(requirements) {
		return nil, fmt.Errorf("%w: %s/%s", x402.ErrUnsupportedNetwork, requirements.Scheme, requirements.Network)
	}

	config, err := GetNetworkConfig(requirements.Network)
	if err != nil {
		return nil, err
	}
	asset, err := GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return nil, err
	}
	if name := requirements.ExtraString("name"); name != "" {
		asset.Name = name
	}
	if version := requirements.ExtraString("version"); version != "" {
		asset.Version = version
	}

	value, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount: %q", requirements.MaxAmountRequired)
	}

	nonce, err := CreateNonce()
	if err != nil {
		return nil, err
	}

	// validAfter is backdated to tolerate clock skew between payer and chain.
	now := c.now().Unix()
	timeout := int64(600)
	if requirements.MaxTimeoutSeconds > 0 {
		timeout = int64(requirements.MaxTimeoutSeconds)
	}

	auth := x402.ExactEvmAuthorization{
		From:        c.signer.Address(),
		To:          NormalizeAddress(requirements.PayTo),
		Value:       value.String(),
		ValidAfter:  big.NewInt(now - 600).String(),
		ValidBefore: big.NewInt(now + timeout).String(),
		Nonce:       nonce,
	}

	message, err := AuthorizationMessage(auth)
	if err != nil {
		return nil, err
	}
	domain := TypedDataDomain{
		Name:              asset.Name,
		Version:           asset.Version,
		ChainID:           config.ChainID,
		VerifyingContract: asset.Address,
	}

	signature, err := c.signer.SignTypedData(ctx, domain, TransferWithAuthorizationTypes, "TransferWithAuthorization", message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}

	payload := x402.ExactEvmPayload{
		Signature:     BytesToHex(signature),
		Authorization: auth,
	}

	return &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      SchemeExact,
		Network:     requirements.Network,
		Payload:     payload.ToMap(),
	}, nil
}
