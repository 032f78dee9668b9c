package evm

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	x402 "github.com/tipmd/x402-tipping"
)

// PreVerify performs the checks on an exact EVM payment that need no chain
// access: scheme, network, recipient, amount, validity window and signature.
// It does not replace facilitator verification, which also checks balance
// and nonce state.
func PreVerify(payload *x402.PaymentPayload, requirements x402.PaymentRequirements, now time.Time) x402.VerifyResponse {
	invalid := func(reason string) x402.VerifyResponse {
		return x402.VerifyResponse{IsValid: false, InvalidReason: reason}
	}

	if payload.Scheme != SchemeExact || requirements.Scheme != SchemeExact {
		return invalid("invalid_scheme")
	}
	if payload.Network != requirements.Network {
		return invalid("invalid_network")
	}

	config, err := GetNetworkConfig(requirements.Network)
	if err != nil {
		return invalid("invalid_network")
	}
	asset, err := GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return invalid("invalid_asset")
	}
	if name := requirements.ExtraString("name"); name != "" {
		asset.Name = name
	}
	if version := requirements.ExtraString("version"); version != "" {
		asset.Version = version
	}

	evmPayload, err := payload.EvmPayload()
	if err != nil || evmPayload.Signature == "" {
		return invalid("invalid_payload")
	}
	auth := evmPayload.Authorization

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return invalid("invalid_exact_evm_payload_recipient_mismatch")
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid("invalid_exact_evm_payload_authorization_value")
	}
	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return invalid("invalid_payment_requirements")
	}
	if authValue.Cmp(required) < 0 {
		return invalid("invalid_exact_evm_payload_authorization_value")
	}

	validAfter, ok1 := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, ok2 := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok1 || !ok2 {
		return invalid("invalid_exact_evm_payload_authorization_valid_window")
	}
	unix := big.NewInt(now.Unix())
	if validAfter.Cmp(unix) > 0 {
		return invalid("invalid_exact_evm_payload_authorization_valid_after")
	}
	// Six seconds of headroom covers one block before broadcast.
	if validBefore.Cmp(new(big.Int).Add(unix, big.NewInt(6))) < 0 {
		return invalid("invalid_exact_evm_payload_authorization_valid_before")
	}

	sig, err := HexToBytes(evmPayload.Signature)
	if err != nil {
		return invalid("invalid_exact_evm_payload_signature")
	}
	signer, err := RecoverAuthorizationSigner(auth, sig, config.ChainID, asset)
	if err != nil || !strings.EqualFold(signer, auth.From) {
		return invalid("invalid_exact_evm_payload_signature")
	}

	return x402.VerifyResponse{IsValid: true, Payer: NormalizeAddress(auth.From)}
}

// PayerOf extracts the authorizing address from an EVM payload, or "".
func PayerOf(payload *x402.PaymentPayload) string {
	p, err := payload.EvmPayload()
	if err != nil {
		return ""
	}
	return p.Authorization.From
}

// String renders a NetworkConfig for logs.
func (c NetworkConfig) String() string {
	return fmt.Sprintf("%s(chain=%s)", c.Name, c.ChainID)
}
