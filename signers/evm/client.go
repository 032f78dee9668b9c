package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402evm "github.com/tipmd/x402-tipping/mechanisms/evm"
)

// ClientSigner implements x402evm.Signer using an ECDSA private key.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ x402evm.Signer = (*ClientSigner)(nil)

// NewClientSigner wraps an already parsed key.
func NewClientSigner(privateKey *ecdsa.PrivateKey) *ClientSigner {
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewClientSignerFromPrivateKey creates a signer from a hex-encoded private
// key, with or without 0x prefix.
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewClientSigner(privateKey), nil
}

// Address returns the checksummed address of the signer.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// PrivateKey exposes the key for transaction signing.
func (s *ClientSigner) PrivateKey() *ecdsa.PrivateKey {
	return s.privateKey
}

// SignTypedData signs EIP-712 typed data and returns a 65 byte (r, s, v)
// signature with v in {27, 28}.
func (s *ClientSigner) SignTypedData(
	_ context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]any,
) ([]byte, error) {
	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// recovery id 0/1 becomes 27/28
	signature[64] += 27

	return signature, nil
}
