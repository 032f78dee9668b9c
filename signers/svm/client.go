package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ClientSigner signs Solana transactions with a local ed25519 key.
type ClientSigner struct {
	privateKey solana.PrivateKey
}

// NewClientSigner wraps an already parsed key.
func NewClientSigner(privateKey solana.PrivateKey) *ClientSigner {
	return &ClientSigner{privateKey: privateKey}
}

// NewClientSignerFromPrivateKey creates a signer from a base58-encoded key.
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewClientSigner(privateKey), nil
}

// Address returns the signer's public key.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.privateKey.PublicKey()
}

// SignTransaction adds this signer's signature to tx at its account index,
// leaving other signature slots untouched.
func (s *ClientSigner) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := s.privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(s.privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		sigs := make([]solana.Signature, accountIndex+1)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	tx.Signatures[accountIndex] = signature

	return nil
}
