package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// CreateNonce returns a random 32 byte EIP-3009 nonce as 0x-prefixed hex.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce), nil
}

// HexToBytes decodes a hex string with or without 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// BytesToHex encodes b as 0x-prefixed hex.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// ParseAmount converts a decimal token amount into atomic units, truncating
// digits beyond the token's decimals.
func ParseAmount(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FormatAmount converts atomic units into a decimal token amount.
func FormatAmount(atomic *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(atomic, -decimals)
}
