package evm

import (
	"context"
	"math/big"
)

// TypedDataDomain is the EIP-712 domain separator input.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// TypedDataField is one member of an EIP-712 struct type.
type TypedDataField struct {
	Name string
	Type string
}

// Signer signs EIP-712 typed data on behalf of one address.
type Signer interface {
	Address() string
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]any,
	) ([]byte, error)
}

// AssetInfo describes an EIP-3009 capable token.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int32
}

// NetworkConfig holds chain parameters for an x402 v1 network name.
type NetworkConfig struct {
	Name         string
	ChainID      *big.Int
	DefaultAsset AssetInfo
	ExplorerURL  string
	Testnet      bool
}

// TxURL returns a block explorer link for hash.
func (c NetworkConfig) TxURL(hash string) string {
	return c.ExplorerURL + "/tx/" + hash
}

// AddressURL returns a block explorer link for addr.
func (c NetworkConfig) AddressURL(addr string) string {
	return c.ExplorerURL + "/address/" + addr
}
