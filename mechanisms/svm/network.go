package svm

import (
	"encoding/base64"
	"fmt"
	"sort"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

// SchemeExact is the scheme handled by this package.
const SchemeExact = "exact"

// DefaultComputeUnitPrice is the priority fee in micro-lamports per unit.
const DefaultComputeUnitPrice uint64 = 1

// DefaultComputeUnitLimit covers limit, price and one TransferChecked.
const DefaultComputeUnitLimit uint32 = 6500

// USDCDecimals is the decimals of the USDC mint on every cluster.
const USDCDecimals uint8 = 6

// Network names understood by the tipping server.
const (
	NetworkSolana       = "solana"
	NetworkSolanaDevnet = "solana-devnet"
)

// NetworkConfig holds cluster parameters for an x402 v1 network name.
type NetworkConfig struct {
	Name        string
	RPCURL      string
	USDCMint    solana.PublicKey
	ExplorerURL string
	Cluster     string
	Testnet     bool
}

// TxURL returns a Solscan link for signature.
func (c NetworkConfig) TxURL(signature string) string {
	u := c.ExplorerURL + "/tx/" + signature
	if c.Testnet {
		u += "?cluster=" + c.Cluster
	}
	return u
}

// AccountURL returns a Solscan link for addr.
func (c NetworkConfig) AccountURL(addr string) string {
	u := c.ExplorerURL + "/account/" + addr
	if c.Testnet {
		u += "?cluster=" + c.Cluster
	}
	return u
}

var networks = map[string]NetworkConfig{
	NetworkSolana: {
		Name:        NetworkSolana,
		RPCURL:      "https://api.mainnet-beta.solana.com",
		USDCMint:    solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		ExplorerURL: "https://solscan.io",
		Cluster:     "mainnet-beta",
	},
	NetworkSolanaDevnet: {
		Name:        NetworkSolanaDevnet,
		RPCURL:      "https://api.devnet.solana.com",
		USDCMint:    solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"),
		ExplorerURL: "https://solscan.io",
		Cluster:     "devnet",
		Testnet:     true,
	},
}

// Networks returns the supported network names in sorted order.
func Networks() []string {
	out := make([]string, 0, len(networks))
	for name := range networks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsValidNetwork reports whether network is a supported Solana network.
func IsValidNetwork(network string) bool {
	_, ok := networks[network]
	return ok
}

// GetNetworkConfig returns the configuration for network.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	config, ok := networks[network]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported svm network: %s", network)
	}
	return config, nil
}

// IsValidAddress reports whether addr is a base58 ed25519 public key.
func IsValidAddress(addr string) bool {
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}

// EncodeTransaction serializes tx to base64 wire format.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64 wire-format transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}
