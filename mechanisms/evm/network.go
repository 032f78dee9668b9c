package evm

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// SchemeExact is the scheme handled by this package.
const SchemeExact = "exact"

// DefaultDecimals is the decimals of USDC.
const DefaultDecimals = 6

// Network names understood by the tipping server.
const (
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
)

var networks = map[string]NetworkConfig{
	NetworkBase: {
		Name:    NetworkBase,
		ChainID: big.NewInt(8453),
		DefaultAsset: AssetInfo{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: DefaultDecimals,
		},
		ExplorerURL: "https://basescan.org",
	},
	NetworkBaseSepolia: {
		Name:    NetworkBaseSepolia,
		ChainID: big.NewInt(84532),
		DefaultAsset: AssetInfo{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:     "USDC",
			Version:  "2",
			Decimals: DefaultDecimals,
		},
		ExplorerURL: "https://sepolia.basescan.org",
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

// IsValidNetwork reports whether network is a supported EVM network.
func IsValidNetwork(network string) bool {
	_, ok := networks[network]
	return ok
}

// GetNetworkConfig returns the configuration for network.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	config, ok := networks[network]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported evm network: %s", network)
	}
	return config, nil
}

// GetAssetInfo resolves the token used on network. An empty asset or the
// network's default asset address yields the default asset.
func GetAssetInfo(network, asset string) (AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return AssetInfo{}, err
	}
	if asset == "" || NormalizeAddress(asset) == NormalizeAddress(config.DefaultAsset.Address) {
		return config.DefaultAsset, nil
	}
	return AssetInfo{}, fmt.Errorf("asset %s is not supported on %s", asset, network)
}

// IsValidAddress reports whether addr is a 0x-prefixed 20 byte hex address.
func IsValidAddress(addr string) bool {
	return common.IsHexAddress(addr) && len(addr) == 42
}

// NormalizeAddress returns the EIP-55 checksummed form of addr.
func NormalizeAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}
