// Package chain moves USDC on the networks the tipping server pays out on.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	mevm "github.com/tipmd/x402-tipping/mechanisms/evm"
)

const erc20ABI = `[
	{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// EVMBackend is the JSON-RPC surface used for USDC transfers.
// *ethclient.Client satisfies it.
type EVMBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// USDC reads and moves the network's USDC token.
type USDC struct {
	backend EVMBackend
	network mevm.NetworkConfig
	token   common.Address
	abi     abi.ABI
	log     *zap.Logger

	// locks holds one *sync.Mutex per sending address.
	locks sync.Map
}

func NewUSDC(backend EVMBackend, network string, log *zap.Logger) (*USDC, error) {
	cfg, err := mevm.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &USDC{
		backend: backend,
		network: cfg,
		token:   common.HexToAddress(cfg.DefaultAsset.Address),
		abi:     parsed,
		log:     log,
	}, nil
}

func (u *USDC) Network() mevm.NetworkConfig {
	return u.network
}

// BalanceOf returns owner's balance in atomic units.
func (u *USDC) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := u.abi.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	out, err := u.backend.CallContract(ctx, ethereum.CallMsg{To: &u.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	values, err := u.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected balanceOf result length %d", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type: %T", values[0])
	}
	return balance, nil
}

// Balance returns owner's balance in USDC.
func (u *USDC) Balance(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	atomic, err := u.BalanceOf(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return mevm.FormatAmount(atomic, u.network.DefaultAsset.Decimals), nil
}

// NativeBalance returns owner's ETH balance in wei.
func (u *USDC) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return u.backend.BalanceAt(ctx, owner, nil)
}

// Transfer sends amount atomic units from key's address to to and returns the
// transaction hash. It does not wait for inclusion.
func (u *USDC) Transfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("invalid transfer amount %v", amount)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	// The pending nonce only advances once the node accepts the previous
	// transaction, so sends from one address must not interleave.
	mu := u.senderLock(from)
	mu.Lock()
	defer mu.Unlock()

	data, err := u.abi.Pack("transfer", to, amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack transfer: %w", err)
	}

	nonce, err := u.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := u.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := u.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &u.token, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, u.token, big.NewInt(0), gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(u.network.ChainID), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := u.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	u.log.Info("usdc transfer sent",
		zap.String("network", u.network.Name),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx", hash))
	return hash, nil
}

func (u *USDC) senderLock(from common.Address) *sync.Mutex {
	l, _ := u.locks.LoadOrStore(from, &sync.Mutex{})
	return l.(*sync.Mutex)
}
