package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tipmd/x402-tipping/facilitator"
	"github.com/tipmd/x402-tipping/internal/chain"
	mevm "github.com/tipmd/x402-tipping/mechanisms/evm"
	msvm "github.com/tipmd/x402-tipping/mechanisms/svm"
)

// Account is the platform account that receives payments on one network and
// pays out the split.
type Account interface {
	Network() string
	// Address receives the x402 payment.
	Address() string
	// FeeAddress receives the platform fee leg.
	FeeAddress() string
	ValidAddress(addr string) bool
	Transfer(ctx context.Context, to string, amount uint64) (string, error)
}

// balanceWatcher is implemented by accounts that pay gas from a native
// balance that must be topped up by hand.
type balanceWatcher interface {
	CheckBalance(ctx context.Context)
}

// EVMAccount pays out USDC from a key held by the server.
type EVMAccount struct {
	usdc       *chain.USDC
	key        *ecdsa.PrivateKey
	address    common.Address
	feeAddress common.Address
	lowBalance *big.Int
	log        *zap.Logger
}

// NewEVMAccount builds the account. An empty feeAddress keeps the fee in the
// settlement account. lowETH is the native balance, in ETH, below which a
// warning is logged after each payout.
func NewEVMAccount(usdc *chain.USDC, key *ecdsa.PrivateKey, feeAddress, lowETH string, log *zap.Logger) (*EVMAccount, error) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	fee := addr
	if feeAddress != "" {
		if !mevm.IsValidAddress(feeAddress) {
			return nil, fmt.Errorf("invalid platform fee address %q", feeAddress)
		}
		fee = common.HexToAddress(feeAddress)
	}
	threshold, err := decimal.NewFromString(lowETH)
	if err != nil {
		return nil, fmt.Errorf("invalid low ETH balance %q: %w", lowETH, err)
	}
	return &EVMAccount{
		usdc:       usdc,
		key:        key,
		address:    addr,
		feeAddress: fee,
		lowBalance: threshold.Shift(18).BigInt(),
		log:        log,
	}, nil
}

func (a *EVMAccount) Network() string    { return a.usdc.Network().Name }
func (a *EVMAccount) Address() string    { return a.address.Hex() }
func (a *EVMAccount) FeeAddress() string { return a.feeAddress.Hex() }

func (a *EVMAccount) ValidAddress(addr string) bool {
	return mevm.IsValidAddress(addr)
}

func (a *EVMAccount) Transfer(ctx context.Context, to string, amount uint64) (string, error) {
	return a.usdc.Transfer(ctx, a.key, common.HexToAddress(to), new(big.Int).SetUint64(amount))
}

// CheckBalance warns when the account is running out of gas money.
func (a *EVMAccount) CheckBalance(ctx context.Context) {
	wei, err := a.usdc.NativeBalance(ctx, a.address)
	if err != nil {
		a.log.Warn("failed to read platform ETH balance", zap.Error(err))
		return
	}
	if wei.Cmp(a.lowBalance) < 0 {
		a.log.Warn("platform ETH balance low",
			zap.String("address", a.address.Hex()),
			zap.String("balance_eth", decimal.NewFromBigInt(wei, -18).String()),
			zap.String("threshold_eth", decimal.NewFromBigInt(a.lowBalance, -18).String()))
	}
}

// SolanaAccount pays out SPL USDC from a key held by the server.
type SolanaAccount struct {
	spl        *chain.SPLUSDC
	key        solana.PrivateKey
	feeAddress solana.PublicKey
}

func NewSolanaAccount(spl *chain.SPLUSDC, key solana.PrivateKey, feeAddress string) (*SolanaAccount, error) {
	fee := key.PublicKey()
	if feeAddress != "" {
		pk, err := solana.PublicKeyFromBase58(feeAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid platform fee address %q: %w", feeAddress, err)
		}
		fee = pk
	}
	return &SolanaAccount{spl: spl, key: key, feeAddress: fee}, nil
}

func (a *SolanaAccount) Network() string    { return a.spl.Network().Name }
func (a *SolanaAccount) Address() string    { return a.key.PublicKey().String() }
func (a *SolanaAccount) FeeAddress() string { return a.feeAddress.String() }

func (a *SolanaAccount) ValidAddress(addr string) bool {
	return msvm.IsValidAddress(addr)
}

func (a *SolanaAccount) Transfer(ctx context.Context, to string, amount uint64) (string, error) {
	pk, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid solana address %q: %w", to, err)
	}
	return a.spl.Transfer(ctx, a.key, pk, amount)
}

// DiscoverFeePayer asks the facilitator which account sponsors fees for
// network. Solana payments cannot be built without it.
func DiscoverFeePayer(ctx context.Context, f facilitator.Facilitator, network string) (string, error) {
	supported, err := f.Supported(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query facilitator: %w", err)
	}
	for _, kind := range supported.Kinds {
		if kind.Network != network {
			continue
		}
		if feePayer, ok := kind.Extra["feePayer"].(string); ok && feePayer != "" {
			return feePayer, nil
		}
	}
	return "", fmt.Errorf("facilitator has no fee payer for %s", network)
}
