// Package tipping implements the agent-facing tools: tipping through the
// payment-gated settlement endpoint and managing the sender's custodial
// wallet. Every operation returns a result object; failures are reported in
// the result and never as a Go error.
package tipping

import (
	"context"
	"crypto/ecdsa"
	"math"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	x402http "github.com/tipmd/x402-tipping/http"
	"github.com/tipmd/x402-tipping/internal/store"
	"github.com/tipmd/x402-tipping/internal/wallet"
	mevm "github.com/tipmd/x402-tipping/mechanisms/evm"
	msvm "github.com/tipmd/x402-tipping/mechanisms/svm"
)

// Failure codes.
const (
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeInvalidUsername       = "INVALID_USERNAME"
	CodeInvalidNetwork        = "INVALID_NETWORK"
	CodeInvalidAddress        = "INVALID_ADDRESS"
	CodeUserNotFound          = "USER_NOT_FOUND"
	CodeRecipientNotConnected = "RECIPIENT_WALLET_NOT_CONNECTED"
	CodeWalletNotFound        = "WALLET_NOT_FOUND"
	CodeMissingSolanaKey      = "MISSING_SOLANA_KEY"
	CodeMissingPrivateKey     = "MISSING_PRIVATE_KEY"
	CodePaymentFailed         = "X402_PAYMENT_FAILED"
	CodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeTransactionFailed     = "TRANSACTION_FAILED"
	CodeSystemError           = "SYSTEM_ERROR"
)

const PlatformFeePercentage = 4

var minTipAmount = decimal.RequireFromString("0.01")

// maxAtomic bounds atomic amounts to what the ledger and settlement intents
// store.
var maxAtomic = decimal.NewFromInt(math.MaxInt64)

// Failure is the error part of a tool result.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Users resolves recipients. *directory.Directory satisfies it.
type Users interface {
	GetByUsername(ctx context.Context, username string) (*store.User, error)
}

// Wallets is the custodial wallet store. *wallet.Store satisfies it.
type Wallets interface {
	GetOrCreate(ctx context.Context, ownerID string) (*wallet.Wallet, error)
	GetRaw(ctx context.Context, ownerID string) (*wallet.Wallet, error)
}

// Ledger appends tip records. *store.TipRepo satisfies it.
type Ledger interface {
	Create(ctx context.Context, t *store.Tip) error
}

// EVMToken is USDC on the EVM network. *chain.USDC satisfies it.
type EVMToken interface {
	Network() mevm.NetworkConfig
	Balance(ctx context.Context, owner common.Address) (decimal.Decimal, error)
	Transfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (string, error)
}

// SolanaToken is USDC on the Solana cluster. *chain.SPLUSDC satisfies it.
type SolanaToken interface {
	Network() msvm.NetworkConfig
	RPC() msvm.RPC
	Balance(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error)
}

type Options struct {
	Users   Users
	Wallets Wallets
	Ledger  Ledger
	EVM     EVMToken
	// Solana enables Solana tips; nil rejects them with INVALID_NETWORK.
	Solana SolanaToken

	// SettlementBaseURL is where /tip-base and /tip-solana are served.
	SettlementBaseURL string
	SettlementTimeout time.Duration
	// Transport sits under the payment round tripper; nil is the default.
	Transport http.RoundTripper

	Testnet      bool
	SignupURL    string
	DashboardURL string
	// SolanaPlatformWallet receives the fee leg of self-custodied Solana tips.
	SolanaPlatformWallet string

	Logger *zap.Logger
}

type Service struct {
	opts                Options
	log                 *zap.Logger
	persistenceFailures atomic.Uint64
	now                 func() time.Time
}

func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SettlementTimeout <= 0 {
		opts.SettlementTimeout = x402http.DefaultTimeout
	}
	return &Service{opts: opts, log: opts.Logger, now: time.Now}
}

// PersistenceFailures counts tips that settled but could not be written to
// the ledger.
func (s *Service) PersistenceFailures() uint64 {
	return s.persistenceFailures.Load()
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// settlementClient pays at most limit atomic units for one request.
func (s *Service) settlementClient(payer x402http.Payer, limit uint64) *x402http.Client {
	opts := []x402http.Option{
		x402http.WithTimeout(s.opts.SettlementTimeout),
		x402http.WithMaxAmount(new(big.Int).SetUint64(limit)),
		x402http.WithLogger(s.log.Named("x402")),
	}
	if s.opts.Transport != nil {
		opts = append(opts, x402http.WithTransport(s.opts.Transport))
	}
	return x402http.NewClient(s.opts.SettlementBaseURL, payer, opts...)
}

// usdcFromAtomic converts 6-decimal atomic units to USDC.
func usdcFromAtomic(atomic uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(atomic), -int32(mevm.DefaultDecimals))
}

// atomicFromUSDC truncates amount to whole atomic units. ok is false when
// the result is negative or above maxAtomic.
func atomicFromUSDC(amount decimal.Decimal) (units uint64, ok bool) {
	return atomicUnits(amount, mevm.DefaultDecimals)
}

func atomicUnits(amount decimal.Decimal, decimals int32) (uint64, bool) {
	units := amount.Shift(decimals).Floor()
	if units.IsNegative() || units.GreaterThan(maxAtomic) {
		return 0, false
	}
	return uint64(units.IntPart()), true
}

// ledgerString formats an amount with at least two fraction digits, as the
// tip ledger has always stored them.
func ledgerString(d decimal.Decimal) string {
	for places := int32(2); places < mevm.DefaultDecimals; places++ {
		if d.Equal(d.Truncate(places)) {
			return d.StringFixed(places)
		}
	}
	return d.StringFixed(mevm.DefaultDecimals)
}
