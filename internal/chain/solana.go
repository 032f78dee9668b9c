package chain

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	msvm "github.com/tipmd/x402-tipping/mechanisms/svm"
)

// ataComputeUnitLimit covers an idempotent ATA creation plus the transfer.
const ataComputeUnitLimit uint32 = 40000

// SolanaRPC is the RPC surface used for SPL transfers. *rpc.Client
// satisfies it.
type SolanaRPC interface {
	msvm.RPC
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// SPLUSDC moves USDC on a Solana cluster.
type SPLUSDC struct {
	rpc     SolanaRPC
	network msvm.NetworkConfig
	log     *zap.Logger
}

func NewSPLUSDC(client SolanaRPC, network string, log *zap.Logger) (*SPLUSDC, error) {
	cfg, err := msvm.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	return &SPLUSDC{rpc: client, network: cfg, log: log}, nil
}

func (s *SPLUSDC) Network() msvm.NetworkConfig {
	return s.network
}

// RPC exposes the client for payment payload construction.
func (s *SPLUSDC) RPC() msvm.RPC {
	return s.rpc
}

// Balance returns owner's USDC balance. An owner without a token account has
// a zero balance.
func (s *SPLUSDC) Balance(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, s.network.USDCMint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to derive ATA: %w", err)
	}
	exists, err := msvm.AccountExists(ctx, s.rpc, ata)
	if err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, nil
	}
	res, err := s.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get token balance: %w", err)
	}
	if res == nil || res.Value == nil {
		return decimal.Zero, nil
	}
	atomic, err := decimal.NewFromString(res.Value.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid token amount %q: %w", res.Value.Amount, err)
	}
	return atomic.Shift(-int32(res.Value.Decimals)), nil
}

// Transfer sends amount atomic USDC from key to owner to, creating to's
// token account when it is missing. key pays the fees.
func (s *SPLUSDC) Transfer(ctx context.Context, key solana.PrivateKey, to solana.PublicKey, amount uint64) (string, error) {
	if amount == 0 {
		return "", fmt.Errorf("invalid transfer amount 0")
	}
	from := key.PublicKey()
	mint := s.network.USDCMint

	_, decimals, err := msvm.MintInfo(ctx, s.rpc, mint)
	if err != nil {
		return "", err
	}
	sourceATA, _, err := solana.FindAssociatedTokenAddress(from, mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive source ATA: %w", err)
	}
	destinationATA, _, err := solana.FindAssociatedTokenAddress(to, mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive destination ATA: %w", err)
	}
	destExists, err := msvm.AccountExists(ctx, s.rpc, destinationATA)
	if err != nil {
		return "", fmt.Errorf("failed to check destination ATA: %w", err)
	}

	units := msvm.DefaultComputeUnitLimit
	if !destExists {
		units = ataComputeUnitLimit
	}
	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(units).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(msvm.DefaultComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	builder := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice)

	if !destExists {
		createIx, err := associatedtokenaccount.NewCreateInstruction(from, to, mint).ValidateAndBuild()
		if err != nil {
			return "", fmt.Errorf("failed to build ATA instruction: %w", err)
		}
		builder = builder.AddInstruction(createIx)
	}

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mint).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(from).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	latest, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := builder.
		AddInstruction(transferIx).
		SetRecentBlockHash(latest.Value.Blockhash).
		SetFeePayer(from).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(from) {
			return &key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	s.log.Info("spl usdc transfer sent",
		zap.String("network", s.network.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("amount", strconv.FormatUint(amount, 10)),
		zap.Bool("created_ata", !destExists),
		zap.String("tx", sig.String()))
	return sig.String(), nil
}
