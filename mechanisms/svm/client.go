package svm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/tipmd/x402-tipping"
)

// RPC is the subset of the Solana JSON-RPC API used here. *rpc.Client
// satisfies it.
type RPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// Signer partially signs transactions for one public key.
type Signer interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// ExactClient creates exact-scheme SPL TransferChecked payment payloads.
type ExactClient struct {
	signer Signer
	rpc    RPC
}

// NewExactClient creates an ExactClient. rpc must point at the cluster the
// requirements name.
func NewExactClient(signer Signer, rpc RPC) *ExactClient {
	return &ExactClient{signer: signer, rpc: rpc}
}

// Scheme returns the scheme identifier.
func (c *ExactClient) Scheme() string {
	return SchemeExact
}

// Address returns the paying public key.
func (c *ExactClient) Address() string {
	return c.signer.Address().String()
}

// Supports reports whether the client can pay requirements.
func (c *ExactClient) Supports(requirements x402.PaymentRequirements) bool {
	return requirements.Scheme == SchemeExact && IsValidNetwork(requirements.Network)
}

// MintInfo reads a mint account and returns its token program and decimals.
func MintInfo(ctx context.Context, client RPC, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	mintAccount, err := client.GetAccountInfo(ctx, mint)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to get mint account: %w", err)
	}
	if mintAccount == nil || mintAccount.Value == nil {
		return solana.PublicKey{}, 0, fmt.Errorf("mint account %s not found", mint)
	}

	programID := mintAccount.Value.Owner
	if programID != solana.TokenProgramID && programID != solana.Token2022ProgramID {
		return solana.PublicKey{}, 0, errors.New("asset was not created by a known token program")
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to decode mint data: %w", err)
	}
	return programID, mintData.Decimals, nil
}

// AccountExists reports whether account is present on chain.
func AccountExists(ctx context.Context, client RPC, account solana.PublicKey) (bool, error) {
	info, err := client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info != nil && info.Value != nil, nil
}

// CreatePaymentPayload builds and partially signs a TransferChecked for
// requirements. The facilitator named in extra.feePayer pays fees and adds
// its own signature at settlement.
func (c *ExactClient) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if !c.Supports(requirements) {
		return nil, fmt.Errorf("%w: %s/%s", x402.ErrUnsupportedNetwork, requirements.Scheme, requirements.Network)
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid asset address: %w", err)
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid payTo address: %w", err)
	}
	feePayerAddr := requirements.ExtraString("feePayer")
	if feePayerAddr == "" {
		return nil, errors.New("feePayer is required in paymentRequirements.extra for Solana transactions")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid feePayer address: %w", err)
	}

	amount, err := strconv.ParseUint(requirements.MaxAmountRequired, 10, 64)
	if err != nil || amount == 0 {
		return nil, fmt.Errorf("invalid amount: %q", requirements.MaxAmountRequired)
	}

	_, decimals, err := MintInfo(ctx, c.rpc, mint)
	if err != nil {
		return nil, err
	}

	owner := c.signer.Address()
	sourceATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source ATA: %w", err)
	}
	destinationATA, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	if ok, err := AccountExists(ctx, c.rpc, sourceATA); err != nil || !ok {
		return nil, fmt.Errorf("invalid_exact_solana_payload_ata_not_found: source ATA does not exist for %s", owner)
	}
	if ok, err := AccountExists(ctx, c.rpc, destinationATA); err != nil || !ok {
		return nil, fmt.Errorf("invalid_exact_solana_payload_ata_not_found: destination ATA does not exist for %s", payTo)
	}

	latest, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(DefaultComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute price instruction: %w", err)
	}
	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mint).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(latest.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	encoded, err := EncodeTransaction(tx)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      SchemeExact,
		Network:     requirements.Network,
		Payload:     x402.ExactSvmPayload{Transaction: encoded}.ToMap(),
	}, nil
}
