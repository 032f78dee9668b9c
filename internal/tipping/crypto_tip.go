package tipping

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"

	"github.com/tipmd/x402-tipping/internal/settlement"
	msvm "github.com/tipmd/x402-tipping/mechanisms/svm"
)

// Variants of a CryptoTipResult.
const (
	VariantEVM    = "evm"
	VariantSolana = "solana"
	VariantError  = "error"
)

const agentPubkeyPlaceholder = "<AGENT_PUBKEY>"

const lamportsPerSOL = 9

var platformFeeFraction = decimal.New(settlement.PlatformFeePercent, -2)

type CryptoTipInput struct {
	Username   string
	Blockchain string // ethereum, base or solana
	Amount     string
	Token      string // ETH, SOL or USDC
}

// CryptoTipResult carries exactly one of EVM, Solana or Error, named by
// Variant.
type CryptoTipResult struct {
	Variant string              `json:"variant"`
	Prompt  string              `json:"prompt"`
	EVM     *EVMTipInstructions `json:"evm,omitempty"`
	Solana  *SolanaTipDetails   `json:"solana,omitempty"`
	Error   *CryptoTipError     `json:"error,omitempty"`
}

type CryptoTipError struct {
	Error string `json:"error"`
}

// EVMTipInstructions point the sender at the recipient's split contract,
// which divides the payment on chain.
type EVMTipInstructions struct {
	Blockchain            string  `json:"blockchain"`
	RecipientAddress      string  `json:"recipientAddress"`
	Token                 string  `json:"token"`
	Amount                float64 `json:"amount"`
	PlatformFeePercentage float64 `json:"platformFeePercentage"`
	Network               string  `json:"network"`
}

type SolanaTipDetails struct {
	Blockchain            string  `json:"blockchain"`
	Token                 string  `json:"token"`
	Network               string  `json:"network"`
	PlatformFeePercentage float64 `json:"platformFeePercentage"`

	// USDC
	TotalAmount float64       `json:"totalAmount,omitempty"`
	Transfers   []SPLTransfer `json:"transfers,omitempty"`

	// SOL
	Amount            float64            `json:"amount,omitempty"`
	DeveloperAmount   float64            `json:"developerAmount,omitempty"`
	PlatformFeeAmount float64            `json:"platformFeeAmount,omitempty"`
	Transaction       *SystemTransferTxn `json:"transaction,omitempty"`
}

// SPLTransfer is one USDC transfer. TargetAddress is the owner's main
// address; the sender derives the token account.
type SPLTransfer struct {
	RecipientType string  `json:"recipientType"`
	TargetAddress string  `json:"targetAddress"`
	Amount        float64 `json:"amount"`
	AmountAtomic  uint64  `json:"amountAtomic"`
	Info          string  `json:"info"`
}

type Lamports struct {
	Total       uint64 `json:"total"`
	Developer   uint64 `json:"developer"`
	PlatformFee uint64 `json:"platformFee"`
}

type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type InstructionData struct {
	Instruction uint32 `json:"instruction"`
	Lamports    uint64 `json:"lamports"`
}

type SystemInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Data      InstructionData `json:"data"`
	Keys      []AccountMeta   `json:"keys"`
}

// SystemTransferTxn is a pre-built pair of SOL transfers awaiting the
// sender's public key and signature.
type SystemTransferTxn struct {
	ClusterURL       string              `json:"clusterUrl"`
	RecipientAddress string              `json:"recipientAddress"`
	PlatformAddress  string              `json:"platformAddress"`
	Lamports         Lamports            `json:"lamports"`
	Instructions     []SystemInstruction `json:"instructions"`
}

func cryptoTipError(prompt, format string, args ...any) *CryptoTipResult {
	return &CryptoTipResult{
		Variant: VariantError,
		Prompt:  prompt,
		Error:   &CryptoTipError{Error: fmt.Sprintf(format, args...)},
	}
}

// CryptoTip describes how to tip username from a self-custodied wallet. It
// moves no funds.
func (s *Service) CryptoTip(ctx context.Context, in CryptoTipInput) *CryptoTipResult {
	blockchain := strings.ToLower(in.Blockchain)
	token := strings.ToUpper(in.Token)

	if !usernamePattern.MatchString(in.Username) {
		return cryptoTipError("Error in transaction setup:",
			"Username must be 3-50 characters of letters, digits, underscores and hyphens")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil || !amount.IsPositive() {
		return cryptoTipError("Error in transaction setup:", "Amount must be a positive number")
	}
	if _, ok := atomicUnits(amount, lamportsPerSOL); !ok {
		return cryptoTipError("Error in transaction setup:", "Amount %s is too large", amount.String())
	}

	var native string
	switch blockchain {
	case "ethereum", "base":
		native = "ETH"
	case "solana":
		native = "SOL"
	default:
		return cryptoTipError("Error with blockchain selection:", "Unsupported blockchain: %s", in.Blockchain)
	}
	if token != native && token != "USDC" {
		return cryptoTipError("Error in transaction setup:",
			"Token mismatch: %s is not valid for %s blockchain. Use %s or USDC.", in.Token, blockchain, native)
	}

	u, err := s.opts.Users.GetByUsername(ctx, in.Username)
	if err != nil {
		return cryptoTipError("Error finding user:", "User with username '%s' not found", in.Username)
	}

	if blockchain == "solana" {
		if u.SolanaAddress == "" {
			return cryptoTipError("Error with Solana configuration:", "User does not have a Solana wallet address configured")
		}
		if s.opts.SolanaPlatformWallet == "" {
			return cryptoTipError("Error with platform configuration:", "Platform wallet address not configured for Solana")
		}
		if token == "USDC" {
			return s.solanaUSDCTip(u.SolanaAddress, amount)
		}
		return s.solanaSOLTip(u.SolanaAddress, amount)
	}

	display := "Ethereum"
	if blockchain == "base" {
		display = "Base"
	}
	if u.EthereumSplitAddress == "" {
		return cryptoTipError(fmt.Sprintf("Error with %s configuration:", display),
			"User does not have a split address configured for %s", display)
	}
	network := s.evmNetworkName(blockchain)
	prompt := fmt.Sprintf("This is a %s tip in %s sent to a Splits.org contract. The address %s is an audited split contract "+
		"deployed by the developer; it divides the payment %d%%/%d%% between the developer and the tip.md platform. "+
		"Send the full amount to this single address. Make sure your wallet is on %s.",
		display, token, u.EthereumSplitAddress, settlement.RecipientPercent, settlement.PlatformFeePercent, network)
	if token == "USDC" {
		prompt += " The first tip to this contract may need a USDC spending approval."
	}
	return &CryptoTipResult{
		Variant: VariantEVM,
		Prompt:  prompt,
		EVM: &EVMTipInstructions{
			Blockchain:            blockchain,
			RecipientAddress:      u.EthereumSplitAddress,
			Token:                 token,
			Amount:                amount.InexactFloat64(),
			PlatformFeePercentage: platformFeeFraction.InexactFloat64(),
			Network:               network,
		},
	}
}

func (s *Service) evmNetworkName(blockchain string) string {
	switch {
	case blockchain == "base" && s.opts.Testnet:
		return "Base Sepolia"
	case blockchain == "base":
		return "Base Mainnet"
	case s.opts.Testnet:
		return "Sepolia Testnet"
	}
	return "Ethereum Mainnet"
}

func (s *Service) solanaCluster() (name, rpcURL string) {
	network := msvm.NetworkSolana
	name = "Solana Mainnet"
	if s.opts.Testnet {
		network, name = msvm.NetworkSolanaDevnet, "Solana Devnet"
	}
	cfg, _ := msvm.GetNetworkConfig(network)
	return name, cfg.RPCURL
}

func (s *Service) solanaUSDCTip(developer string, amount decimal.Decimal) *CryptoTipResult {
	total, _ := atomicFromUSDC(amount)
	devAtomic, feeAtomic := settlement.Split(total)
	dev, fee := usdcFromAtomic(devAtomic), usdcFromAtomic(feeAtomic)
	network, _ := s.solanaCluster()

	prompt := fmt.Sprintf("This is a Solana USDC tip made of two SPL token transfers:\n"+
		"1. %s USDC to the developer.\n"+
		"2. %s USDC to the tip.md platform.\n"+
		"You need enough USDC plus SOL for fees. Derive the USDC token accounts from the developer's address (%s) "+
		"and the platform's address (%s).",
		dev.StringFixed(6), fee.StringFixed(6), developer, s.opts.SolanaPlatformWallet)

	return &CryptoTipResult{
		Variant: VariantSolana,
		Prompt:  prompt,
		Solana: &SolanaTipDetails{
			Blockchain:            "solana",
			Token:                 "USDC",
			Network:               network,
			PlatformFeePercentage: platformFeeFraction.InexactFloat64(),
			TotalAmount:           usdcFromAtomic(total).InexactFloat64(),
			Transfers: []SPLTransfer{
				{RecipientType: "developer", TargetAddress: developer, Amount: dev.InexactFloat64(), AmountAtomic: devAtomic, Info: "Developer's share of the tip."},
				{RecipientType: "platform", TargetAddress: s.opts.SolanaPlatformWallet, Amount: fee.InexactFloat64(), AmountAtomic: feeAtomic, Info: "Platform fee."},
			},
		},
	}
}

func (s *Service) solanaSOLTip(developer string, amount decimal.Decimal) *CryptoTipResult {
	total, _ := atomicUnits(amount, lamportsPerSOL)
	devLamports, feeLamports := settlement.Split(total)
	network, clusterURL := s.solanaCluster()
	platform := s.opts.SolanaPlatformWallet
	programID := solana.SystemProgramID.String()

	transfer := func(to string, lamports uint64) SystemInstruction {
		return SystemInstruction{
			Program:   "System",
			ProgramID: programID,
			Data:      InstructionData{Instruction: system.Instruction_Transfer, Lamports: lamports},
			Keys: []AccountMeta{
				{Pubkey: agentPubkeyPlaceholder, IsSigner: true, IsWritable: true},
				{Pubkey: to, IsSigner: false, IsWritable: true},
			},
		}
	}

	return &CryptoTipResult{
		Variant: VariantSolana,
		Prompt: fmt.Sprintf("This is a Solana tip with two system transfers: the platform fee (%d%%) and the developer's share (%d%%). "+
			"Replace %s in both instructions with your public key, then sign and send the transaction with a recent blockhash "+
			"and yourself as fee payer.", settlement.PlatformFeePercent, settlement.RecipientPercent, agentPubkeyPlaceholder),
		Solana: &SolanaTipDetails{
			Blockchain:            "solana",
			Token:                 "SOL",
			Network:               network,
			PlatformFeePercentage: platformFeeFraction.InexactFloat64(),
			Amount:                decimal.New(int64(total), -lamportsPerSOL).InexactFloat64(),
			DeveloperAmount:       decimal.New(int64(devLamports), -lamportsPerSOL).InexactFloat64(),
			PlatformFeeAmount:     decimal.New(int64(feeLamports), -lamportsPerSOL).InexactFloat64(),
			Transaction: &SystemTransferTxn{
				ClusterURL:       clusterURL,
				RecipientAddress: developer,
				PlatformAddress:  platform,
				Lamports:         Lamports{Total: total, Developer: devLamports, PlatformFee: feeLamports},
				Instructions: []SystemInstruction{
					transfer(platform, feeLamports),
					transfer(developer, devLamports),
				},
			},
		},
	}
}
