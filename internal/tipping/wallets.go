package tipping

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tipmd/x402-tipping/internal/wallet"
	mevm "github.com/tipmd/x402-tipping/mechanisms/evm"
)

const (
	operationWalletCreation = "wallet_creation"
	operationBalanceCheck   = "balance_check"
	operationWalletExport   = "wallet_export"
	operationWithdrawal     = "withdrawal"
)

type BalanceData struct {
	UserID        string  `json:"userId"`
	Address       string  `json:"address"`
	Balance       float64 `json:"balance"`
	Network       string  `json:"network"`
	SolanaAddress string  `json:"solanaAddress,omitempty"`
	SolanaBalance float64 `json:"solanaBalance,omitempty"`
	IsNewWallet   bool    `json:"isNewWallet"`
	PrivateKey    string  `json:"privateKey,omitempty"`
	Mnemonic      string  `json:"mnemonic,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

type Setup struct {
	Instructions []string `json:"instructions"`
	Warnings     []string `json:"warnings"`
}

type BalanceResult struct {
	Success   bool         `json:"success"`
	Operation string       `json:"operation"`
	Data      *BalanceData `json:"data,omitempty"`
	Setup     *Setup       `json:"setup,omitempty"`
	Error     *Failure     `json:"error,omitempty"`
	Message   string       `json:"message"`
}

// CheckBalance returns the USDC balance of userID's wallet, creating the
// wallet first when it does not exist. An empty userID gets a new owner id.
func (s *Service) CheckBalance(ctx context.Context, userID string) *BalanceResult {
	fail := func(err error) *BalanceResult {
		s.log.Error("balance check failed", zap.String("user_id", userID), zap.Error(err))
		return &BalanceResult{
			Operation: operationBalanceCheck,
			Error:     &Failure{Code: CodeSystemError, Message: "Failed to check tipping balance", Details: err.Error()},
			Message:   "Balance check failed due to system error",
		}
	}

	if userID == "" {
		id, err := wallet.GenerateOwnerID()
		if err != nil {
			return fail(err)
		}
		userID = id
		s.log.Info("generated owner id", zap.String("user_id", userID))
	}

	w, err := s.opts.Wallets.GetOrCreate(ctx, userID)
	if err != nil {
		return fail(err)
	}
	network := s.opts.EVM.Network()

	data := &BalanceData{
		UserID:      userID,
		Address:     w.Address.Hex(),
		Network:     network.Name,
		IsNewWallet: w.IsNew,
		Timestamp:   s.timestamp(),
	}
	if w.HasSolana() {
		data.SolanaAddress = w.SolanaAddress.String()
	}

	if w.IsNew {
		data.PrivateKey = w.PrivateKey
		data.Mnemonic = w.Mnemonic
		return &BalanceResult{
			Success:   true,
			Operation: operationWalletCreation,
			Data:      data,
			Setup:     newWalletSetup(w, network),
			Message:   "New tip.md tipping wallet created successfully",
		}
	}

	balance := s.usdcBalance(ctx, w.Address)
	data.Balance = balance.Round(2).InexactFloat64()
	if s.opts.Solana != nil && w.HasSolana() {
		sol, err := s.opts.Solana.Balance(ctx, w.SolanaAddress)
		if err != nil {
			s.log.Warn("failed to read solana USDC balance", zap.String("user_id", userID), zap.Error(err))
		} else {
			data.SolanaBalance = sol.Round(2).InexactFloat64()
		}
	}

	message := "Wallet needs funding - send USDC to address to enable tipping"
	if balance.IsPositive() {
		message = fmt.Sprintf("Wallet ready for tipping with %s USDC balance", balance.StringFixed(2))
	}
	return &BalanceResult{Success: true, Operation: operationBalanceCheck, Data: data, Message: message}
}

// usdcBalance reads the EVM USDC balance. An RPC failure is logged and
// reads as zero.
func (s *Service) usdcBalance(ctx context.Context, addr common.Address) decimal.Decimal {
	balance, err := s.opts.EVM.Balance(ctx, addr)
	if err != nil {
		s.log.Warn("failed to read USDC balance", zap.String("address", addr.Hex()), zap.Error(err))
		return decimal.Zero
	}
	return balance
}

func newWalletSetup(w *wallet.Wallet, network mevm.NetworkConfig) *Setup {
	instructions := []string{
		fmt.Sprintf("Save your tip.md User ID: %s", w.OwnerID),
		fmt.Sprintf("Save your private key securely: %s", w.PrivateKey),
		"Import to MetaMask: Settings → Import Account → Private Key",
		fmt.Sprintf("Fund your wallet by sending USDC to: %s (%s network)", w.Address.Hex(), network.Name),
	}
	if w.HasSolana() {
		instructions = append(instructions,
			fmt.Sprintf("Fund Solana tips by sending USDC to: %s", w.SolanaAddress.String()))
	}
	instructions = append(instructions, fmt.Sprintf("Use your tip.md ID in future sessions: %s", w.OwnerID))
	return &Setup{
		Instructions: instructions,
		Warnings: []string{
			"This is your permanent identifier for tip.md",
			"You'll need this ID to access your wallet in future sessions",
			"It's cryptographically unique - no one else can have the same ID",
			"Copy and save the private key and recovery phrase securely (password manager, etc.)",
			"The private key gives you full control of your wallet",
		},
	}
}

type ExportData struct {
	UserID           string `json:"userId"`
	Address          string `json:"address"`
	PrivateKey       string `json:"privateKey"`
	Mnemonic         string `json:"mnemonic,omitempty"`
	SolanaAddress    string `json:"solanaAddress,omitempty"`
	SolanaPrivateKey string `json:"solanaPrivateKey,omitempty"`
	Network          string `json:"network"`
	IsNewWallet      bool   `json:"isNewWallet"`
	Timestamp        string `json:"timestamp"`
}

type Security struct {
	Warnings           []string          `json:"warnings"`
	ImportInstructions map[string]string `json:"importInstructions"`
}

type ExportResult struct {
	Success   bool        `json:"success"`
	Operation string      `json:"operation"`
	Data      *ExportData `json:"data,omitempty"`
	Security  *Security   `json:"security,omitempty"`
	Error     *Failure    `json:"error,omitempty"`
	Message   string      `json:"message"`
}

// ExportWallet returns the key material of an existing wallet.
func (s *Service) ExportWallet(ctx context.Context, userID string) *ExportResult {
	w, err := s.opts.Wallets.GetRaw(ctx, userID)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return &ExportResult{
			Operation: operationWalletExport,
			Error: &Failure{
				Code:    CodeWalletNotFound,
				Message: "No tipping wallet found for user",
				Details: fmt.Sprintf("User ID: %s. Please create a wallet first using the check_balance tool.", userID),
			},
			Message: "Wallet export failed due to missing wallet",
		}
	}
	if err != nil {
		s.log.Error("wallet export failed", zap.String("user_id", userID), zap.Error(err))
		return &ExportResult{
			Operation: operationWalletExport,
			Error:     &Failure{Code: CodeSystemError, Message: "Failed to export wallet", Details: err.Error()},
			Message:   "Wallet export failed due to system error",
		}
	}
	if w.PrivateKey == "" {
		return &ExportResult{
			Operation: operationWalletExport,
			Error: &Failure{
				Code:    CodeMissingPrivateKey,
				Message: "Private key not available",
				Details: "Could not retrieve private key from wallet data",
			},
			Message: "Wallet export failed due to missing private key",
		}
	}

	data := &ExportData{
		UserID:           userID,
		Address:          w.Address.Hex(),
		PrivateKey:       w.PrivateKey,
		Mnemonic:         w.Mnemonic,
		SolanaPrivateKey: w.SolanaPrivateKey,
		Network:          s.opts.EVM.Network().Name,
		Timestamp:        s.timestamp(),
	}
	importInstructions := map[string]string{
		"metamask": "MetaMask → Settings → Import Account → Private Key",
	}
	if w.HasSolana() {
		data.SolanaAddress = w.SolanaAddress.String()
		importInstructions["phantom"] = "Phantom → Add / Connect Wallet → Import Private Key"
	}
	s.log.Info("wallet exported", zap.String("user_id", userID))
	return &ExportResult{
		Success:   true,
		Operation: operationWalletExport,
		Data:      data,
		Security: &Security{
			Warnings: []string{
				"This private key controls your funds",
				"Never share it with anyone",
				"Store it securely (password manager recommended)",
				"tip.md cannot recover lost keys",
			},
			ImportInstructions: importInstructions,
		},
		Message: "Existing wallet exported successfully",
	}
}

type WithdrawData struct {
	UserID                string  `json:"userId"`
	Amount                float64 `json:"amount"`
	DestinationAddress    string  `json:"destinationAddress"`
	Network               string  `json:"network"`
	SourceAddress         string  `json:"sourceAddress"`
	TransactionHash       string  `json:"transactionHash"`
	ExplorerURL           string  `json:"explorerUrl"`
	RemainingBalance      float64 `json:"remainingBalance"`
	EstimatedConfirmation string  `json:"estimatedConfirmation"`
	Timestamp             string  `json:"timestamp"`
}

type WithdrawResult struct {
	Success   bool          `json:"success"`
	Operation string        `json:"operation"`
	Data      *WithdrawData `json:"data,omitempty"`
	Error     *Failure      `json:"error,omitempty"`
	Message   string        `json:"message"`
}

func withdrawFailure(f *Failure, message string) *WithdrawResult {
	return &WithdrawResult{Operation: operationWithdrawal, Error: f, Message: message}
}

// Withdraw sends amount USDC from userID's wallet to destination on the EVM
// network, signed with the wallet key.
func (s *Service) Withdraw(ctx context.Context, userID, destination string, amount decimal.Decimal) *WithdrawResult {
	log := s.log.With(zap.String("user_id", userID), zap.String("destination", destination))

	w, err := s.opts.Wallets.GetRaw(ctx, userID)
	if err != nil {
		if !errors.Is(err, wallet.ErrWalletNotFound) {
			log.Error("failed to load wallet", zap.Error(err))
		}
		return withdrawFailure(&Failure{
			Code:    CodeWalletNotFound,
			Message: "No tipping wallet found for user",
			Details: fmt.Sprintf("User ID: %s. Please create a wallet first using the check_balance tool.", userID),
		}, "Withdrawal failed due to missing wallet")
	}

	if !mevm.IsValidAddress(destination) {
		return withdrawFailure(&Failure{
			Code:    CodeInvalidAddress,
			Message: "Invalid destination Ethereum address",
			Details: fmt.Sprintf("Address '%s' is not a valid Ethereum address", destination),
		}, "Withdrawal failed due to invalid destination address")
	}

	balance := s.usdcBalance(ctx, w.Address)
	if balance.IsZero() {
		return withdrawFailure(&Failure{
			Code:    CodeInsufficientFunds,
			Message: "No USDC balance available for withdrawal",
			Details: fmt.Sprintf("Wallet %s has zero USDC balance", w.Address.Hex()),
		}, "Withdrawal failed due to insufficient funds")
	}
	if !amount.IsPositive() || amount.GreaterThan(balance) {
		return withdrawFailure(&Failure{
			Code:    CodeInvalidAmount,
			Message: "Invalid withdrawal amount",
			Details: fmt.Sprintf("Requested %s USDC, but available balance is %s USDC", amount.String(), balance.StringFixed(2)),
		}, "Withdrawal failed due to invalid amount")
	}
	atomic, ok := atomicFromUSDC(amount)
	if !ok || atomic == 0 {
		return withdrawFailure(&Failure{
			Code:    CodeInvalidAmount,
			Message: "Invalid withdrawal amount",
			Details: fmt.Sprintf("Requested %s USDC is below the smallest USDC unit", amount.String()),
		}, "Withdrawal failed due to invalid amount")
	}

	key, err := w.EVMKey()
	if err != nil {
		log.Error("failed to load wallet key", zap.Error(err))
		return withdrawFailure(&Failure{Code: CodeMissingPrivateKey, Message: "Private key not available", Details: err.Error()},
			"Withdrawal failed due to missing private key")
	}

	network := s.opts.EVM.Network()
	log.Info("withdrawing", zap.Uint64("atomic", atomic), zap.String("source", w.Address.Hex()))
	hash, err := s.opts.EVM.Transfer(ctx, key, common.HexToAddress(destination), new(big.Int).SetUint64(atomic))
	if err != nil {
		log.Error("withdrawal transfer failed", zap.Error(err))
		return withdrawFailure(&Failure{
			Code:    CodeTransactionFailed,
			Message: "Withdrawal transaction failed",
			Details: err.Error(),
		}, "Withdrawal failed due to transaction error")
	}

	sent := usdcFromAtomic(atomic)
	log.Info("withdrawal sent", zap.String("tx", hash))
	return &WithdrawResult{
		Success:   true,
		Operation: operationWithdrawal,
		Data: &WithdrawData{
			UserID:                userID,
			Amount:                sent.InexactFloat64(),
			DestinationAddress:    common.HexToAddress(destination).Hex(),
			Network:               network.Name,
			SourceAddress:         w.Address.Hex(),
			TransactionHash:       hash,
			ExplorerURL:           network.TxURL(hash),
			RemainingBalance:      balance.Sub(sent).Round(2).InexactFloat64(),
			EstimatedConfirmation: estimatedConfirmation,
			Timestamp:             s.timestamp(),
		},
		Message: "Withdrawal completed successfully",
	}
}

const estimatedConfirmation = "2-5 minutes"
