package tipping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	x402http "github.com/tipmd/x402-tipping/http"
	"github.com/tipmd/x402-tipping/internal/settlement"
	"github.com/tipmd/x402-tipping/internal/store"
	"github.com/tipmd/x402-tipping/internal/wallet"
)

// Networks accepted by Tip.
const (
	NetworkBase   = "base"
	NetworkSolana = "solana"
)

const (
	operationBaseTip   = "x402_tip"
	operationSolanaTip = "solana_tip"
	tipStatusConfirmed = "confirmed"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

type TipInput struct {
	UserID   string
	Username string
	Amount   decimal.Decimal
	// Network is "base" (the default) or "solana".
	Network string
}

type TipAmounts struct {
	Total                 float64 `json:"total"`
	Recipient             float64 `json:"recipient"`
	PlatformFee           float64 `json:"platformFee"`
	PlatformFeePercentage int     `json:"platformFeePercentage"`
}

type TipTransactions struct {
	Recipient string `json:"recipient"`
	Platform  string `json:"platform"`
}

type TipData struct {
	TipID              string          `json:"tipId"`
	IntentID           string          `json:"intentId,omitempty"`
	SenderUserID       string          `json:"senderUserId"`
	RecipientUsername  string          `json:"recipientUsername"`
	Amounts            TipAmounts      `json:"amounts"`
	Network            string          `json:"network"`
	Protocol           string          `json:"protocol"`
	Transactions       TipTransactions `json:"transactions"`
	Explorer           TipTransactions `json:"explorer"`
	PaymentTransaction string          `json:"paymentTransaction,omitempty"`
	Timestamp          string          `json:"timestamp"`
}

type TipResult struct {
	Success   bool     `json:"success"`
	Operation string   `json:"operation"`
	Data      *TipData `json:"data,omitempty"`
	Error     *Failure `json:"error,omitempty"`
	Message   string   `json:"message"`
}

// settlementReply is the part of the settlement endpoint's 200 body the tool
// relies on.
type settlementReply struct {
	IntentID     string          `json:"intentId"`
	Transactions TipTransactions `json:"transactions"`
	Amounts      struct {
		TotalAtomic       uint64 `json:"totalAtomic"`
		RecipientAtomic   uint64 `json:"recipientAtomic"`
		PlatformFeeAtomic uint64 `json:"platformFeeAtomic"`
	} `json:"amounts"`
	X402Protocol struct {
		PaymentTransaction string `json:"paymentTransaction"`
	} `json:"x402Protocol"`
}

// route describes how one network is tipped.
type route struct {
	network   string // x402 network name
	path      string
	operation string
	display   string
	address   func(u *store.User) string
	txURL     func(hash string) string
}

func (s *Service) route(network string) (*route, *Failure) {
	switch strings.ToLower(network) {
	case "", NetworkBase, "evm", "ethereum":
		cfg := s.opts.EVM.Network()
		return &route{
			network:   cfg.Name,
			path:      "/tip-base",
			operation: operationBaseTip,
			display:   "Base",
			address:   func(u *store.User) string { return u.EthereumAddress },
			txURL:     cfg.TxURL,
		}, nil
	case NetworkSolana:
		if s.opts.Solana == nil {
			return nil, &Failure{
				Code:    CodeInvalidNetwork,
				Message: "Solana tipping is not available",
				Details: "This server has no Solana settlement account configured",
			}
		}
		cfg := s.opts.Solana.Network()
		return &route{
			network:   cfg.Name,
			path:      "/tip-solana",
			operation: operationSolanaTip,
			display:   "Solana",
			address:   func(u *store.User) string { return u.SolanaAddress },
			txURL:     cfg.TxURL,
		}, nil
	}
	return nil, &Failure{
		Code:    CodeInvalidNetwork,
		Message: "Unsupported network",
		Details: fmt.Sprintf("Network '%s' is not supported. Use 'base' or 'solana'", network),
	}
}

func tipFailure(operation string, f *Failure, message string) *TipResult {
	return &TipResult{Success: false, Operation: operation, Error: f, Message: message}
}

// Tip pays amount USDC from the sender's custodial wallet to username through
// the settlement endpoint, which splits it between the recipient and the
// platform.
func (s *Service) Tip(ctx context.Context, in TipInput) *TipResult {
	operation := operationBaseTip
	if strings.EqualFold(in.Network, NetworkSolana) {
		operation = operationSolanaTip
	}
	log := s.log.With(
		zap.String("sender", in.UserID),
		zap.String("recipient", in.Username),
		zap.String("amount", in.Amount.String()),
		zap.String("network", in.Network))

	if in.Amount.LessThan(minTipAmount) {
		return tipFailure(operation, &Failure{
			Code:    CodeInvalidAmount,
			Message: "Minimum tip amount is 0.01 USDC",
			Details: fmt.Sprintf("Requested amount: %s USDC", in.Amount.String()),
		}, "Tip failed due to invalid amount")
	}
	atomic, ok := atomicFromUSDC(in.Amount)
	if !ok {
		return tipFailure(operation, &Failure{
			Code:    CodeInvalidAmount,
			Message: "Tip amount is too large",
			Details: fmt.Sprintf("Requested amount: %s USDC", in.Amount.String()),
		}, "Tip failed due to invalid amount")
	}
	if !usernamePattern.MatchString(in.Username) {
		return tipFailure(operation, &Failure{
			Code:    CodeInvalidUsername,
			Message: "Invalid username",
			Details: "Username must be 3-50 characters of letters, digits, underscores and hyphens",
		}, "Tip failed due to invalid username")
	}
	rt, failure := s.route(in.Network)
	if failure != nil {
		return tipFailure(operation, failure, "Tip failed due to unsupported network")
	}

	recipient, err := s.opts.Users.GetByUsername(ctx, in.Username)
	if err != nil {
		return tipFailure(rt.operation, userNotFound(in.Username), "Tip failed due to user not found")
	}
	recipientAddress := strings.TrimSpace(rt.address(recipient))
	if recipientAddress == "" {
		return tipFailure(rt.operation, walletNotConnected(in.Username), "Tip failed due to recipient wallet not connected")
	}

	sender, err := s.opts.Wallets.GetRaw(ctx, in.UserID)
	if err != nil {
		if !errors.Is(err, wallet.ErrWalletNotFound) {
			log.Error("failed to load sender wallet", zap.Error(err))
		}
		return tipFailure(rt.operation, &Failure{
			Code:    CodeWalletNotFound,
			Message: "No tipping wallet found for user",
			Details: fmt.Sprintf("User ID: %s. Please create a wallet first using the check_balance tool.", in.UserID),
		}, "Tip failed due to missing wallet")
	}

	var (
		payer       x402http.Payer
		payerAddr   string
		payerFailed error
	)
	if rt.operation == operationSolanaTip {
		p, err := sender.SolanaPayer(s.opts.Solana.RPC())
		if errors.Is(err, wallet.ErrNoSolanaKey) {
			return tipFailure(rt.operation, &Failure{
				Code:    CodeMissingSolanaKey,
				Message: "Tipping wallet has no Solana key",
				Details: fmt.Sprintf("User ID: %s. This wallet was created before Solana support.", in.UserID),
			}, "Tip failed due to missing Solana key")
		}
		payer, payerAddr, payerFailed = p, sender.SolanaAddress.String(), err
	} else {
		p, err := sender.EVMPayer()
		payer, payerAddr, payerFailed = p, sender.Address.Hex(), err
	}
	if payerFailed != nil {
		log.Error("failed to load sender key", zap.Error(payerFailed))
		return tipFailure(rt.operation, &Failure{
			Code:    CodePaymentFailed,
			Message: "Failed to prepare x402 payment",
			Details: payerFailed.Error(),
		}, "Tip failed due to x402 payment error")
	}

	log.Info("sending x402 tip", zap.String("payer", payerAddr), zap.Uint64("atomic", atomic), zap.String("path", rt.path))

	resp, err := s.settlementClient(payer, atomic).Post(ctx, rt.path, settlement.TipRequest{
		RecipientUsername: recipient.Username,
		RecipientAddress:  recipientAddress,
		TipAmount:         atomic,
		Message:           "Tip from " + in.UserID,
		SenderName:        in.UserID,
	})
	if err != nil {
		f := s.classify(err, in, payerAddr, rt)
		log.Warn("x402 tip failed", zap.String("code", f.Code), zap.Error(err))
		return tipFailure(rt.operation, f, failureMessage(f.Code))
	}

	var reply settlementReply
	if err := resp.Decode(&reply); err != nil {
		// The payment settled; report what the request asked for.
		log.Error("undecodable settlement reply", zap.Error(err))
		reply.Amounts.TotalAtomic = atomic
		reply.Amounts.RecipientAtomic, reply.Amounts.PlatformFeeAtomic = settlement.Split(atomic)
	}
	if reply.X402Protocol.PaymentTransaction == "" && resp.Settlement != nil {
		reply.X402Protocol.PaymentTransaction = resp.Settlement.Transaction
	}

	total := usdcFromAtomic(reply.Amounts.TotalAtomic)
	fee := usdcFromAtomic(reply.Amounts.PlatformFeeAtomic)
	tipID := s.record(ctx, log, recipient, rt, &reply, in.UserID, total, fee)

	data := &TipData{
		TipID:             tipID,
		IntentID:          reply.IntentID,
		SenderUserID:      in.UserID,
		RecipientUsername: recipient.Username,
		Amounts: TipAmounts{
			Total:                 total.InexactFloat64(),
			Recipient:             usdcFromAtomic(reply.Amounts.RecipientAtomic).InexactFloat64(),
			PlatformFee:           fee.InexactFloat64(),
			PlatformFeePercentage: PlatformFeePercentage,
		},
		Network:      rt.network,
		Protocol:     "x402",
		Transactions: reply.Transactions,
		Explorer: TipTransactions{
			Recipient: rt.txURL(reply.Transactions.Recipient),
			Platform:  rt.txURL(reply.Transactions.Platform),
		},
		PaymentTransaction: reply.X402Protocol.PaymentTransaction,
		Timestamp:          s.timestamp(),
	}
	log.Info("tip sent", zap.String("tip_id", tipID), zap.String("recipient_tx", reply.Transactions.Recipient))

	return &TipResult{
		Success:   true,
		Operation: rt.operation,
		Data:      data,
		Message: fmt.Sprintf("Tip sent successfully! %s USDC sent to %s via x402 protocol on %s. Recipient transaction: %s | Platform fee transaction: %s",
			total.String(), recipient.Username, rt.display, data.Explorer.Recipient, data.Explorer.Platform),
	}
}

// record writes the ledger entry. A failure is logged and counted; the tip
// has settled either way.
func (s *Service) record(ctx context.Context, log *zap.Logger, recipient *store.User, rt *route, reply *settlementReply, sender string, total, fee decimal.Decimal) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	userID := recipient.ID
	tip := &store.Tip{
		ID:                      id.String(),
		UserID:                  &userID,
		IntentID:                reply.IntentID,
		Amount:                  ledgerString(total),
		USDValue:                ledgerString(total),
		PlatformFee:             ledgerString(fee),
		PlatformFeePercentage:   fmt.Sprint(PlatformFeePercentage),
		Blockchain:              rt.network,
		Token:                   "USDC",
		TransactionHash:         reply.Transactions.Recipient,
		PlatformTransactionHash: reply.Transactions.Platform,
		Message:                 "x402 tip via MCP server",
		SenderName:              sender,
		Status:                  tipStatusConfirmed,
		CreatedAt:               s.now().UTC(),
	}
	if err := s.opts.Ledger.Create(ctx, tip); err != nil {
		s.persistenceFailures.Add(1)
		log.Error("failed to save tip to ledger",
			zap.String("tip_id", tip.ID),
			zap.String("intent_id", tip.IntentID),
			zap.String("transaction_hash", tip.TransactionHash),
			zap.Error(err))
	}
	return tip.ID
}

// classify maps a settlement call error to a tool failure.
func (s *Service) classify(err error, in TipInput, payerAddr string, rt *route) *Failure {
	var statusErr *x402http.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusPaymentRequired:
			reason := strings.ToLower(statusErr.Message)
			if strings.Contains(reason, "insufficient") || strings.Contains(reason, "balance") {
				return &Failure{
					Code:    CodeInsufficientFunds,
					Message: "Insufficient USDC balance for tip",
					Details: fmt.Sprintf("Wallet: %s, Required: %s USDC, Network: %s", payerAddr, in.Amount.String(), rt.network),
				}
			}
			return &Failure{Code: CodePaymentFailed, Message: "x402 payment verification failed", Details: statusErr.Message}
		case statusErr.StatusCode == http.StatusNotFound:
			return userNotFound(in.Username)
		case statusErr.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(statusErr.Message), "address"):
			return walletNotConnected(in.Username)
		}
		return &Failure{Code: CodeTransactionFailed, Message: "Transaction failed", Details: statusErr.Message}
	}

	if errors.Is(err, x402http.ErrPaymentCreation) {
		return &Failure{Code: CodePaymentFailed, Message: "x402 payment verification failed", Details: err.Error()}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Failure{Code: CodeServiceUnavailable, Message: "x402 payment server not accessible", Details: "Please try again later"}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Failure{
			Code:    CodeTransactionFailed,
			Message: "Transaction timed out",
			Details: "The settlement did not answer in time. Check the wallet history before retrying, the tip may have been sent.",
		}
	}
	return &Failure{Code: CodeTransactionFailed, Message: "Transaction failed", Details: err.Error()}
}

func failureMessage(code string) string {
	switch code {
	case CodeInsufficientFunds:
		return "Tip failed due to insufficient funds"
	case CodePaymentFailed:
		return "Tip failed due to x402 payment error"
	case CodeServiceUnavailable:
		return "Tip failed due to service unavailability"
	case CodeUserNotFound:
		return "Tip failed due to user not found"
	case CodeRecipientNotConnected:
		return "Tip failed due to recipient wallet not connected"
	}
	return "Tip failed due to transaction error"
}

func userNotFound(username string) *Failure {
	return &Failure{
		Code:    CodeUserNotFound,
		Message: "Recipient user not found",
		Details: fmt.Sprintf("Username '%s' needs to sign up at tip.md first", username),
	}
}

func walletNotConnected(username string) *Failure {
	return &Failure{
		Code:    CodeRecipientNotConnected,
		Message: "Recipient wallet not connected",
		Details: fmt.Sprintf("Username '%s' needs to connect their wallet at tip.md to receive tips", username),
	}
}
