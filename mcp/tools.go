package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"

	"github.com/tipmd/x402-tipping/internal/tipping"
)

// Tools is the tool backend. *tipping.Service satisfies it.
type Tools interface {
	CheckBalance(ctx context.Context, userID string) *tipping.BalanceResult
	ExportWallet(ctx context.Context, userID string) *tipping.ExportResult
	Withdraw(ctx context.Context, userID, destination string, amount decimal.Decimal) *tipping.WithdrawResult
	Tip(ctx context.Context, in tipping.TipInput) *tipping.TipResult
	GetWalletTypes(ctx context.Context, username string) *tipping.WalletTypesResult
	CryptoTip(ctx context.Context, in tipping.CryptoTipInput) *tipping.CryptoTipResult
}

type CheckBalanceArgs struct {
	UserID string `json:"userId,omitempty" jsonschema:"your tip.md owner id; omit it to create a new wallet"`
}

type ExportWalletArgs struct {
	UserID string `json:"userId" jsonschema:"your tip.md owner id"`
}

type WithdrawArgs struct {
	UserID             string  `json:"userId" jsonschema:"your tip.md owner id"`
	DestinationAddress string  `json:"destinationAddress" jsonschema:"Ethereum address that receives the USDC"`
	Amount             float64 `json:"amount" jsonschema:"amount of USDC to withdraw"`
}

type TipArgs struct {
	UserID   string  `json:"userId" jsonschema:"your tip.md owner id"`
	Username string  `json:"username" jsonschema:"tip.md username of the recipient"`
	Amount   float64 `json:"amount" jsonschema:"amount of USDC to tip, at least 0.01"`
	Network  string  `json:"network,omitempty" jsonschema:"base (default) or solana"`
}

type WalletTypesArgs struct {
	Username string `json:"username" jsonschema:"tip.md username to look up"`
}

type CryptoTipArgs struct {
	Username   string `json:"username" jsonschema:"tip.md username of the recipient"`
	Blockchain string `json:"blockchain" jsonschema:"ethereum, base or solana"`
	Amount     string `json:"amount" jsonschema:"amount in whole tokens, for example 0.05"`
	Token      string `json:"token" jsonschema:"ETH, SOL or USDC"`
}

func (s *Server) registerTools() {
	addTool(s, &mcpsdk.Tool{
		Name: "check_balance",
		Description: "Check the USDC balance of your tip.md tipping wallet. Creates the wallet on first use " +
			"and returns its keys once; save them.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args CheckBalanceArgs) (*mcpsdk.CallToolResult, tipping.BalanceResult, error) {
		return nil, *s.tools.CheckBalance(ctx, args.UserID), nil
	})

	addTool(s, &mcpsdk.Tool{
		Name:        "export_wallet",
		Description: "Export the private key and recovery phrase of your tip.md tipping wallet for use in another wallet app.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args ExportWalletArgs) (*mcpsdk.CallToolResult, tipping.ExportResult, error) {
		return nil, *s.tools.ExportWallet(ctx, args.UserID), nil
	})

	addTool(s, &mcpsdk.Tool{
		Name:        "withdraw",
		Description: "Withdraw USDC from your tip.md tipping wallet to an external Ethereum address.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args WithdrawArgs) (*mcpsdk.CallToolResult, tipping.WithdrawResult, error) {
		return nil, *s.tools.Withdraw(ctx, args.UserID, args.DestinationAddress, decimal.NewFromFloat(args.Amount)), nil
	})

	addTool(s, &mcpsdk.Tool{
		Name: "tip",
		Description: "Tip a tip.md user in USDC. The payment goes through the x402 protocol; 96% reaches the " +
			"recipient and 4% is the platform fee.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args TipArgs) (*mcpsdk.CallToolResult, tipping.TipResult, error) {
		return nil, *s.tools.Tip(ctx, tipping.TipInput{
			UserID:   args.UserID,
			Username: args.Username,
			Amount:   decimal.NewFromFloat(args.Amount),
			Network:  args.Network,
		}), nil
	})

	addTool(s, &mcpsdk.Tool{
		Name:        "get_wallet_types",
		Description: "List the networks a tip.md user can receive tips on.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args WalletTypesArgs) (*mcpsdk.CallToolResult, tipping.WalletTypesResult, error) {
		return nil, *s.tools.GetWalletTypes(ctx, args.Username), nil
	})

	addTool(s, &mcpsdk.Tool{
		Name: "crypto_tip",
		Description: "Get instructions for tipping a tip.md user from your own wallet in ETH, SOL or USDC. " +
			"No funds are moved.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args CryptoTipArgs) (*mcpsdk.CallToolResult, tipping.CryptoTipResult, error) {
		return nil, *s.tools.CryptoTip(ctx, tipping.CryptoTipInput{
			Username:   args.Username,
			Blockchain: args.Blockchain,
			Amount:     args.Amount,
			Token:      args.Token,
		}), nil
	})

	// ping has no arguments and returns plain text.
	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        "ping",
		Description: "Health check",
		InputSchema: map[string]interface{}{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}},
		}, nil
	})
}

// outcome reports the success flag and failure code of a tool result.
func outcome(v any) (bool, string) {
	switch r := v.(type) {
	case tipping.BalanceResult:
		return r.Success, failureCode(r.Error)
	case tipping.ExportResult:
		return r.Success, failureCode(r.Error)
	case tipping.WithdrawResult:
		return r.Success, failureCode(r.Error)
	case tipping.TipResult:
		return r.Success, failureCode(r.Error)
	case tipping.WalletTypesResult:
		return !r.UserNotFound, ""
	case tipping.CryptoTipResult:
		return r.Variant != tipping.VariantError, ""
	}
	return true, ""
}

func failureCode(f *tipping.Failure) string {
	if f == nil {
		return ""
	}
	return f.Code
}
