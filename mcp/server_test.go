package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tipmd/x402-tipping/internal/tipping"
)

type fakeTools struct {
	mu       sync.Mutex
	tip      tipping.TipInput
	withdraw struct {
		userID, destination string
		amount              decimal.Decimal
	}
	crypto tipping.CryptoTipInput
}

func (f *fakeTools) CheckBalance(_ context.Context, userID string) *tipping.BalanceResult {
	if userID == "" {
		userID = "tip.md_user_new"
	}
	return &tipping.BalanceResult{
		Success:   true,
		Operation: "balance_check",
		Data:      &tipping.BalanceData{UserID: userID, Address: "0xabc", Balance: 12.5},
		Message:   "Wallet ready for tipping with 12.50 USDC balance",
	}
}

func (f *fakeTools) ExportWallet(_ context.Context, userID string) *tipping.ExportResult {
	return &tipping.ExportResult{
		Operation: "wallet_export",
		Error:     &tipping.Failure{Code: tipping.CodeWalletNotFound, Message: "No tipping wallet found for user"},
		Message:   "Wallet export failed due to missing wallet",
	}
}

func (f *fakeTools) Withdraw(_ context.Context, userID, destination string, amount decimal.Decimal) *tipping.WithdrawResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdraw.userID, f.withdraw.destination, f.withdraw.amount = userID, destination, amount
	return &tipping.WithdrawResult{Success: true, Operation: "withdrawal", Message: "Withdrawal completed successfully"}
}

func (f *fakeTools) Tip(_ context.Context, in tipping.TipInput) *tipping.TipResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = in
	return &tipping.TipResult{
		Success:   true,
		Operation: "x402_tip",
		Data: &tipping.TipData{
			TipID:             "0190-tip",
			RecipientUsername: in.Username,
			Amounts:           tipping.TipAmounts{Total: 1, Recipient: 0.96, PlatformFee: 0.04, PlatformFeePercentage: 4},
			Transactions:      tipping.TipTransactions{Recipient: "0xtx1", Platform: "0xtx2"},
		},
		Message: "Tip sent",
	}
}

func (f *fakeTools) GetWalletTypes(_ context.Context, username string) *tipping.WalletTypesResult {
	if username == "ghost" {
		return &tipping.WalletTypesResult{Username: username, UserNotFound: true, SuggestSignup: true, SignupURL: "https://tip.md/signup"}
	}
	return &tipping.WalletTypesResult{Username: username, WalletTypes: []string{"ethereum", "solana"}}
}

func (f *fakeTools) CryptoTip(_ context.Context, in tipping.CryptoTipInput) *tipping.CryptoTipResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crypto = in
	return &tipping.CryptoTipResult{
		Variant: tipping.VariantSolana,
		Prompt:  "two transfers",
		Solana: &tipping.SolanaTipDetails{
			Blockchain: "solana",
			Token:      "USDC",
			Transfers: []tipping.SPLTransfer{
				{RecipientType: "developer", AmountAtomic: 960_000},
				{RecipientType: "platform", AmountAtomic: 40_000},
			},
		},
	}
}

func connect(t *testing.T, tools Tools) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	srv := NewServer(tools, Options{Logger: zap.NewNop()})

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-agent", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any, out any) *mcpsdk.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, res.IsError, "tool %s returned an error result", name)
	if out != nil {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return res
}

func TestListTools(t *testing.T) {
	cs := connect(t, &fakeTools{})

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"check_balance", "crypto_tip", "export_wallet", "get_wallet_types", "ping", "tip", "withdraw",
	}, names)

	assert.Equal(t, DefaultName, cs.InitializeResult().ServerInfo.Name)
	assert.NotEmpty(t, cs.InitializeResult().Instructions)
}

func TestPing(t *testing.T) {
	cs := connect(t, &fakeTools{})

	res := callTool(t, cs, "ping", map[string]any{}, nil)

	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "pong", text.Text)
}

func TestCheckBalanceWithoutUserID(t *testing.T) {
	cs := connect(t, &fakeTools{})

	var out tipping.BalanceResult
	res := callTool(t, cs, "check_balance", map[string]any{}, &out)

	assert.True(t, out.Success)
	assert.Equal(t, "tip.md_user_new", out.Data.UserID)
	assert.Equal(t, 12.5, out.Data.Balance)

	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"success":true`)
}

func TestTipConvertsAmount(t *testing.T) {
	tools := &fakeTools{}
	cs := connect(t, tools)

	var out tipping.TipResult
	callTool(t, cs, "tip", map[string]any{
		"userId":   "tip.md_user_1",
		"username": "alice",
		"amount":   0.1,
		"network":  "solana",
	}, &out)

	assert.True(t, out.Success)
	assert.Equal(t, "0xtx1", out.Data.Transactions.Recipient)
	assert.Equal(t, 0.96, out.Data.Amounts.Recipient)

	assert.Equal(t, "tip.md_user_1", tools.tip.UserID)
	assert.Equal(t, "alice", tools.tip.Username)
	assert.Equal(t, "solana", tools.tip.Network)
	assert.True(t, decimal.RequireFromString("0.1").Equal(tools.tip.Amount), tools.tip.Amount.String())
}

func TestFailureStaysInResult(t *testing.T) {
	cs := connect(t, &fakeTools{})

	var out tipping.ExportResult
	callTool(t, cs, "export_wallet", map[string]any{"userId": "tip.md_user_missing"}, &out)

	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, tipping.CodeWalletNotFound, out.Error.Code)
}

func TestWithdrawArguments(t *testing.T) {
	tools := &fakeTools{}
	cs := connect(t, tools)

	callTool(t, cs, "withdraw", map[string]any{
		"userId":             "tip.md_user_1",
		"destinationAddress": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1",
		"amount":             2.5,
	}, nil)

	assert.Equal(t, "tip.md_user_1", tools.withdraw.userID)
	assert.Equal(t, "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1", tools.withdraw.destination)
	assert.True(t, decimal.RequireFromString("2.5").Equal(tools.withdraw.amount))
}

func TestWalletTypesAndCryptoTip(t *testing.T) {
	tools := &fakeTools{}
	cs := connect(t, tools)

	var types tipping.WalletTypesResult
	callTool(t, cs, "get_wallet_types", map[string]any{"username": "alice"}, &types)
	assert.Equal(t, []string{"ethereum", "solana"}, types.WalletTypes)

	var ghost tipping.WalletTypesResult
	callTool(t, cs, "get_wallet_types", map[string]any{"username": "ghost"}, &ghost)
	assert.True(t, ghost.UserNotFound)
	assert.Equal(t, "https://tip.md/signup", ghost.SignupURL)

	var tip tipping.CryptoTipResult
	callTool(t, cs, "crypto_tip", map[string]any{
		"username": "alice", "blockchain": "solana", "amount": "1", "token": "USDC",
	}, &tip)
	assert.Equal(t, tipping.VariantSolana, tip.Variant)
	require.NotNil(t, tip.Solana)
	require.Len(t, tip.Solana.Transfers, 2)
	assert.Equal(t, uint64(1_000_000), tip.Solana.Transfers[0].AmountAtomic+tip.Solana.Transfers[1].AmountAtomic)
	assert.Equal(t, "1", tools.crypto.Amount)
}

func TestMissingRequiredArgument(t *testing.T) {
	tools := &fakeTools{}
	cs := connect(t, tools)

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "tip",
		Arguments: map[string]any{"userId": "tip.md_user_1"},
	})
	if err == nil {
		assert.True(t, res.IsError)
	}
	assert.Empty(t, tools.tip.Username)
}

func TestHTTPServer(t *testing.T) {
	srv := NewServer(&fakeTools{}, Options{Logger: zap.NewNop()})
	e := NewHTTPServer(srv, zap.NewNop())

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("request id echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	})

	t.Run("streamable session", func(t *testing.T) {
		ts := httptest.NewServer(e)
		defer ts.Close()

		ctx := context.Background()
		client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-agent", Version: "1.0.0"}, nil)
		cs, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
		require.NoError(t, err)
		defer cs.Close()

		var out tipping.WalletTypesResult
		callTool(t, cs, "get_wallet_types", map[string]any{"username": "alice"}, &out)
		assert.Equal(t, "alice", out.Username)
	})
}
