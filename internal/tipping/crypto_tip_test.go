package tipping

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoTipEVM(t *testing.T) {
	f := newFixture(t)

	res := f.svc.CryptoTip(context.Background(), CryptoTipInput{Username: "alice", Blockchain: "base", Amount: "5", Token: "usdc"})

	assert.Equal(t, VariantEVM, res.Variant)
	assert.Nil(t, res.Solana)
	assert.Nil(t, res.Error)
	require.NotNil(t, res.EVM)
	assert.Equal(t, aliceSplit, res.EVM.RecipientAddress)
	assert.Equal(t, "USDC", res.EVM.Token)
	assert.Equal(t, 5.0, res.EVM.Amount)
	assert.Equal(t, 0.04, res.EVM.PlatformFeePercentage)
	assert.Equal(t, "Base Mainnet", res.EVM.Network)
	assert.Contains(t, res.Prompt, "spending approval")
}

func TestCryptoTipEVMTestnetNames(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Testnet = true })

	eth := f.svc.CryptoTip(context.Background(), CryptoTipInput{Username: "alice", Blockchain: "ethereum", Amount: "0.1", Token: "ETH"})
	require.NotNil(t, eth.EVM)
	assert.Equal(t, "Sepolia Testnet", eth.EVM.Network)
	assert.NotContains(t, eth.Prompt, "approval")

	base := f.svc.CryptoTip(context.Background(), CryptoTipInput{Username: "alice", Blockchain: "base", Amount: "0.1", Token: "ETH"})
	require.NotNil(t, base.EVM)
	assert.Equal(t, "Base Sepolia", base.EVM.Network)
}

func TestCryptoTipSolanaUSDC(t *testing.T) {
	f := newFixture(t)

	res := f.svc.CryptoTip(context.Background(), CryptoTipInput{Username: "alice", Blockchain: "solana", Amount: "2.5", Token: "USDC"})

	assert.Equal(t, VariantSolana, res.Variant)
	require.NotNil(t, res.Solana)
	s := res.Solana
	assert.Equal(t, "Solana Mainnet", s.Network)
	assert.Equal(t, 2.5, s.TotalAmount)
	require.Len(t, s.Transfers, 2)
	assert.Equal(t, "developer", s.Transfers[0].RecipientType)
	assert.Equal(t, aliceSolana, s.Transfers[0].TargetAddress)
	assert.Equal(t, uint64(2_400_000), s.Transfers[0].AmountAtomic)
	assert.Equal(t, platformSol, s.Transfers[1].TargetAddress)
	assert.Equal(t, uint64(100_000), s.Transfers[1].AmountAtomic)
	assert.Nil(t, s.Transaction)
}

func TestCryptoTipSolanaSOL(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Testnet = true })

	res := f.svc.CryptoTip(context.Background(), CryptoTipInput{Username: "alice", Blockchain: "solana", Amount: "0.123456789", Token: "SOL"})

	require.NotNil(t, res.Solana)
	txn := res.Solana.Transaction
	require.NotNil(t, txn)
	assert.Equal(t, "Solana Devnet", res.Solana.Network)
	assert.Equal(t, "https://api.devnet.solana.com", txn.ClusterURL)
	assert.Equal(t, uint64(123_456_789), txn.Lamports.Total)
	assert.Equal(t, uint64(4_938_271), txn.Lamports.PlatformFee)
	assert.Equal(t, txn.Lamports.Total, txn.Lamports.Developer+txn.Lamports.PlatformFee)

	require.Len(t, txn.Instructions, 2)
	fee := txn.Instructions[0]
	assert.Equal(t, solana.SystemProgramID.String(), fee.ProgramID)
	assert.Equal(t, uint32(2), fee.Data.Instruction)
	assert.Equal(t, txn.Lamports.PlatformFee, fee.Data.Lamports)
	assert.Equal(t, agentPubkeyPlaceholder, fee.Keys[0].Pubkey)
	assert.True(t, fee.Keys[0].IsSigner)
	assert.Equal(t, platformSol, fee.Keys[1].Pubkey)
	assert.Equal(t, aliceSolana, txn.Instructions[1].Keys[1].Pubkey)
}

func TestCryptoTipErrors(t *testing.T) {
	tests := []struct {
		name string
		opts func(*Options)
		in   CryptoTipInput
		want string
	}{
		{"token mismatch", nil, CryptoTipInput{Username: "alice", Blockchain: "solana", Amount: "1", Token: "ETH"}, "Token mismatch"},
		{"bad amount", nil, CryptoTipInput{Username: "alice", Blockchain: "base", Amount: "abc", Token: "ETH"}, "positive number"},
		{"amount too large", nil, CryptoTipInput{Username: "alice", Blockchain: "solana", Amount: "20000000000000", Token: "USDC"}, "too large"},
		{"negative amount", nil, CryptoTipInput{Username: "alice", Blockchain: "base", Amount: "-1", Token: "ETH"}, "positive number"},
		{"unknown chain", nil, CryptoTipInput{Username: "alice", Blockchain: "tron", Amount: "1", Token: "USDC"}, "Unsupported blockchain"},
		{"unknown user", nil, CryptoTipInput{Username: "ghost", Blockchain: "base", Amount: "1", Token: "ETH"}, "not found"},
		{"no split address", nil, CryptoTipInput{Username: "bob", Blockchain: "base", Amount: "1", Token: "ETH"}, "split address"},
		{"no solana address", nil, CryptoTipInput{Username: "bob", Blockchain: "solana", Amount: "1", Token: "SOL"}, "Solana wallet address"},
		{"no platform wallet", func(o *Options) { o.SolanaPlatformWallet = "" },
			CryptoTipInput{Username: "alice", Blockchain: "solana", Amount: "1", Token: "SOL"}, "Platform wallet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutate []func(*Options)
			if tt.opts != nil {
				mutate = append(mutate, tt.opts)
			}
			f := newFixture(t, mutate...)

			res := f.svc.CryptoTip(context.Background(), tt.in)

			assert.Equal(t, VariantError, res.Variant)
			assert.Nil(t, res.EVM)
			assert.Nil(t, res.Solana)
			require.NotNil(t, res.Error)
			assert.Contains(t, res.Error.Error, tt.want)
			assert.NotEmpty(t, res.Prompt)
		})
	}
}
