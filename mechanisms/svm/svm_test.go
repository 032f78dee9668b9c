package svm_test

import (
	"bytes"
	"context"
	"testing"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/tipmd/x402-tipping"
	"github.com/tipmd/x402-tipping/mechanisms/svm"
	svmsigner "github.com/tipmd/x402-tipping/signers/svm"
)

type fakeRPC struct {
	accounts map[solana.PublicKey]*rpc.Account
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	acc, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acc}, nil
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{7}}}, nil
}

func mintAccount(t *testing.T, decimals uint8) *rpc.Account {
	t.Helper()
	var buf bytes.Buffer
	mint := token.Mint{Decimals: decimals, IsInitialized: true}
	require.NoError(t, bin.NewBinEncoder(&buf).Encode(&mint))
	return &rpc.Account{Owner: solana.TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(buf.Bytes())}
}

func setup(t *testing.T) (*svmsigner.ClientSigner, solana.PublicKey, solana.PublicKey, *fakeRPC) {
	t.Helper()
	payerKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	signer := svmsigner.NewClientSigner(payerKey)

	payTo := solana.NewWallet().PublicKey()
	config, err := svm.GetNetworkConfig(svm.NetworkSolanaDevnet)
	require.NoError(t, err)
	mint := config.USDCMint

	src, _, err := solana.FindAssociatedTokenAddress(signer.Address(), mint)
	require.NoError(t, err)
	dst, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	require.NoError(t, err)

	fake := &fakeRPC{accounts: map[solana.PublicKey]*rpc.Account{
		mint: mintAccount(t, 6),
		src:  {Owner: solana.TokenProgramID},
		dst:  {Owner: solana.TokenProgramID},
	}}
	return signer, payTo, mint, fake
}

func TestExactClient_CreatePaymentPayload(t *testing.T) {
	signer, payTo, mint, fake := setup(t)
	feePayer := solana.NewWallet().PublicKey()

	client := svm.NewExactClient(signer, fake)
	reqs := x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           svm.NetworkSolanaDevnet,
		MaxAmountRequired: "250000",
		PayTo:             payTo.String(),
		Asset:             mint.String(),
		Extra:             map[string]any{"feePayer": feePayer.String()},
	}

	payload, err := client.CreatePaymentPayload(context.Background(), reqs)
	require.NoError(t, err)
	assert.Equal(t, "solana-devnet", payload.Network)

	encoded, ok := payload.Payload["transaction"].(string)
	require.True(t, ok)

	tx, err := svm.DecodeTransaction(encoded)
	require.NoError(t, err)
	assert.Len(t, tx.Message.Instructions, 3)
	assert.Equal(t, feePayer, tx.Message.AccountKeys[0])
	assert.Equal(t, solana.Hash{7}, tx.Message.RecentBlockhash)

	idx, err := tx.GetAccountIndex(signer.Address())
	require.NoError(t, err)
	assert.False(t, tx.Signatures[idx].IsZero())
	assert.True(t, tx.Signatures[0].IsZero(), "fee payer slot is left for the facilitator")
}

func TestExactClient_RequiresFeePayer(t *testing.T) {
	signer, payTo, mint, fake := setup(t)
	client := svm.NewExactClient(signer, fake)

	_, err := client.CreatePaymentPayload(context.Background(), x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           svm.NetworkSolanaDevnet,
		MaxAmountRequired: "1",
		PayTo:             payTo.String(),
		Asset:             mint.String(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feePayer")
}

func TestExactClient_MissingDestinationATA(t *testing.T) {
	signer, _, mint, fake := setup(t)
	client := svm.NewExactClient(signer, fake)

	_, err := client.CreatePaymentPayload(context.Background(), x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           svm.NetworkSolanaDevnet,
		MaxAmountRequired: "1",
		PayTo:             solana.NewWallet().PublicKey().String(),
		Asset:             mint.String(),
		Extra:             map[string]any{"feePayer": solana.NewWallet().PublicKey().String()},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ata_not_found")
}

func TestMintInfo_RejectsUnknownProgram(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	fake := &fakeRPC{accounts: map[solana.PublicKey]*rpc.Account{
		mint: {Owner: solana.SystemProgramID},
	}}

	_, _, err := svm.MintInfo(context.Background(), fake, mint)
	assert.Error(t, err)
}

func TestNetworkLinks(t *testing.T) {
	devnet, err := svm.GetNetworkConfig(svm.NetworkSolanaDevnet)
	require.NoError(t, err)
	assert.Equal(t, "https://solscan.io/tx/sig?cluster=devnet", devnet.TxURL("sig"))

	mainnet, err := svm.GetNetworkConfig(svm.NetworkSolana)
	require.NoError(t, err)
	assert.Equal(t, "https://solscan.io/account/abc", mainnet.AccountURL("abc"))

	assert.Equal(t, []string{"solana", "solana-devnet"}, svm.Networks())
	assert.False(t, svm.IsValidAddress("not-base58!"))
}
