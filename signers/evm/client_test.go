package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/tipmd/x402-tipping"
	x402evm "github.com/tipmd/x402-tipping/mechanisms/evm"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewClientSignerFromPrivateKey(t *testing.T) {
	plain, err := NewClientSignerFromPrivateKey(testKey)
	require.NoError(t, err)
	prefixed, err := NewClientSignerFromPrivateKey("0x" + testKey)
	require.NoError(t, err)

	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", plain.Address())
	assert.Equal(t, plain.Address(), prefixed.Address())

	_, err = NewClientSignerFromPrivateKey("not-a-key")
	assert.Error(t, err)
}

func TestSignTypedDataRecoversToSigner(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testKey)
	require.NoError(t, err)

	cfg, err := x402evm.GetNetworkConfig(x402evm.NetworkBaseSepolia)
	require.NoError(t, err)

	auth := x402.ExactEvmAuthorization{
		From:        signer.Address(),
		To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "1900000000",
		Nonce:       "0x" + "11" + "00000000000000000000000000000000000000000000000000000000000000",
	}
	message, err := x402evm.AuthorizationMessage(auth)
	require.NoError(t, err)

	sig, err := signer.SignTypedData(context.Background(), x402evm.TypedDataDomain{
		Name:              cfg.DefaultAsset.Name,
		Version:           cfg.DefaultAsset.Version,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.DefaultAsset.Address,
	}, x402evm.TransferWithAuthorizationTypes, "TransferWithAuthorization", message)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := x402evm.RecoverAuthorizationSigner(auth, sig, cfg.ChainID, cfg.DefaultAsset)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	other, err := x402evm.RecoverAuthorizationSigner(auth, sig, big.NewInt(8453), cfg.DefaultAsset)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), other, "signature must be bound to the chain id")
}

func TestPrivateKeyMatchesAddress(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testKey)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), crypto.PubkeyToAddress(signer.PrivateKey().PublicKey).Hex())
}
