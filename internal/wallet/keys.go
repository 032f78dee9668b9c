package wallet

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"
)

// Keys is freshly generated key material. Both chain keys come from one
// BIP39 mnemonic so the wallet can be restored from the phrase alone.
type Keys struct {
	Mnemonic         string
	EVMPrivateKey    string // 0x-prefixed hex
	SolanaPrivateKey string // base58, 64 bytes
}

// GenerateKeys draws 256 bits of entropy and derives the EVM key at
// m/44'/60'/0'/0/0. The Solana key is the ed25519 key seeded by the first
// 32 bytes of the BIP39 seed.
func GenerateKeys() (*Keys, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	return KeysFromMnemonic(mnemonic)
}

// KeysFromMnemonic re-derives the keys GenerateKeys would produce.
func KeysFromMnemonic(mnemonic string) (*Keys, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	key := master
	for _, index := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	} {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive: %w", err)
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	evmKey, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}

	solKey := solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize]))

	return &Keys{
		Mnemonic:         mnemonic,
		EVMPrivateKey:    hexutil.Encode(crypto.FromECDSA(evmKey)),
		SolanaPrivateKey: solKey.String(),
	}, nil
}

// ParseEVMKey accepts a hex key with or without the 0x prefix.
func ParseEVMKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid evm private key: %w", err)
	}
	return key, nil
}

// EVMAddress derives the address of a hex private key.
func EVMAddress(hexKey string) (common.Address, error) {
	key, err := ParseEVMKey(hexKey)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// ParseSolanaKey decodes a base58 64-byte keypair.
func ParseSolanaKey(b58 string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(b58)
	if err != nil {
		return nil, fmt.Errorf("invalid solana private key: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid solana private key length %d", len(key))
	}
	return key, nil
}

// SolanaAddress derives the public key of a base58 private key.
func SolanaAddress(b58 string) (solana.PublicKey, error) {
	key, err := ParseSolanaKey(b58)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return key.PublicKey(), nil
}
