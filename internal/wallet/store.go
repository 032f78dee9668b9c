// Package wallet keeps the custodial sender wallets, one per owner id.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/tipmd/x402-tipping/internal/store"
	mevm "github.com/tipmd/x402-tipping/mechanisms/evm"
	msvm "github.com/tipmd/x402-tipping/mechanisms/svm"
	sevm "github.com/tipmd/x402-tipping/signers/evm"
	ssvm "github.com/tipmd/x402-tipping/signers/svm"
)

const ownerIDPrefix = "tip.md_user_"

var (
	ErrWalletNotFound = errors.New("wallet: not found")
	ErrNoSolanaKey    = errors.New("wallet: no solana key")
)

// Repo persists wallet records. *store.WalletRepo satisfies it.
type Repo interface {
	CreateIfAbsent(ctx context.Context, w *store.Wallet) (bool, error)
	Get(ctx context.Context, ownerID string) (*store.Wallet, error)
	Touch(ctx context.Context, ownerID string, at time.Time) error
}

// Wallet is a stored record with its addresses derived from the keys.
type Wallet struct {
	OwnerID          string
	Address          common.Address
	SolanaAddress    solana.PublicKey
	PrivateKey       string
	SolanaPrivateKey string
	Mnemonic         string
	CreatedAt        time.Time
	LastUsedAt       time.Time
	IsNew            bool
}

func (w *Wallet) HasSolana() bool {
	return w.SolanaPrivateKey != ""
}

// EVMPayer signs EIP-3009 authorizations with the wallet key.
func (w *Wallet) EVMPayer() (*mevm.ExactClient, error) {
	key, err := ParseEVMKey(w.PrivateKey)
	if err != nil {
		return nil, err
	}
	return mevm.NewExactClient(sevm.NewClientSigner(key)), nil
}

// EVMKey returns the parsed signing key.
func (w *Wallet) EVMKey() (*ecdsa.PrivateKey, error) {
	return ParseEVMKey(w.PrivateKey)
}

// SolanaPayer builds partially signed SPL transfers with the wallet key.
func (w *Wallet) SolanaPayer(rpc msvm.RPC) (*msvm.ExactClient, error) {
	if !w.HasSolana() {
		return nil, ErrNoSolanaKey
	}
	key, err := ParseSolanaKey(w.SolanaPrivateKey)
	if err != nil {
		return nil, err
	}
	return msvm.NewExactClient(ssvm.NewClientSigner(key), rpc), nil
}

type Store struct {
	repo Repo
	log  *zap.Logger
	now  func() time.Time
}

func NewStore(repo Repo, log *zap.Logger) *Store {
	return &Store{repo: repo, log: log, now: time.Now}
}

// GenerateOwnerID returns a fresh handle of the form tip.md_user_<16 hex>.
// It is never checked against existing records.
func GenerateOwnerID() (string, error) {
	var random [16]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", fmt.Errorf("generate owner id: %w", err)
	}
	seed := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), hex.EncodeToString(random[:]))
	sum := sha256.Sum256([]byte(seed))
	return ownerIDPrefix + hex.EncodeToString(sum[:])[:16], nil
}

// GetOrCreate loads the owner's wallet or creates one. Creation is an
// insert-if-absent; a caller that loses the race gets the winner's wallet
// with IsNew false.
func (s *Store) GetOrCreate(ctx context.Context, ownerID string) (*Wallet, error) {
	rec, err := s.repo.Get(ctx, ownerID)
	if err == nil {
		s.touch(ctx, ownerID)
		return fromRecord(rec, false)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	keys, err := GenerateKeys()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec = &store.Wallet{
		OwnerID:          ownerID,
		Mnemonic:         keys.Mnemonic,
		EVMPrivateKey:    keys.EVMPrivateKey,
		SolanaPrivateKey: keys.SolanaPrivateKey,
		CreatedAt:        now,
		LastUsedAt:       now,
	}
	created, err := s.repo.CreateIfAbsent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	if !created {
		s.log.Info("wallet created concurrently, loading existing", zap.String("owner_id", ownerID))
		rec, err = s.repo.Get(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("load wallet: %w", err)
		}
		return fromRecord(rec, false)
	}

	w, err := fromRecord(rec, true)
	if err != nil {
		return nil, err
	}
	s.log.Info("wallet created", zap.String("owner_id", ownerID), zap.String("address", w.Address.Hex()))
	return w, nil
}

// GetRaw returns the full record including key material. A missing wallet
// is ErrWalletNotFound.
func (s *Store) GetRaw(ctx context.Context, ownerID string) (*Wallet, error) {
	rec, err := s.repo.Get(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	s.touch(ctx, ownerID)
	return fromRecord(rec, false)
}

func (s *Store) touch(ctx context.Context, ownerID string) {
	if err := s.repo.Touch(ctx, ownerID, s.now().UTC()); err != nil {
		s.log.Warn("failed to update wallet last used", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

func fromRecord(rec *store.Wallet, isNew bool) (*Wallet, error) {
	w := &Wallet{
		OwnerID:          rec.OwnerID,
		PrivateKey:       rec.EVMPrivateKey,
		SolanaPrivateKey: rec.SolanaPrivateKey,
		Mnemonic:         rec.Mnemonic,
		CreatedAt:        rec.CreatedAt,
		LastUsedAt:       rec.LastUsedAt,
		IsNew:            isNew,
	}
	if rec.EVMPrivateKey != "" {
		addr, err := EVMAddress(rec.EVMPrivateKey)
		if err != nil {
			return nil, err
		}
		w.Address = addr
	}
	if rec.SolanaPrivateKey != "" {
		addr, err := SolanaAddress(rec.SolanaPrivateKey)
		if err != nil {
			return nil, err
		}
		w.SolanaAddress = addr
	}
	return w, nil
}
