package wallet

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tipmd/x402-tipping/internal/store"
)

func newTestStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "wallets.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	st := store.New(db)
	return NewStore(st.Wallets, zap.NewNop()), st
}

func TestGenerateKeysDerivesAddresses(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(keys.Mnemonic), 24)
	assert.True(t, strings.HasPrefix(keys.EVMPrivateKey, "0x"))

	again, err := KeysFromMnemonic(keys.Mnemonic)
	require.NoError(t, err)
	assert.Equal(t, keys, again)

	key, err := ParseEVMKey(keys.EVMPrivateKey)
	require.NoError(t, err)
	addr, err := EVMAddress(keys.EVMPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	solKey, err := ParseSolanaKey(keys.SolanaPrivateKey)
	require.NoError(t, err)
	solAddr, err := SolanaAddress(keys.SolanaPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, solKey.PublicKey(), solAddr)
}

func TestKeysFromMnemonicRejectsGarbage(t *testing.T) {
	_, err := KeysFromMnemonic("not a real mnemonic")
	assert.Error(t, err)
}

func TestGenerateOwnerID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateOwnerID()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(id, "tip.md_user_"))
		require.Len(t, id, len("tip.md_user_")+16)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	s, st := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.NotEmpty(t, first.Mnemonic)
	assert.True(t, first.HasSolana())

	second, err := s.GetOrCreate(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.SolanaAddress, second.SolanaAddress)

	var count int64
	require.NoError(t, st.DB.Model(&store.Wallet{}).Where("owner_id = ?", "owner-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	derived, err := EVMAddress(second.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, second.Address, derived)
}

func TestGetRaw(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRaw(ctx, "nobody")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	created, err := s.GetOrCreate(ctx, "owner-2")
	require.NoError(t, err)

	raw, err := s.GetRaw(ctx, "owner-2")
	require.NoError(t, err)
	assert.Equal(t, created.PrivateKey, raw.PrivateKey)
	assert.Equal(t, created.Mnemonic, raw.Mnemonic)
	assert.False(t, raw.IsNew)

	payer, err := raw.EVMPayer()
	require.NoError(t, err)
	assert.Equal(t, raw.Address.Hex(), payer.Address())

	solPayer, err := raw.SolanaPayer(nil)
	require.NoError(t, err)
	assert.Equal(t, raw.SolanaAddress.String(), solPayer.Address())
}

func TestSolanaPayerWithoutKey(t *testing.T) {
	w := &Wallet{OwnerID: "x"}
	_, err := w.SolanaPayer(nil)
	assert.ErrorIs(t, err, ErrNoSolanaKey)
}

// racingRepo reports absent on the first Get, then loses the insert to a
// wallet that appeared in between.
type racingRepo struct {
	winner *store.Wallet
	gets   int
}

func (r *racingRepo) CreateIfAbsent(context.Context, *store.Wallet) (bool, error) {
	return false, nil
}

func (r *racingRepo) Get(context.Context, string) (*store.Wallet, error) {
	r.gets++
	if r.gets == 1 {
		return nil, store.ErrNotFound
	}
	return r.winner, nil
}

func (r *racingRepo) Touch(context.Context, string, time.Time) error { return nil }

func TestGetOrCreateLostRaceReturnsWinner(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)
	repo := &racingRepo{winner: &store.Wallet{OwnerID: "o", EVMPrivateKey: keys.EVMPrivateKey}}
	s := NewStore(repo, zap.NewNop())

	w, err := s.GetOrCreate(context.Background(), "o")
	require.NoError(t, err)
	assert.False(t, w.IsNew)
	assert.Equal(t, keys.EVMPrivateKey, w.PrivateKey)
	assert.Equal(t, 2, repo.gets)
}

type failingRepo struct{ racingRepo }

func (failingRepo) Get(context.Context, string) (*store.Wallet, error) {
	return nil, errors.New("db down")
}

func TestGetRawPropagatesStoreErrors(t *testing.T) {
	s := NewStore(&failingRepo{}, zap.NewNop())
	_, err := s.GetRaw(context.Background(), "o")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrWalletNotFound)
}
