package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepo struct {
	db *gorm.DB
}

func NewWalletRepo(db *gorm.DB) *WalletRepo {
	return &WalletRepo{db: db}
}

// CreateIfAbsent inserts w unless a wallet with the same owner id exists.
// It reports whether this call created the row.
func (r *WalletRepo) CreateIfAbsent(ctx context.Context, w *Wallet) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(w)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *WalletRepo) Get(ctx context.Context, ownerID string) (*Wallet, error) {
	var w Wallet
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// Touch records a use of the wallet.
func (r *WalletRepo) Touch(ctx context.Context, ownerID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("owner_id = ?", ownerID).
		Update("last_used_at", at).Error
}
