package store

import (
	"context"

	"gorm.io/gorm"
)

type TipRepo struct {
	db *gorm.DB
}

func NewTipRepo(db *gorm.DB) *TipRepo {
	return &TipRepo{db: db}
}

func (r *TipRepo) Create(ctx context.Context, t *Tip) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TipRepo) Get(ctx context.Context, id string) (*Tip, error) {
	var t Tip
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListByUser returns a recipient's tips, newest first.
func (r *TipRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]*Tip, error) {
	var list []*Tip
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
