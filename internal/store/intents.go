package store

import (
	"context"

	"gorm.io/gorm"
)

type IntentRepo struct {
	db *gorm.DB
}

func NewIntentRepo(db *gorm.DB) *IntentRepo {
	return &IntentRepo{db: db}
}

// Create stores the intent together with its legs.
func (r *IntentRepo) Create(ctx context.Context, intent *SettlementIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *IntentRepo) Get(ctx context.Context, id string) (*SettlementIntent, error) {
	var intent SettlementIntent
	err := r.db.WithContext(ctx).
		Preload("Legs", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ?", id).
		First(&intent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// UpdateLeg stores the outcome of one transfer.
func (r *IntentRepo) UpdateLeg(ctx context.Context, legID uint64, status, txHash, errMsg string) error {
	return r.db.WithContext(ctx).
		Model(&SettlementLeg{}).
		Where("id = ?", legID).
		Updates(map[string]any{"status": status, "tx_hash": txHash, "error": errMsg}).Error
}

func (r *IntentRepo) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).
		Model(&SettlementIntent{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// ListByStatus returns intents in status, oldest first, for reconciliation.
func (r *IntentRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*SettlementIntent, error) {
	var list []*SettlementIntent
	err := r.db.WithContext(ctx).
		Preload("Legs", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("status = ?", status).
		Order("created_at").
		Limit(limit).
		Find(&list).Error
	return list, err
}
