package store

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store bundles the repositories over one connection.
type Store struct {
	DB      *gorm.DB
	Users   *UserRepo
	Wallets *WalletRepo
	Tips    *TipRepo
	Intents *IntentRepo
}

// New wraps an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{
		DB:      db,
		Users:   NewUserRepo(db),
		Wallets: NewWalletRepo(db),
		Tips:    NewTipRepo(db),
		Intents: NewIntentRepo(db),
	}
}

// connectRetryDelay is the pause before the one reconnect attempt.
var connectRetryDelay = 5 * time.Second

// Open connects to postgres and migrates the schema.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	return open(postgres.Open(dsn), log)
}

func open(dialector gorm.Dialector, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		log.Warn("failed to connect to database, retrying",
			zap.Duration("delay", connectRetryDelay), zap.Error(err))
		time.Sleep(connectRetryDelay)
		db, err = gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err != nil {
			return nil, fmt.Errorf("could not connect to database: %w", err)
		}
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("database ready")
	return New(db), nil
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Wallet{}, &Tip{}, &SettlementIntent{}, &SettlementLeg{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
