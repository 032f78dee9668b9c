// Package directory resolves tip recipients by username or id through a
// short-lived cache in front of the users table.
package directory

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tipmd/x402-tipping/internal/store"
)

// ErrUserNotFound is the only error returned by lookups. Backing store
// failures are logged and reported as not found.
var ErrUserNotFound = errors.New("directory: user not found")

// Source is the backing store. *store.UserRepo satisfies it.
type Source interface {
	FindByUsername(ctx context.Context, username string) (*store.User, error)
	FindByID(ctx context.Context, id int64) (*store.User, error)
}

type Directory struct {
	src   Source
	cache Cache
	log   *zap.Logger
}

func New(src Source, cache Cache, log *zap.Logger) *Directory {
	if cache == nil {
		cache = NewMemoryCache(DefaultTTL)
	}
	return &Directory{src: src, cache: cache, log: log}
}

func idKey(id int64) string {
	return "user_" + strconv.FormatInt(id, 10)
}

func usernameKey(username string) string {
	return "user_username_" + strings.ToLower(username)
}

// GetByUsername matches case-insensitively.
func (d *Directory) GetByUsername(ctx context.Context, username string) (*store.User, error) {
	if u, ok := d.cache.Get(ctx, usernameKey(username)); ok {
		return u, nil
	}
	u, err := d.src.FindByUsername(ctx, username)
	if err != nil {
		return nil, d.miss(err, zap.String("username", username))
	}
	d.remember(ctx, u)
	return u, nil
}

// GetByID matches id against the primary key or the legacy id.
func (d *Directory) GetByID(ctx context.Context, id int64) (*store.User, error) {
	if u, ok := d.cache.Get(ctx, idKey(id)); ok {
		return u, nil
	}
	u, err := d.src.FindByID(ctx, id)
	if err != nil {
		return nil, d.miss(err, zap.Int64("id", id))
	}
	d.remember(ctx, u)
	return u, nil
}

func (d *Directory) remember(ctx context.Context, u *store.User) {
	d.cache.Set(ctx, idKey(u.ID), u)
	if u.LegacyID != nil {
		d.cache.Set(ctx, idKey(*u.LegacyID), u)
	}
	d.cache.Set(ctx, usernameKey(u.Username), u)
}

func (d *Directory) miss(err error, field zap.Field) error {
	if !errors.Is(err, store.ErrNotFound) {
		d.log.Error("user lookup failed", field, zap.Error(err))
	}
	return ErrUserNotFound
}
