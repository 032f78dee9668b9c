package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SettlementCache makes settlement idempotent per payment header. A retried
// tip request carrying the same X-PAYMENT value gets the first settlement
// back instead of moving funds twice.
type SettlementCache struct {
	mu       sync.Mutex
	entries  map[string]cachedSettlement
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

type cachedSettlement struct {
	resp    *SettleResponse
	expires time.Time
}

// SettlementStatus is the outcome of CheckAndMark.
type SettlementStatus int

const (
	// StatusNotFound means the caller now owns the settlement and must call
	// Complete or Fail.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a settled response is already known.
	StatusCached
	// StatusInFlight means another request is settling the same payment.
	StatusInFlight
)

// NewSettlementCache creates a cache whose successful entries live for ttl.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		entries:  make(map[string]cachedSettlement),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SettlementKey derives the cache key from the raw X-PAYMENT header. The
// header carries the signature and nonce, so it is unique per payment.
func SettlementKey(header string) string {
	hash := sha256.Sum256([]byte(header))
	return hex.EncodeToString(hash[:])
}

// CheckAndMark looks the key up and, when nothing is known, marks it in flight.
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if resp := c.lookupLocked(key); resp != nil {
		return StatusCached, resp, nil
	}

	if done, ok := c.inFlight[key]; ok {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// Complete caches a successful settlement and releases waiters.
func (c *SettlementCache) Complete(key string, resp *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedSettlement{resp: resp, expires: c.now().Add(c.ttl)}
	delete(c.inFlight, key)
	close(done)

	c.evictLocked()
}

// Fail releases waiters without caching, so the payment may be retried.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

// Get returns the cached response for key, or nil.
func (c *SettlementCache) Get(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

// Do runs settle at most once per key while its result is cached. Concurrent
// callers with the same key wait for the first one; if it fails, a waiter
// takes over and settles itself. The bool is true only for the caller whose
// settle function produced the result, so a replayed payment can be told
// apart from a fresh one.
func (c *SettlementCache) Do(ctx context.Context, key string, settle func(context.Context) (*SettleResponse, error)) (*SettleResponse, bool, error) {
	for {
		status, cached, done := c.CheckAndMark(key)
		switch status {
		case StatusCached:
			return cached, false, nil
		case StatusInFlight:
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		resp, err := settle(ctx)
		if err != nil || resp == nil || !resp.Success {
			c.Fail(key, done)
			return resp, false, err
		}
		c.Complete(key, resp, done)
		return resp, true, nil
	}
}

// Len reports the number of cached settlements, expired ones included until
// the next eviction.
func (c *SettlementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SettlementCache) lookupLocked(key string) *SettleResponse {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil
	}
	return e.resp
}

func (c *SettlementCache) evictLocked() {
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
		}
	}
}
