// Package token is the Token Info Cache: a read-through mint -> {symbol,
// decimals, token_program} cache with a 24h TTL, backed by the State Store.
// Adapted from the teacher's internal/token/resolver.go, which resolved
// human-friendly names to mint addresses from an in-memory cache; this
// generalizes the same base58-passthrough idiom to metadata lookups fed by
// an RPC collaborator instead of a static name table.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTokenNotFound is returned when a mint cannot be resolved by any source.
var ErrTokenNotFound = errors.New("token metadata not found")

// base58Set is an O(1) lookup table for base58 alphabet membership,
// grounded on the teacher's isValidBase58 fix (table beats nested loop).
var base58Set = func() [256]bool {
	var set [256]bool
	const base58Chars = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for i := 0; i < len(base58Chars); i++ {
		set[base58Chars[i]] = true
	}
	return set
}()

// IsValidBase58 reports whether s contains only base58 alphabet characters.
func IsValidBase58(s string) bool {
	for i := 0; i < len(s); i++ {
		if !base58Set[s[i]] {
			return false
		}
	}
	return true
}

// IsMintAddress reports whether s looks like a Solana base58 mint address.
func IsMintAddress(s string) bool {
	return len(s) >= 32 && len(s) <= 44 && IsValidBase58(s)
}

// Info is the cached metadata for a mint.
type Info struct {
	Mint         string
	Symbol       string
	Decimals     uint8
	TokenProgram string
	FetchedAt    time.Time
}

func (i Info) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(i.FetchedAt) > ttl
}

// MetadataSource fetches fresh metadata for a mint on a cache miss or expiry.
// Implemented by internal/blockchain against real RPC, faked in tests.
type MetadataSource interface {
	FetchTokenInfo(ctx context.Context, mint string) (symbol string, decimals uint8, tokenProgram string, err error)
}

// Store persists cached entries so the cache survives restarts.
type Store interface {
	GetTokenCache(mint string) (*Info, error)
	PutTokenCache(info *Info) error
}

// Cache is a read-through, TTL-bounded mint metadata cache.
type Cache struct {
	mu     sync.RWMutex
	hot    map[string]Info
	ttl    time.Duration
	source MetadataSource
	store  Store
	now    func() time.Time
}

// NewCache constructs a Cache with the given TTL, metadata source, and
// optional durable store (nil disables persistence, useful in tests).
func NewCache(ttl time.Duration, source MetadataSource, store Store) *Cache {
	return &Cache{
		hot:    make(map[string]Info),
		ttl:    ttl,
		source: source,
		store:  store,
		now:    time.Now,
	}
}

// Get resolves mint metadata, checking the hot map, then the durable store,
// then falling through to the metadata source on a miss or TTL expiry.
func (c *Cache) Get(ctx context.Context, mint string) (Info, error) {
	if info, ok := c.lookupHot(mint); ok {
		return info, nil
	}

	if c.store != nil {
		if stored, err := c.store.GetTokenCache(mint); err == nil && stored != nil {
			if !stored.expired(c.ttl, c.now()) {
				c.storeHot(*stored)
				return *stored, nil
			}
		}
	}

	if c.source == nil {
		return Info{}, ErrTokenNotFound
	}

	symbol, decimals, program, err := c.source.FetchTokenInfo(ctx, mint)
	if err != nil {
		log.Debug().Str("mint", mint).Err(err).Msg("token metadata fetch failed")
		return Info{}, err
	}

	info := Info{Mint: mint, Symbol: symbol, Decimals: decimals, TokenProgram: program, FetchedAt: c.now()}
	c.storeHot(info)
	if c.store != nil {
		if err := c.store.PutTokenCache(&info); err != nil {
			log.Warn().Str("mint", mint).Err(err).Msg("failed to persist token cache entry")
		}
	}
	return info, nil
}

func (c *Cache) lookupHot(mint string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.hot[mint]
	if !ok || info.expired(c.ttl, c.now()) {
		return Info{}, false
	}
	return info, true
}

func (c *Cache) storeHot(info Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hot[info.Mint] = info
}

// Size returns the number of hot entries currently cached.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hot)
}
