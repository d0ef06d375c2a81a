// Package cache projects account balances into Redis for the read path. The ledger
// store stays authoritative; entries here are only ever derived from committed rows.
//
// Writers never store balances. A committed mutation invalidates the entry and bumps
// a per-user generation counter, and readers refill the entry from the store only if
// the generation they saw before reading the store is still current. Replicas that
// commit in any order therefore cannot leave an older balance behind.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "wowcoin:balance:"
	defaultTTL = 5 * time.Minute
	minGenTTL  = time.Hour
)

// Entry is the result of one lookup. Generation must be passed back to Fill.
type Entry struct {
	Balance    int64
	Hit        bool
	Generation int64
}

// BalanceCache stores committed balances keyed by user.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (Entry, error)
	// Fill stores balance read from the store after Get missed. It is a no-op when an
	// entry exists or the user was invalidated since that Get.
	Fill(ctx context.Context, userID string, balance, generation int64) error
	Invalidate(ctx context.Context, userID string) error
}

var (
	fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[2] then
  return 0
end
if redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3], 'NX') then
  return 1
end
return 0
`)

	invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return redis.call('DEL', KEYS[1])
`)
)

type redisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	genTTL time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) BalanceCache {
	if client == nil {
		return Nop()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisCache{client: client, ttl: ttl, genTTL: max(4*ttl, minGenTTL)}
}

func (c *redisCache) Get(ctx context.Context, userID string) (Entry, error) {
	values, err := c.client.MGet(ctx, key(userID), genKey(userID)).Result()
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	if raw, ok := values[1].(string); ok {
		gen, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Entry{}, err
		}
		entry.Generation = gen
	}
	if raw, ok := values[0].(string); ok {
		balance, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return entry, c.Invalidate(ctx, userID)
		}
		entry.Balance = balance
		entry.Hit = true
	}
	return entry, nil
}

func (c *redisCache) Fill(ctx context.Context, userID string, balance, generation int64) error {
	return fillScript.Run(ctx, c.client,
		[]string{key(userID), genKey(userID)},
		balance, generation, c.ttl.Milliseconds(),
	).Err()
}

func (c *redisCache) Invalidate(ctx context.Context, userID string) error {
	return invalidateScript.Run(ctx, c.client,
		[]string{key(userID), genKey(userID)},
		c.genTTL.Milliseconds(),
	).Err()
}

// key and genKey share a hash tag so both land on one cluster slot.
func key(userID string) string {
	return keyPrefix + "{" + strings.TrimSpace(userID) + "}"
}

func genKey(userID string) string {
	return key(userID) + ":gen"
}

type nopCache struct{}

// Nop returns a cache that never hits.
func Nop() BalanceCache { return nopCache{} }

func (nopCache) Get(context.Context, string) (Entry, error)       { return Entry{}, nil }
func (nopCache) Fill(context.Context, string, int64, int64) error { return nil }
func (nopCache) Invalidate(context.Context, string) error         { return nil }
