package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/redis/go-redis/v9"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
)

const redisKeyPrefix = "serp:prices:"

// RedisRegistry keeps one Redis hash per namespace, field = currency id,
// value = raw 128-bit price in base 10.
type RedisRegistry struct {
	client *redis.Client
	key    string
}

// NewRedis builds a registry stored in Redis under the given namespace.
func NewRedis(client *redis.Client, namespace string) *RedisRegistry {
	return &RedisRegistry{client: client, key: redisKeyPrefix + namespace}
}

// Get reads the latest price of currency.
func (r *RedisRegistry) Get(ctx context.Context, currency ledger.CurrencyID) (fixed.Price, error) {
	raw, err := r.client.HGet(ctx, r.key, string(currency)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fixed.Zero, ErrNotFound
		}
		return fixed.Zero, err
	}
	bits, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fixed.Zero, fmt.Errorf("decode stored price %q for %s", raw, currency)
	}
	return fixed.FromBits(bits), nil
}

// Set overwrites the price of currency.
func (r *RedisRegistry) Set(ctx context.Context, currency ledger.CurrencyID, price fixed.Price) error {
	return r.client.HSet(ctx, r.key, string(currency), price.Bits().String()).Err()
}
