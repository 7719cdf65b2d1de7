package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger implements Ledger with SETNX keys that never expire, so a
// cluster of dispatchers shares one replay ledger.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// NewRedisLedger creates a ledger backed by Redis.
func NewRedisLedger(addr string, password string, db int) *RedisLedger {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisLedgerWithClient(rdb)
}

func NewRedisLedgerWithClient(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client, prefix: "nonce", clock: time.Now}
}

func (r *RedisLedger) key(signer string, nonce [32]byte) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, signer, hex.EncodeToString(nonce[:]))
}

// Ping checks connectivity.
func (r *RedisLedger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLedger) IsConsumed(ctx context.Context, signer string, nonce [32]byte) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(signer, nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("redis ledger error: %w", err)
	}
	return n == 1, nil
}

func (r *RedisLedger) Consume(ctx context.Context, signer string, nonce [32]byte) error {
	// Zero expiration: burns are permanent.
	ok, err := r.client.SetNX(ctx, r.key(signer, nonce), r.clock().Unix(), 0).Result()
	if err != nil {
		return fmt.Errorf("redis ledger error: %w", err)
	}
	if !ok {
		return ErrAlreadyConsumed
	}
	return nil
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}
