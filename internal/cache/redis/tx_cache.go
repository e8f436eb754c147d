package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// TxCache implements domain.TxCache with per-transaction JSON values under
// tx:<hash> keys.
type TxCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTxCache creates a TxCache with the given entry TTL.
func NewTxCache(c *Client, ttl time.Duration) *TxCache {
	return &TxCache{rdb: c.Underlying(), ttl: ttl}
}

var _ domain.TxCache = (*TxCache)(nil)

func txKey(hash common.Hash) string {
	return "tx:" + hash.Hex()
}

func (c *TxCache) GetTx(ctx context.Context, hash common.Hash) (*domain.TxInfo, error) {
	data, err := c.rdb.Get(ctx, txKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get tx %s: %w", hash, err)
	}
	var tx domain.TxInfo
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("redis: decode tx %s: %w", hash, err)
	}
	return &tx, nil
}

func (c *TxCache) SetTx(ctx context.Context, tx *domain.TxInfo) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("redis: encode tx %s: %w", tx.Hash, err)
	}
	if err := c.rdb.Set(ctx, txKey(tx.Hash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set tx %s: %w", tx.Hash, err)
	}
	return nil
}

// CachedTxFetcher layers the cache in front of an RPC-backed fetcher.
type CachedTxFetcher struct {
	cache  domain.TxCache
	source TxSource
}

// TxSource fetches a transaction envelope from the node.
type TxSource interface {
	Transaction(ctx context.Context, hash common.Hash) (*domain.TxInfo, error)
}

// NewCachedTxFetcher wraps source with the cache.
func NewCachedTxFetcher(cache domain.TxCache, source TxSource) *CachedTxFetcher {
	return &CachedTxFetcher{cache: cache, source: source}
}

// Transaction returns the cached envelope when present, otherwise fetches
// and caches it. Cache write failures are swallowed, the envelope itself
// is what matters.
func (f *CachedTxFetcher) Transaction(ctx context.Context, hash common.Hash) (*domain.TxInfo, error) {
	if tx, err := f.cache.GetTx(ctx, hash); err == nil {
		return tx, nil
	}
	tx, err := f.source.Transaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	_ = f.cache.SetTx(ctx, tx)
	return tx, nil
}
