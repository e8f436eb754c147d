package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/nftagg/internal/blob/s3"
	"github.com/alanyoungcy/nftagg/internal/cache/redis"
	"github.com/alanyoungcy/nftagg/internal/chain"
	"github.com/alanyoungcy/nftagg/internal/config"
	"github.com/alanyoungcy/nftagg/internal/domain"
	"github.com/alanyoungcy/nftagg/internal/pipeline"
	"github.com/alanyoungcy/nftagg/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Events      domain.EventStore
	FillArchive pipeline.FillArchiveStore
	Blocks      domain.BlockStore
	Orders      domain.OrderStore
	Tokens      domain.TokenStore

	// Caches
	Locks    domain.LockManager
	TxCache  domain.TxCache
	Checks   domain.BlockCheckScheduler
	Triggers domain.TriggerQueue

	// Chain access
	Chain *chain.Client
	Heads *chain.HeadWatcher

	// Blob storage
	ArchiveWriter pipeline.ArchiveWriter
}

// needsChain returns true for modes that read from an RPC node.
func needsChain(mode string) bool {
	switch mode {
	case "sync", "backfill", "full":
		return true
	default:
		return false
	}
}

// needsHeads returns true for modes that follow the chain head in real time.
func needsHeads(mode string) bool {
	switch mode {
	case "sync", "full":
		return true
	default:
		return false
	}
}

// needsRedis returns true for modes that use the lock, tx cache, trigger
// queue, or reorg-check schedule.
func needsRedis(mode string) bool {
	switch mode {
	case "sync", "backfill", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true when the cold-storage archive is in play.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	logger := slog.Default()

	deps := &Dependencies{}

	// --- PostgreSQL (every mode persists or reads events) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	eventStore := postgres.NewEventStore(pool)
	deps.Events = eventStore
	deps.FillArchive = eventStore
	deps.Blocks = postgres.NewBlockStore(pool)
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Tokens = postgres.NewTokenStore(pool)

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.TxCache = redis.NewTxCache(redisClient, cfg.Sync.TxCacheTTL.Duration)
		deps.Checks = redis.NewBlockCheckScheduler(redisClient)
		deps.Triggers = redis.NewTriggerQueue(redisClient)
	}

	// --- Chain access ---
	if needsChain(cfg.Mode) {
		chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain rpc: %w", err)
		}
		closers = append(closers, chainClient.Close)
		deps.Chain = chainClient
	}
	if needsHeads(cfg.Mode) {
		deps.Heads = chain.NewHeadWatcher(cfg.Chain.WSURL, logger)
	}

	// --- S3 blob storage (only when archiving) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.ArchiveWriter = s3blob.NewWriter(s3Client)
	}

	return deps, cleanup, nil
}
