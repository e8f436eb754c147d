package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NFTAGG_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NFTAGG_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "NFTAGG_CHAIN_RPC_URL")
	setStr(&cfg.Chain.WSURL, "NFTAGG_CHAIN_WS_URL")
	setInt64(&cfg.Chain.ChainID, "NFTAGG_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.WETH, "NFTAGG_CHAIN_WETH")
	setStr(&cfg.Chain.WyvernV2, "NFTAGG_CHAIN_WYVERN_V2")
	setStr(&cfg.Chain.WyvernV23, "NFTAGG_CHAIN_WYVERN_V2_3")
	setStr(&cfg.Chain.LooksRare, "NFTAGG_CHAIN_LOOKS_RARE")
	setStr(&cfg.Chain.ZeroExV4, "NFTAGG_CHAIN_ZEROEX_V4")
	setStr(&cfg.Chain.Seaport, "NFTAGG_CHAIN_SEAPORT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "NFTAGG_DATABASE_DSN")
	setStr(&cfg.Database.Host, "NFTAGG_DATABASE_HOST")
	setInt(&cfg.Database.Port, "NFTAGG_DATABASE_PORT")
	setStr(&cfg.Database.Database, "NFTAGG_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "NFTAGG_DATABASE_USER")
	setStr(&cfg.Database.Password, "NFTAGG_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "NFTAGG_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "NFTAGG_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "NFTAGG_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "NFTAGG_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NFTAGG_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NFTAGG_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NFTAGG_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NFTAGG_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NFTAGG_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NFTAGG_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "NFTAGG_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NFTAGG_S3_REGION")
	setStr(&cfg.S3.Bucket, "NFTAGG_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NFTAGG_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NFTAGG_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NFTAGG_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NFTAGG_S3_FORCE_PATH_STYLE")

	// ── Sync ──
	setBool(&cfg.Sync.Enabled, "NFTAGG_SYNC_ENABLED")
	setUint64(&cfg.Sync.StartBlock, "NFTAGG_SYNC_START_BLOCK")
	setUint64(&cfg.Sync.BatchSize, "NFTAGG_SYNC_BATCH_SIZE")
	setInt(&cfg.Sync.PrefetchWorkers, "NFTAGG_SYNC_PREFETCH_WORKERS")
	setUint64(&cfg.Sync.Confirmations, "NFTAGG_SYNC_CONFIRMATIONS")
	setUint64(&cfg.Sync.BackfillFrom, "NFTAGG_SYNC_BACKFILL_FROM")
	setUint64(&cfg.Sync.BackfillTo, "NFTAGG_SYNC_BACKFILL_TO")
	setDuration(&cfg.Sync.TxCacheTTL, "NFTAGG_SYNC_TX_CACHE_TTL")
	setDuration(&cfg.Sync.RecheckInterval, "NFTAGG_SYNC_RECHECK_INTERVAL")

	// ── Planner ──
	setInt(&cfg.Planner.MaxCandidates, "NFTAGG_PLANNER_MAX_CANDIDATES")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "NFTAGG_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "NFTAGG_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "NFTAGG_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "NFTAGG_MODE")
	setStr(&cfg.LogLevel, "NFTAGG_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
