// Package config defines the top-level configuration for the aggregator and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NFTAGG_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Sync     SyncConfig     `toml:"sync"`
	Planner  PlannerConfig  `toml:"planner"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds RPC endpoints and the per-chain contract deployments.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	WSURL   string `toml:"ws_url"`
	ChainID int64  `toml:"chain_id"`

	WETH      string `toml:"weth"`
	WyvernV2  string `toml:"wyvern_v2"`
	WyvernV23 string `toml:"wyvern_v2_3"`
	LooksRare string `toml:"looks_rare"`
	ZeroExV4  string `toml:"zeroex_v4"`
	Seaport   string `toml:"seaport"`

	// Routers maps aggregator contract addresses to source labels used for
	// fill attribution.
	Routers map[string]string `toml:"routers"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig holds ingestion parameters.
type SyncConfig struct {
	Enabled bool `toml:"enabled"`
	// StartBlock is where a fresh deployment begins syncing from.
	StartBlock uint64 `toml:"start_block"`
	// BatchSize is how many blocks one sync range covers.
	BatchSize uint64 `toml:"batch_size"`
	// PrefetchWorkers bounds how many ranges are fetched ahead of the
	// sequential processor.
	PrefetchWorkers int `toml:"prefetch_workers"`
	// Confirmations delays real-time syncing this many blocks behind head.
	Confirmations uint64   `toml:"confirmations"`
	// BackfillFrom and BackfillTo bound the range ingested in backfill mode.
	BackfillFrom uint64   `toml:"backfill_from"`
	BackfillTo   uint64   `toml:"backfill_to"`
	TxCacheTTL   duration `toml:"tx_cache_ttl"`
	// RecheckInterval is how often the orphan-block checker polls its
	// schedule.
	RecheckInterval duration `toml:"recheck_interval"`
}

// PlannerConfig holds fill-path planning parameters.
type PlannerConfig struct {
	// MaxCandidates caps how many bids are considered per token.
	MaxCandidates int `toml:"max_candidates"`
}

// ArchiveConfig holds cold-storage export parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. The
// contract addresses default to the Ethereum mainnet deployments.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:    "http://localhost:8545",
			WSURL:     "ws://localhost:8546",
			ChainID:   1,
			WETH:      "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
			WyvernV2:  "0x7be8076f4ea4a4ad08075c2508e481d6c946d12b",
			WyvernV23: "0x7f268357a8c2552623316e2562d90e642bb538e5",
			LooksRare: "0x59728544b08ab483533076417fbbb2fd0b17ce3a",
			ZeroExV4:  "0xdef1c0ded9bec7f1a1670819833240f027b25eff",
			Seaport:   "0x00000000006c3852cbef3e08e8df289169ede581",
			Routers: map[string]string{
				"0x178a86d36d89c7fdebea90b739605da7b131ff6a": "reservoir",
				"0x0a267cf51ef038fc00e71801f5a524aec06e4f07": "genie",
				"0x83c8f28c26bf6aaca652df1dbbe0e1b56f8baba2": "gem",
			},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftagg",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftagg-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Sync: SyncConfig{
			Enabled:         true,
			StartBlock:      0,
			BatchSize:       16,
			PrefetchWorkers: 4,
			Confirmations:   0,
			TxCacheTTL:      duration{24 * time.Hour},
			RecheckInterval: duration{30 * time.Second},
		},
		Planner: PlannerConfig{
			MaxCandidates: 50,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":     true,
	"backfill": true,
	"archive":  true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, backfill, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if (c.Mode == "sync" || c.Mode == "full") && c.Chain.WSURL == "" {
		errs = append(errs, "chain: ws_url is required for mode "+c.Mode)
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	for _, pair := range []struct{ name, addr string }{
		{"weth", c.Chain.WETH},
		{"wyvern_v2", c.Chain.WyvernV2},
		{"wyvern_v2_3", c.Chain.WyvernV23},
		{"looks_rare", c.Chain.LooksRare},
		{"zeroex_v4", c.Chain.ZeroExV4},
		{"seaport", c.Chain.Seaport},
	} {
		if !validAddress(pair.addr) {
			errs = append(errs, fmt.Sprintf("chain: %s must be a 0x-prefixed 20-byte address, got %q", pair.name, pair.addr))
		}
	}
	for addr := range c.Chain.Routers {
		if !validAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: router key %q is not a valid address", addr))
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only needed when archiving.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Sync
	if c.Sync.BatchSize < 1 {
		errs = append(errs, "sync: batch_size must be >= 1")
	}
	if c.Sync.PrefetchWorkers < 1 {
		errs = append(errs, "sync: prefetch_workers must be >= 1")
	}
	if c.Sync.RecheckInterval.Duration <= 0 {
		errs = append(errs, "sync: recheck_interval must be > 0")
	}
	if strings.ToLower(c.Mode) == "backfill" && c.Sync.BackfillTo < c.Sync.BackfillFrom {
		errs = append(errs, "sync: backfill_to must be >= backfill_from")
	}

	// Planner
	if c.Planner.MaxCandidates < 1 {
		errs = append(errs, "planner: max_candidates must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
