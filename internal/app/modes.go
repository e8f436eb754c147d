package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftagg/internal/cache/redis"
	"github.com/alanyoungcy/nftagg/internal/config"
	"github.com/alanyoungcy/nftagg/internal/events"
	"github.com/alanyoungcy/nftagg/internal/pipeline"
	"github.com/alanyoungcy/nftagg/internal/service"
)

// SyncMode runs the full ingestion side: the head-driven sync loop, the
// orphan-block checker, and (when enabled) the cold-storage archiver.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	sync, checker := a.buildIngestion(deps)

	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled && deps.ArchiveWriter != nil {
		archiver = pipeline.NewArchiver(deps.FillArchive, deps.ArchiveWriter, a.retention(), a.logger)
	}

	orch := pipeline.NewOrchestrator(
		sync, checker, archiver, deps.Heads, deps.Locks, deps.Blocks,
		pipeline.OrchestratorConfig{
			StartBlock:      a.cfg.Sync.StartBlock,
			BatchSize:       a.cfg.Sync.BatchSize,
			PrefetchWorkers: a.cfg.Sync.PrefetchWorkers,
			Confirmations:   a.cfg.Sync.Confirmations,
			RecheckInterval: a.cfg.Sync.RecheckInterval.Duration,
			ArchiveInterval: a.cfg.Archive.Interval.Duration,
		},
		a.logger,
	)
	return orch.Run(ctx)
}

// BackfillMode ingests the configured historical range and exits. Trigger
// dispatch and reorg scheduling are disabled; the range is assumed final.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	from, to := a.cfg.Sync.BackfillFrom, a.cfg.Sync.BackfillTo
	a.logger.InfoContext(ctx, "starting backfill mode")

	sync, checker := a.buildIngestion(deps)
	orch := pipeline.NewOrchestrator(
		sync, checker, nil, nil, deps.Locks, deps.Blocks,
		pipeline.OrchestratorConfig{
			BatchSize:       a.cfg.Sync.BatchSize,
			PrefetchWorkers: a.cfg.Sync.PrefetchWorkers,
		},
		a.logger,
	)
	if err := orch.Backfill(ctx, from, to); err != nil {
		return fmt.Errorf("backfill mode: %w", err)
	}
	a.logger.InfoContext(ctx, "backfill complete", "from", from, "to", to)
	return nil
}

// ArchiveMode runs a single archive pass over aged fills and exits, which
// makes the mode suitable for scheduled invocation.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	archiver := pipeline.NewArchiver(deps.FillArchive, deps.ArchiveWriter, a.retention(), a.logger)
	if err := archiver.RunOnce(ctx); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return nil
}

// buildIngestion assembles the normalizer and the range syncer on top of the
// wired infrastructure.
func (a *App) buildIngestion(deps *Dependencies) (*pipeline.EventSync, *pipeline.BlockChecker) {
	book := addressBook(a.cfg.Chain)
	reg := events.NewRegistry(book)
	txs := redis.NewCachedTxFetcher(deps.TxCache, deps.Chain)
	normalizer := events.NewNormalizer(reg, book, deps.Orders, txs, a.logger)
	status := service.NewOrderStatusService(deps.Orders, a.logger)

	sync := pipeline.NewEventSync(
		deps.Chain, normalizer, deps.Events, deps.Blocks,
		status, deps.Triggers, deps.Checks, a.logger,
	)
	checker := pipeline.NewBlockChecker(deps.Chain, deps.Blocks, deps.Events, deps.Checks, a.logger)
	return sync, checker
}

func (a *App) retention() time.Duration {
	return time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
}

// addressBook resolves the configured contract deployments into the
// normalizer's address book.
func addressBook(cfg config.ChainConfig) events.AddressBook {
	routers := make(map[common.Address]string, len(cfg.Routers))
	for addr, source := range cfg.Routers {
		routers[common.HexToAddress(addr)] = source
	}
	return events.AddressBook{
		WETH:      common.HexToAddress(cfg.WETH),
		WyvernV2:  common.HexToAddress(cfg.WyvernV2),
		WyvernV23: common.HexToAddress(cfg.WyvernV23),
		LooksRare: common.HexToAddress(cfg.LooksRare),
		ZeroExV4:  common.HexToAddress(cfg.ZeroExV4),
		Seaport:   common.HexToAddress(cfg.Seaport),
		Routers:   routers,
	}
}
