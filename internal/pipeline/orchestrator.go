package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// syncLockKey guards against two instances ingesting concurrently, which
// would not corrupt state (persistence is idempotent) but would double every
// RPC call and trigger dispatch.
const (
	syncLockKey = "event-sync"
	syncLockTTL = 24 * time.Hour
)

// HeadSource delivers new chain head heights.
type HeadSource interface {
	Run(ctx context.Context) error
	Heads() <-chan uint64
}

// OrchestratorConfig holds the loop parameters.
type OrchestratorConfig struct {
	StartBlock      uint64
	BatchSize       uint64
	PrefetchWorkers int
	Confirmations   uint64
	RecheckInterval time.Duration
	ArchiveInterval time.Duration
}

// Orchestrator runs the whole ingestion side: the head-driven sync loop,
// the orphan-block checker, and the cold-storage archiver.
type Orchestrator struct {
	sync     *EventSync
	checker  *BlockChecker
	archiver *Archiver // nil disables archiving
	heads    HeadSource
	locks    domain.LockManager
	blocks   domain.BlockStore
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	sync *EventSync,
	checker *BlockChecker,
	archiver *Archiver,
	heads HeadSource,
	locks domain.LockManager,
	blocks domain.BlockStore,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sync:     sync,
		checker:  checker,
		archiver: archiver,
		heads:    heads,
		locks:    locks,
		blocks:   blocks,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Run starts every sub-loop and blocks until ctx is cancelled or one of
// them fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	unlock, err := o.locks.Acquire(ctx, syncLockKey, syncLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("pipeline: another instance is syncing: %w", err)
		}
		return fmt.Errorf("pipeline: acquire sync lock: %w", err)
	}
	defer unlock()

	o.logger.Info("orchestrator starting",
		"batch_size", o.cfg.BatchSize,
		"prefetch_workers", o.cfg.PrefetchWorkers,
		"confirmations", o.cfg.Confirmations)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.heads.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("head watcher: %w", err)
	})

	g.Go(func() error {
		err := o.runSyncLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("sync loop: %w", err)
	})

	g.Go(func() error {
		err := o.checker.RunLoop(ctx, o.cfg.RecheckInterval)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("block checker: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx, o.cfg.ArchiveInterval)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", "error", err.Error())
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// runSyncLoop follows the chain head, keeping ingestion Confirmations
// blocks behind it.
func (o *Orchestrator) runSyncLoop(ctx context.Context) error {
	next, err := o.nextBlock(ctx)
	if err != nil {
		return err
	}
	o.logger.Info("sync starting", "from_block", next)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case head, ok := <-o.heads.Heads():
			if !ok {
				return fmt.Errorf("head channel closed")
			}
			if head < o.cfg.Confirmations {
				continue
			}
			target := head - o.cfg.Confirmations
			if target < next {
				continue
			}
			next, err = o.syncTo(ctx, next, target, false)
			if err != nil {
				return err
			}
		}
	}
}

// nextBlock resumes after the highest ingested block, or starts at the
// configured height on a fresh deployment.
func (o *Orchestrator) nextBlock(ctx context.Context) (uint64, error) {
	latest, err := o.blocks.LatestBlock(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return o.cfg.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pipeline: resume height: %w", err)
	}
	return latest + 1, nil
}

// Backfill ingests [from, to] with real-time side effects disabled.
func (o *Orchestrator) Backfill(ctx context.Context, from, to uint64) error {
	o.logger.Info("backfill starting", "from", from, "to", to)
	_, err := o.syncTo(ctx, from, to, true)
	return err
}

// syncTo ingests [from, target] in BatchSize ranges. Ranges are fetched
// concurrently in waves of PrefetchWorkers, then processed strictly in
// order; event semantics depend on log order, only the fetch is parallel.
// Returns the next block to sync.
func (o *Orchestrator) syncTo(ctx context.Context, from, target uint64, backfill bool) (uint64, error) {
	batch := o.cfg.BatchSize
	if batch == 0 {
		batch = 1
	}
	workers := o.cfg.PrefetchWorkers
	if workers < 1 {
		workers = 1
	}

	for from <= target {
		var ranges [][2]uint64
		cursor := from
		for len(ranges) < workers && cursor <= target {
			end := cursor + batch - 1
			if end > target {
				end = target
			}
			ranges = append(ranges, [2]uint64{cursor, end})
			cursor = end + 1
		}

		fetched := make([]*rangeData, len(ranges))
		g, gctx := errgroup.WithContext(ctx)
		for i, r := range ranges {
			g.Go(func() error {
				rd, err := o.sync.Fetch(gctx, r[0], r[1])
				if err != nil {
					return err
				}
				fetched[i] = rd
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return from, err
		}

		for _, rd := range fetched {
			if err := o.sync.Process(ctx, rd, backfill); err != nil {
				return from, err
			}
			from = rd.to + 1
		}
	}
	return from, nil
}
