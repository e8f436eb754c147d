package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// BlockChecker re-verifies ingested blocks against the canonical chain on
// the schedule the sync loop seeded. An orphaned block gets every event it
// contributed removed, balances reversed; a still-canonical block is pushed
// to its next, later check. Reorg handling is eventually consistent by
// design, never synchronous with ingestion.
type BlockChecker struct {
	chain  ChainReader
	blocks domain.BlockStore
	events domain.EventStore
	sched  domain.BlockCheckScheduler
	logger *slog.Logger
}

// NewBlockChecker creates a BlockChecker.
func NewBlockChecker(
	chain ChainReader,
	blocks domain.BlockStore,
	events domain.EventStore,
	sched domain.BlockCheckScheduler,
	logger *slog.Logger,
) *BlockChecker {
	return &BlockChecker{
		chain:  chain,
		blocks: blocks,
		events: events,
		sched:  sched,
		logger: logger.With("component", "block_checker"),
	}
}

// RunLoop polls the check schedule at the given interval until ctx is
// cancelled.
func (c *BlockChecker) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.CheckDue(ctx, time.Now()); err != nil {
				c.logger.Error("block check pass failed", "error", err.Error())
			}
		}
	}
}

// CheckDue processes every check due at now. Individual check failures are
// logged and rescheduled at the same attempt rather than failing the pass.
func (c *BlockChecker) CheckDue(ctx context.Context, now time.Time) error {
	due, err := c.sched.Due(ctx, now)
	if err != nil {
		return err
	}

	for _, check := range due {
		if err := c.checkOne(ctx, check); err != nil {
			c.logger.Warn("block check failed, will retry",
				"block", check.Number,
				"hash", check.Hash.Hex(),
				"attempt", check.Attempt,
				"error", err.Error())
			if serr := c.sched.Schedule(ctx, check); serr != nil {
				return serr
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (c *BlockChecker) checkOne(ctx context.Context, check domain.BlockRecheck) error {
	canonical, err := c.chain.BlockHash(ctx, check.Number)
	if err != nil {
		return err
	}

	if canonical == check.Hash {
		// Still canonical. Verify again later in case of a deeper reorg.
		check.Attempt++
		return c.sched.Schedule(ctx, check)
	}

	c.logger.Warn("orphaned block detected, unsyncing",
		"block", check.Number,
		"stored_hash", check.Hash.Hex(),
		"canonical_hash", canonical.Hex(),
		"attempt", check.Attempt)

	if err := c.events.RemoveEvents(ctx, check.Number, check.Hash); err != nil {
		return err
	}
	return c.blocks.DeleteBlock(ctx, check.Number, check.Hash)
}
