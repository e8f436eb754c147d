package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxCache caches transaction envelopes so attribution lookups for busy
// transactions hit the RPC node once.
type TxCache interface {
	GetTx(ctx context.Context, hash common.Hash) (*TxInfo, error)
	SetTx(ctx context.Context, tx *TxInfo) error
}

// BlockRecheck is one scheduled orphan check for an ingested block.
type BlockRecheck struct {
	Number  uint64
	Hash    common.Hash
	Attempt int
}

// BlockCheckScheduler persists the delayed orphan-check schedule. Checks
// come due at growing delays after ingestion so both quick and slow reorgs
// are caught.
type BlockCheckScheduler interface {
	// Schedule enqueues the given attempt of a block check, due after the
	// attempt's delay.
	Schedule(ctx context.Context, check BlockRecheck) error
	// Due pops every check whose due time has passed.
	Due(ctx context.Context, now time.Time) ([]BlockRecheck, error)
}

// LockManager provides distributed locks so only one instance runs a given
// job at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
