package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BlockStore records which block hashes events were ingested under, so the
// reorg checker can compare against the canonical chain later.
type BlockStore interface {
	// SaveBlock upserts the (number, hash) pair.
	SaveBlock(ctx context.Context, number uint64, hash common.Hash) error
	// BlockHashes returns every hash stored for the given height. More than
	// one entry means at least one of them is orphaned.
	BlockHashes(ctx context.Context, number uint64) ([]common.Hash, error)
	// DeleteBlock removes a single (number, hash) pair.
	DeleteBlock(ctx context.Context, number uint64, hash common.Hash) error
	// LatestBlock returns the highest ingested block number. Returns
	// ErrNotFound when nothing has been ingested yet; a 0 result is a real
	// genesis entry, not an empty store.
	LatestBlock(ctx context.Context) (uint64, error)
}

// EventStore persists canonical events. Every Add method is idempotent on
// the (blockHash, txHash, logIndex, batchIndex) key: replays insert nothing
// and produce no duplicate side effects. RemoveEvents deletes everything
// ingested under the given (block, blockHash) pair and reverses any state
// materialized from it.
type EventStore interface {
	AddFills(ctx context.Context, events []FillEvent) error
	AddCancels(ctx context.Context, events []CancelEvent) error
	AddNonceCancels(ctx context.Context, events []NonceCancelEvent) error
	AddBulkCancels(ctx context.Context, events []BulkCancelEvent) error
	AddNftTransfers(ctx context.Context, events []NftTransferEvent) error
	AddFtTransfers(ctx context.Context, events []FtTransferEvent) error
	AddNftApprovals(ctx context.Context, events []NftApprovalEvent) error
	RemoveEvents(ctx context.Context, block uint64, blockHash common.Hash) error
}

// BidQuery selects candidate buy orders for one token.
type BidQuery struct {
	Contract common.Address
	TokenID  *big.Int
	// Taker filters out orders reserved for someone else. Orders with a
	// zero taker are open to anyone.
	Taker common.Address
	// ExcludeIDs removes already-considered orders from the result.
	ExcludeIDs []string
	// Normalized orders candidates by royalty-normalized value instead of
	// raw value.
	Normalized bool
	// AllowInactive skips the fillable/approved filter.
	AllowInactive bool
	Limit int
}

// OrderStore reads and transitions stored orders.
type OrderStore interface {
	OrderByID(ctx context.Context, id string) (*Order, error)
	// TokenBids returns open buy orders for the token, best first.
	TokenBids(ctx context.Context, q BidQuery) ([]Order, error)
	// ResolveByNonce finds the order a nonce-keyed fill refers to. price is
	// the fee-exclusive on-chain amount and is matched against the stored
	// raw payload to disambiguate same-nonce reposts. Returns ErrNotFound
	// when no stored order matches.
	ResolveByNonce(ctx context.Context, kind OrderKind, maker common.Address, nonce *big.Int, contract common.Address, price *big.Int) (*Order, error)
	CancelByID(ctx context.Context, id string, trigger string) error
	// CancelByNonce cancels every open order of the maker with the exact
	// nonce and returns how many transitioned.
	CancelByNonce(ctx context.Context, kind OrderKind, maker common.Address, nonce *big.Int) (int64, error)
	// CancelBelowNonce cancels every open order of the maker with a nonce
	// strictly below minNonce.
	CancelBelowNonce(ctx context.Context, kind OrderKind, maker common.Address, minNonce *big.Int) (int64, error)
	// ApplyFill decrements quantity remaining, marking the order filled
	// when it reaches zero.
	ApplyFill(ctx context.Context, id string, quantity *big.Int) error
}

// TokenStore exposes per-token metadata the planner needs.
type TokenStore interface {
	IsFlagged(ctx context.Context, contract common.Address, tokenID *big.Int) (bool, error)
}

// NftBalanceStore reads the materialized NFT ownership balances.
type NftBalanceStore interface {
	NftBalance(ctx context.Context, contract common.Address, tokenID *big.Int, owner common.Address) (*big.Int, error)
}

// FtBalanceReader reads fungible-token balances, used to simulate whether
// bid makers can actually pay.
type FtBalanceReader interface {
	FtBalance(ctx context.Context, currency, owner common.Address) (*big.Int, error)
}
