package domain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Trigger records are side-channel work items emitted while ingesting
// events. Each carries a Context string, a deterministic dedup key derived
// from the originating event, so re-ingesting the same range (retries,
// overlapping batches) does not fan out duplicate work.

// FillInfo asks downstream consumers to refresh aggregate sale state for a
// token (last sale, floor ask validity).
type FillInfo struct {
	Context   string         `json:"context"`
	OrderID   string         `json:"orderId,omitempty"`
	OrderSide OrderSide      `json:"orderSide"`
	Contract  common.Address `json:"contract"`
	TokenID   *big.Int       `json:"tokenId"`
	Amount    *big.Int       `json:"amount"`
	Price     *big.Int       `json:"price"`
	Timestamp int64          `json:"timestamp"`
}

// OrderInfo asks for a status recheck of a single order.
type OrderInfo struct {
	Context     string      `json:"context"`
	ID          string      `json:"id"`
	Trigger     string      `json:"trigger"` // "sale", "cancel", "reprice"
	TxHash      common.Hash `json:"txHash"`
	TxTimestamp int64       `json:"txTimestamp"`
}

// MakerInfoKind says which side of a maker's obligations to recheck.
type MakerInfoKind string

const (
	MakerInfoSellBalance  MakerInfoKind = "sell-balance"
	MakerInfoSellApproval MakerInfoKind = "sell-approval"
	MakerInfoBuyBalance   MakerInfoKind = "buy-balance"
	MakerInfoBuyApproval  MakerInfoKind = "buy-approval"
)

// MakerInfo asks for a balance or approval recheck of every open order of a
// maker touching the given contract (and token, for sell-side kinds).
type MakerInfo struct {
	Context  string         `json:"context"`
	Maker    common.Address `json:"maker"`
	Kind     MakerInfoKind  `json:"kind"`
	Contract common.Address `json:"contract"`
	TokenID  *big.Int       `json:"tokenId,omitempty"`
	Operator common.Address `json:"operator,omitempty"`
	Approved *bool          `json:"approved,omitempty"`
}

// MintInfo asks for token and collection metadata backfill after a mint.
type MintInfo struct {
	Context  string         `json:"context"`
	Contract common.Address `json:"contract"`
	TokenID  *big.Int       `json:"tokenId"`
}

// TriggerQueue fans trigger records out to asynchronous consumers. Records
// whose Context was already enqueued recently are dropped.
type TriggerQueue interface {
	EnqueueFillInfos(ctx context.Context, infos []FillInfo) error
	EnqueueOrderInfos(ctx context.Context, infos []OrderInfo) error
	EnqueueMakerInfos(ctx context.Context, infos []MakerInfo) error
	EnqueueMintInfos(ctx context.Context, infos []MintInfo) error
}

// SaleContext builds the dedup context for a fill-driven trigger.
func SaleContext(txHash common.Hash, logIndex uint, batchIndex int) string {
	return fmt.Sprintf("%s-%d-%d-sale", txHash, logIndex, batchIndex)
}

// BalanceContext builds the dedup context for a transfer-driven maker
// balance recheck.
func BalanceContext(txHash common.Hash, contract common.Address, tokenID *big.Int, owner common.Address) string {
	return fmt.Sprintf("%s-%s-%s-%s-balance", txHash, contract, tokenID, owner)
}

// ApprovalContext builds the dedup context for an approval recheck.
func ApprovalContext(txHash common.Hash, owner, operator common.Address) string {
	return fmt.Sprintf("%s-%s-%s-approval", txHash, owner, operator)
}
