package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BaseEventParams carries the on-chain position shared by every canonical
// event. The tuple (BlockHash, TxHash, LogIndex, BatchIndex) uniquely
// identifies an event: a single log that expands into several canonical
// events (ERC1155 batches, two-sided fills) disambiguates them via
// BatchIndex, which starts at 1.
type BaseEventParams struct {
	Address    common.Address `json:"address"`
	Block      uint64         `json:"block"`
	BlockHash  common.Hash    `json:"blockHash"`
	TxHash     common.Hash    `json:"txHash"`
	TxIndex    uint           `json:"txIndex"`
	LogIndex   uint           `json:"logIndex"`
	BatchIndex int            `json:"batchIndex"`
	Timestamp  int64          `json:"timestamp"`
}

// ContractKind distinguishes the NFT token standards.
type ContractKind string

const (
	ContractKindERC721  ContractKind = "erc721"
	ContractKindERC1155 ContractKind = "erc1155"
)

// OrderSide is the side of the order that got filled or cancelled, from the
// maker's perspective: a "sell" order offers NFTs, a "buy" order bids on them.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// FillEvent is a canonical sale. Price is the per-unit price in Currency's
// smallest denomination. OrderID may be empty when the protocol does not
// expose an order hash on-chain and resolution failed.
type FillEvent struct {
	Base       BaseEventParams `json:"base"`
	OrderKind  OrderKind       `json:"orderKind"`
	OrderID    string          `json:"orderId"`
	OrderSide  OrderSide       `json:"orderSide"`
	Maker      common.Address  `json:"maker"`
	Taker      common.Address  `json:"taker"`
	Currency   common.Address  `json:"currency"`
	Price      *big.Int        `json:"price"`
	Contract   common.Address  `json:"contract"`
	TokenID    *big.Int        `json:"tokenId"`
	Amount     *big.Int        `json:"amount"`
	FillSource string          `json:"fillSource,omitempty"`
	Aggregator string          `json:"aggregator,omitempty"`
}

// CancelEvent is an on-chain cancellation of a single order by hash.
type CancelEvent struct {
	Base      BaseEventParams `json:"base"`
	OrderKind OrderKind       `json:"orderKind"`
	OrderID   string          `json:"orderId"`
}

// NonceCancelEvent invalidates every order of a maker carrying the given
// nonce. Fills on nonce-based protocols emit one of these alongside the fill
// because the nonce is consumed by the match itself.
type NonceCancelEvent struct {
	Base      BaseEventParams `json:"base"`
	OrderKind OrderKind       `json:"orderKind"`
	Maker     common.Address  `json:"maker"`
	Nonce     *big.Int        `json:"nonce"`
}

// BulkCancelEvent invalidates every order of a maker with a nonce strictly
// below MinNonce.
type BulkCancelEvent struct {
	Base      BaseEventParams `json:"base"`
	OrderKind OrderKind       `json:"orderKind"`
	Maker     common.Address  `json:"maker"`
	MinNonce  *big.Int        `json:"minNonce"`
}

// NftTransferEvent is a canonical ERC721/ERC1155 transfer. ERC1155 batch
// transfers expand into one event per (tokenId, amount) pair with
// consecutive batch indexes.
type NftTransferEvent struct {
	Base    BaseEventParams `json:"base"`
	Kind    ContractKind    `json:"kind"`
	From    common.Address  `json:"from"`
	To      common.Address  `json:"to"`
	TokenID *big.Int        `json:"tokenId"`
	Amount  *big.Int        `json:"amount"`
}

// FtTransferEvent is an ERC20 (or wrapped-native deposit/withdrawal)
// transfer observed in the same transactions as marketplace activity.
type FtTransferEvent struct {
	Base   BaseEventParams `json:"base"`
	From   common.Address  `json:"from"`
	To     common.Address  `json:"to"`
	Amount *big.Int        `json:"amount"`
}

// NftApprovalEvent is an ERC721/ERC1155 operator approval toggle.
type NftApprovalEvent struct {
	Base     BaseEventParams `json:"base"`
	Owner    common.Address  `json:"owner"`
	Operator common.Address  `json:"operator"`
	Approved bool            `json:"approved"`
}

// EventBatch accumulates every canonical event and follow-up trigger
// produced while folding over one contiguous range of logs. A batch is
// persisted atomically per kind; a handler failure discards the whole batch.
type EventBatch struct {
	Fills        []FillEvent
	Cancels      []CancelEvent
	NonceCancels []NonceCancelEvent
	BulkCancels  []BulkCancelEvent
	NftTransfers []NftTransferEvent
	FtTransfers  []FtTransferEvent
	NftApprovals []NftApprovalEvent

	FillInfos  []FillInfo
	OrderInfos []OrderInfo
	MakerInfos []MakerInfo
	MintInfos  []MintInfo
}

// TxInfo is the subset of a transaction the normalizer needs for
// attribution and transaction-context lookups.
type TxInfo struct {
	Hash common.Hash    `json:"hash"`
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Data []byte         `json:"data"`
}
