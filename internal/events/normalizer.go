package events

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// OrderResolver maps nonce-keyed fills back to stored order ids.
type OrderResolver interface {
	ResolveByNonce(ctx context.Context, kind domain.OrderKind, maker common.Address, nonce *big.Int, contract common.Address, price *big.Int) (*domain.Order, error)
}

// Normalizer folds classified logs into canonical events and triggers.
// A single Normalizer is safe for sequential use per sync range; it keeps
// no state across Process calls.
type Normalizer struct {
	reg    *Registry
	book   AddressBook
	orders OrderResolver
	txs    TxFetcher
	log    *slog.Logger
}

func NewNormalizer(reg *Registry, book AddressBook, orders OrderResolver, txs TxFetcher, log *slog.Logger) *Normalizer {
	return &Normalizer{
		reg:    reg,
		book:   book,
		orders: orders,
		txs:    txs,
		log:    log.With(slog.String("component", "normalizer")),
	}
}

// Registry exposes the signature table for log filtering.
func (n *Normalizer) Registry() *Registry { return n.reg }

// Topics returns every topic0 the normalizer can classify, for building the
// log filter query.
func (n *Normalizer) Topics() []common.Hash { return n.reg.Topics() }

// Process folds a range's logs, ordered by (block, txIndex, logIndex),
// into one event batch. timestampOf maps block numbers to unix seconds.
// backfill suppresses the order resolution lookups that only matter for
// live ingestion. Processing is fail-closed: any handler error discards
// the whole batch so the range can be retried intact.
func (n *Normalizer) Process(ctx context.Context, logs []types.Log, timestampOf func(uint64) int64, backfill bool) (*domain.EventBatch, error) {
	batch := &domain.EventBatch{}
	var tc txContext

	for i := range logs {
		l := &logs[i]
		if l.Removed {
			continue
		}
		ed, ok := n.reg.Classify(l)
		if !ok {
			continue
		}
		tc.observe(*l)

		base := domain.BaseEventParams{
			Address:    l.Address,
			Block:      l.BlockNumber,
			BlockHash:  l.BlockHash,
			TxHash:     l.TxHash,
			TxIndex:    l.TxIndex,
			LogIndex:   l.Index,
			BatchIndex: 1,
			Timestamp:  timestampOf(l.BlockNumber),
		}

		var err error
		switch ed.Kind {
		case KindErc20Transfer, KindWethDeposit, KindWethWithdrawal:
			err = n.handleFtTransfer(ed.Kind, l, base, batch)
		case KindErc721Transfer:
			err = n.handleErc721Transfer(l, base, batch)
		case KindErc1155Single, KindErc1155Batch:
			err = n.handleErc1155Transfer(ed.Kind, l, base, batch)
		case KindApprovalForAll:
			err = n.handleApprovalForAll(l, base, batch)
		case KindWyvernV2Match, KindWyvernV23Match:
			err = n.handleWyvernMatch(ctx, ed, l, base, &tc, batch)
		case KindWyvernV2Cancel, KindWyvernV23Cancel:
			err = n.handleWyvernCancel(ed, l, base, batch)
		case KindWyvernV23NonceBump:
			err = n.handleWyvernNonceBump(ed, l, base, batch)
		case KindLooksRareCancelAll, KindLooksRareCancelMany:
			err = n.handleLooksRareCancels(ed, l, base, batch)
		case KindLooksRareTakerAsk, KindLooksRareTakerBid:
			err = n.handleLooksRareFill(ctx, ed, l, base, &tc, batch)
		case KindZeroExV4Erc721Fill, KindZeroExV4Erc1155Fill:
			err = n.handleZeroExV4Fill(ctx, ed, l, base, backfill, batch)
		case KindZeroExV4Erc721Canc, KindZeroExV4Erc1155Canc:
			err = n.handleZeroExV4Cancel(ed, l, base, batch)
		case KindSeaportFulfilled:
			err = n.handleSeaportFulfilled(ctx, l, base, batch)
		case KindSeaportCancelled:
			err = n.handleSeaportCancelled(l, base, batch)
		case KindSeaportCounterBump:
			err = n.handleSeaportCounterBump(l, base, batch)
		case KindSudoswapBuy, KindSudoswapSell, KindSudoswapSpotPrice, KindSudoswapDelta:
			n.handleSudoswap(l, base, batch)
		default:
			err = fmt.Errorf("events: kind %q: %w", ed.Kind, domain.ErrUnknownEvent)
		}
		if err != nil {
			return nil, fmt.Errorf("events: handle %s at %s/%d: %w", ed.Kind, l.TxHash, l.Index, err)
		}
	}
	return batch, nil
}
