package events

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Wyvern's OrdersMatched log names neither token nor tokenId. Both are
// recovered positionally from the NFT transfer the exchange emitted one
// log earlier in the same transaction.

func (n *Normalizer) handleWyvernMatch(ctx context.Context, ed *EventData, l *types.Log, base domain.BaseEventParams, tc *txContext, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 3); err != nil {
		return err
	}
	buyHash := wordHash(l.Data, 0)
	sellHash := wordHash(l.Data, 1)
	price := wordBig(l.Data, 2)
	maker := topicAddr(l.Topics[1])
	taker := topicAddr(l.Topics[2])

	assoc, ok := precedingNftTransfer(batch, base.TxHash, base.LogIndex)
	if !ok {
		// Without the positional transfer the filled token is unknowable,
		// skip rather than guess.
		n.log.Debug("wyvern match without associated transfer",
			"tx", base.TxHash.Hex(), "logIndex", base.LogIndex)
		return nil
	}

	// Native sales leave no token transfer; an ERC20 move of the exact
	// price earlier in the tx identifies the payment token instead.
	var currency common.Address
	if t, ok := tc.erc20Before(base.LogIndex); ok && t.Amount.Cmp(price) == 0 {
		currency = t.Token
	}

	attr := n.attribution(ctx, base.TxHash, taker)

	batchIndex := 1
	if buyHash != (common.Hash{}) {
		n.appendFill(batch, domain.FillEvent{
			Base:      withBatchIndex(base, batchIndex),
			OrderKind: ed.OrderKind,
			OrderID:   buyHash.Hex(),
			OrderSide: domain.OrderSideBuy,
			Maker:     maker,
			Taker:     attr.Taker,
			Currency:  currency,
			Price:     price,
			Contract:  assoc.Base.Address,
			TokenID:   assoc.TokenID,
			Amount:    assoc.Amount,
		}, attr)
		batchIndex++
	}
	if sellHash != (common.Hash{}) {
		// When both orders are posted the topic maker is the buyer, so the
		// sell side belongs to the counterparty.
		sellMaker, sellTaker := maker, attr.Taker
		if buyHash != (common.Hash{}) {
			sellMaker, sellTaker = attr.Taker, maker
		}
		n.appendFill(batch, domain.FillEvent{
			Base:      withBatchIndex(base, batchIndex),
			OrderKind: ed.OrderKind,
			OrderID:   sellHash.Hex(),
			OrderSide: domain.OrderSideSell,
			Maker:     sellMaker,
			Taker:     sellTaker,
			Currency:  currency,
			Price:     price,
			Contract:  assoc.Base.Address,
			TokenID:   assoc.TokenID,
			Amount:    assoc.Amount,
		}, attr)
	}
	return nil
}

func withBatchIndex(base domain.BaseEventParams, i int) domain.BaseEventParams {
	base.BatchIndex = i
	return base
}

// appendFill records a fill plus the follow-up triggers every sale implies.
func (n *Normalizer) appendFill(batch *domain.EventBatch, fill domain.FillEvent, attr Attribution) {
	fill.FillSource = attr.FillSource
	fill.Aggregator = attr.Aggregator
	batch.Fills = append(batch.Fills, fill)

	batch.FillInfos = append(batch.FillInfos, domain.FillInfo{
		Context:   domain.SaleContext(fill.Base.TxHash, fill.Base.LogIndex, fill.Base.BatchIndex),
		OrderID:   fill.OrderID,
		OrderSide: fill.OrderSide,
		Contract:  fill.Contract,
		TokenID:   fill.TokenID,
		Amount:    fill.Amount,
		Price:     fill.Price,
		Timestamp: fill.Base.Timestamp,
	})
	if fill.OrderID != "" {
		batch.OrderInfos = append(batch.OrderInfos, domain.OrderInfo{
			Context:     "filled-" + fill.OrderID,
			ID:          fill.OrderID,
			Trigger:     "sale",
			TxHash:      fill.Base.TxHash,
			TxTimestamp: fill.Base.Timestamp,
		})
	}
}

func (n *Normalizer) handleWyvernCancel(ed *EventData, l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	orderID := l.Topics[1].Hex()
	batch.Cancels = append(batch.Cancels, domain.CancelEvent{
		Base:      base,
		OrderKind: ed.OrderKind,
		OrderID:   orderID,
	})
	batch.OrderInfos = append(batch.OrderInfos, domain.OrderInfo{
		Context:     "cancelled-" + orderID,
		ID:          orderID,
		Trigger:     "cancel",
		TxHash:      base.TxHash,
		TxTimestamp: base.Timestamp,
	})
	return nil
}

func (n *Normalizer) handleWyvernNonceBump(ed *EventData, l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 1); err != nil {
		return err
	}
	batch.BulkCancels = append(batch.BulkCancels, domain.BulkCancelEvent{
		Base:      base,
		OrderKind: ed.OrderKind,
		Maker:     topicAddr(l.Topics[1]),
		MinNonce:  wordBig(l.Data, 0),
	})
	return nil
}
