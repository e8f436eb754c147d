package events

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

func (n *Normalizer) handleLooksRareCancels(ed *EventData, l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	maker := topicAddr(l.Topics[1])

	if ed.Kind == KindLooksRareCancelAll {
		if err := needWords(l.Data, 1); err != nil {
			return err
		}
		batch.BulkCancels = append(batch.BulkCancels, domain.BulkCancelEvent{
			Base:      base,
			OrderKind: ed.OrderKind,
			Maker:     maker,
			MinNonce:  wordBig(l.Data, 0),
		})
		return nil
	}

	nonces, err := wordList(l.Data, 0)
	if err != nil {
		return err
	}
	for i, nonce := range nonces {
		batch.NonceCancels = append(batch.NonceCancels, domain.NonceCancelEvent{
			Base:      withBatchIndex(base, i+1),
			OrderKind: ed.OrderKind,
			Maker:     maker,
			Nonce:     nonce,
		})
	}
	return nil
}

// TakerAsk is a taker hitting a maker's bid, TakerBid a taker lifting a
// maker's ask. Both log layouts are identical:
//
//	data: orderHash, orderNonce, currency, collection, tokenId, amount, price
//
// The matched nonce is consumed on-chain, so every fill is accompanied by a
// nonce cancel at the same position.
func (n *Normalizer) handleLooksRareFill(ctx context.Context, ed *EventData, l *types.Log, base domain.BaseEventParams, tc *txContext, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 7); err != nil {
		return err
	}
	var (
		taker     = topicAddr(l.Topics[1])
		maker     = topicAddr(l.Topics[2])
		orderHash = wordHash(l.Data, 0)
		nonce     = wordBig(l.Data, 1)
		currency  = wordAddr(l.Data, 2)
		contract  = wordAddr(l.Data, 3)
		tokenID   = wordBig(l.Data, 4)
		amount    = wordBig(l.Data, 5)
		price     = wordBig(l.Data, 6)
	)
	if amount.Sign() == 0 {
		return domain.ErrMalformedLog
	}
	unitPrice := new(big.Int).Div(price, amount)

	side := domain.OrderSideBuy
	if ed.Kind == KindLooksRareTakerBid {
		side = domain.OrderSideSell
	}

	attr := n.attribution(ctx, base.TxHash, taker)

	n.appendFill(batch, domain.FillEvent{
		Base:      base,
		OrderKind: ed.OrderKind,
		OrderID:   orderHash.Hex(),
		OrderSide: side,
		Maker:     maker,
		Taker:     attr.Taker,
		Currency:  currency,
		Price:     unitPrice,
		Contract:  contract,
		TokenID:   tokenID,
		Amount:    amount,
	}, attr)

	batch.NonceCancels = append(batch.NonceCancels, domain.NonceCancelEvent{
		Base:      base,
		OrderKind: ed.OrderKind,
		Maker:     maker,
		Nonce:     nonce,
	})

	// A filled bid means the maker just spent funds; if the paying ERC20
	// transfer is visible earlier in the tx, recheck their other bids.
	if side == domain.OrderSideBuy {
		if t, ok := tc.erc20Before(base.LogIndex); ok && t.From == maker {
			batch.MakerInfos = append(batch.MakerInfos, domain.MakerInfo{
				Context:  domain.ApprovalContext(base.TxHash, maker, l.Address),
				Maker:    maker,
				Kind:     domain.MakerInfoBuyApproval,
				Contract: t.Token,
				Operator: l.Address,
			})
		}
	}
	return nil
}
