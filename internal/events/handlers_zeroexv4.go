package events

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// nativeSentinel is the pseudo-address 0x exchanges use for the native
// currency; canonical events use the zero address instead.
var nativeSentinel = common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")

func remapNative(currency common.Address) common.Address {
	if currency == nativeSentinel {
		return common.Address{}
	}
	return currency
}

// 0x v4 fills identify orders by (maker, nonce), not by hash, and report
// only the fee-exclusive currency amount. When a stored order matches the
// pair, its id and stored gross price replace the on-chain approximation;
// otherwise the fee-exclusive amount is kept, slightly undershooting the
// real price.
func (n *Normalizer) handleZeroExV4Fill(ctx context.Context, ed *EventData, l *types.Log, base domain.BaseEventParams, backfill bool, batch *domain.EventBatch) error {
	erc1155 := ed.Kind == KindZeroExV4Erc1155Fill
	words := 9
	if erc1155 {
		words = 10
	}
	if err := needWords(l.Data, words); err != nil {
		return err
	}

	var (
		direction   = wordBig(l.Data, 0)
		maker       = wordAddr(l.Data, 1)
		taker       = wordAddr(l.Data, 2)
		nonce       = wordBig(l.Data, 3)
		currency    = remapNative(wordAddr(l.Data, 4))
		erc20Amount = wordBig(l.Data, 5)
		contract    = wordAddr(l.Data, 6)
		tokenID     = wordBig(l.Data, 7)
	)
	amount := big.NewInt(1)
	if erc1155 {
		amount = wordBig(l.Data, 8)
		if amount.Sign() == 0 {
			return domain.ErrMalformedLog
		}
	}

	// direction 0 means the maker sold the NFT.
	side := domain.OrderSideSell
	if direction.Sign() != 0 {
		side = domain.OrderSideBuy
	}

	price := new(big.Int).Div(erc20Amount, amount)

	var orderID string
	if !backfill && n.orders != nil {
		order, err := n.orders.ResolveByNonce(ctx, ed.OrderKind, maker, nonce, contract, erc20Amount)
		switch {
		case err == nil:
			orderID = order.ID
			if order.CurrencyPrice != nil {
				price = order.CurrencyPrice
			} else if order.Price != nil {
				price = order.Price
			}
		case errors.Is(err, domain.ErrNotFound):
			// Off-platform order, keep the fee-exclusive price.
		default:
			return err
		}
		if orderID == "" {
			n.log.Debug("unresolved fill kept with on-chain price",
				slog.String("kind", string(ed.OrderKind)),
				slog.String("maker", maker.Hex()),
				slog.String("nonce", nonce.String()))
		}
	}

	attr := n.attribution(ctx, base.TxHash, taker)

	n.appendFill(batch, domain.FillEvent{
		Base:      base,
		OrderKind: ed.OrderKind,
		OrderID:   orderID,
		OrderSide: side,
		Maker:     maker,
		Taker:     attr.Taker,
		Currency:  currency,
		Price:     price,
		Contract:  contract,
		TokenID:   tokenID,
		Amount:    amount,
	}, attr)

	// ERC721 orders are all-or-nothing, so the fill consumes the nonce.
	// ERC1155 orders fill partially and keep theirs.
	if !erc1155 {
		batch.NonceCancels = append(batch.NonceCancels, domain.NonceCancelEvent{
			Base:      base,
			OrderKind: ed.OrderKind,
			Maker:     maker,
			Nonce:     nonce,
		})
	}
	return nil
}

func (n *Normalizer) handleZeroExV4Cancel(ed *EventData, l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 2); err != nil {
		return err
	}
	batch.NonceCancels = append(batch.NonceCancels, domain.NonceCancelEvent{
		Base:      base,
		OrderKind: ed.OrderKind,
		Maker:     wordAddr(l.Data, 0),
		Nonce:     wordBig(l.Data, 1),
	})
	return nil
}
