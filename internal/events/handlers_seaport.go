package events

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Seaport item types.
const (
	seaportItemNative  = 0
	seaportItemERC20   = 1
	seaportItemERC721  = 2
	seaportItemERC1155 = 3
)

type seaportItem struct {
	ItemType int
	Token    common.Address
	TokenID  *big.Int
	Amount   *big.Int
}

func (it seaportItem) isNFT() bool {
	return it.ItemType == seaportItemERC721 || it.ItemType == seaportItemERC1155
}

func (it seaportItem) contractKind() domain.ContractKind {
	if it.ItemType == seaportItemERC1155 {
		return domain.ContractKindERC1155
	}
	return domain.ContractKindERC721
}

// seaportItems decodes the item array whose offset sits at slot, with
// stride words per item (4 for SpentItem, 5 for ReceivedItem).
func seaportItems(data []byte, slot, stride int) ([]seaportItem, error) {
	if err := needWords(data, slot+1); err != nil {
		return nil, err
	}
	off := wordBig(data, slot)
	if !off.IsInt64() || off.Int64()%32 != 0 {
		return nil, fmt.Errorf("events: bad item array offset: %w", domain.ErrMalformedLog)
	}
	base := int(off.Int64() / 32)
	if err := needWords(data, base+1); err != nil {
		return nil, err
	}
	count := wordBig(data, base)
	if !count.IsInt64() || count.Int64() > int64(len(data)/32) {
		return nil, fmt.Errorf("events: bad item array length: %w", domain.ErrMalformedLog)
	}
	n := int(count.Int64())
	if err := needWords(data, base+1+n*stride); err != nil {
		return nil, err
	}
	items := make([]seaportItem, n)
	for i := 0; i < n; i++ {
		at := base + 1 + i*stride
		items[i] = seaportItem{
			ItemType: int(wordBig(data, at).Int64()),
			Token:    wordAddr(data, at+1),
			TokenID:  wordBig(data, at+2),
			Amount:   wordBig(data, at+3),
		}
	}
	return items, nil
}

// OrderFulfilled covers both sides: an ask fulfilment spends NFTs and
// receives currency, a bid fulfilment the reverse. Multi-NFT fulfilments
// emit one fill per NFT item with the total price split evenly.
func (n *Normalizer) handleSeaportFulfilled(ctx context.Context, l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 4); err != nil {
		return err
	}
	orderHash := wordHash(l.Data, 0)
	offerer := topicAddr(l.Topics[1])
	recipient := wordAddr(l.Data, 1)

	offer, err := seaportItems(l.Data, 2, 4)
	if err != nil {
		return err
	}
	consideration, err := seaportItems(l.Data, 3, 5)
	if err != nil {
		return err
	}
	if len(offer) == 0 {
		return domain.ErrMalformedLog
	}

	var (
		side     domain.OrderSide
		nfts     []seaportItem
		payments []seaportItem
	)
	if offer[0].isNFT() {
		side = domain.OrderSideSell
		nfts = offer
		payments = consideration
	} else {
		side = domain.OrderSideBuy
		nfts = consideration
		payments = offer
	}

	currency := common.Address{}
	price := new(big.Int)
	for _, p := range payments {
		if p.isNFT() {
			continue
		}
		if currency == (common.Address{}) && p.ItemType == seaportItemERC20 {
			currency = p.Token
		}
		price.Add(price, p.Amount)
	}

	nftCount := 0
	for _, it := range nfts {
		if it.isNFT() {
			nftCount++
		}
	}
	if nftCount == 0 {
		// Currency-for-currency fulfilments are not sales.
		return nil
	}
	unitTotal := new(big.Int).Div(price, big.NewInt(int64(nftCount)))

	attr := n.attribution(ctx, base.TxHash, recipient)

	batchIndex := 1
	for _, it := range nfts {
		if !it.isNFT() {
			continue
		}
		amount := it.Amount
		if amount.Sign() == 0 {
			amount = big.NewInt(1)
		}
		n.appendFill(batch, domain.FillEvent{
			Base:      withBatchIndex(base, batchIndex),
			OrderKind: domain.OrderKindSeaport,
			OrderID:   orderHash.Hex(),
			OrderSide: side,
			Maker:     offerer,
			Taker:     attr.Taker,
			Currency:  currency,
			Price:     new(big.Int).Div(unitTotal, amount),
			Contract:  it.Token,
			TokenID:   it.TokenID,
			Amount:    amount,
		}, attr)
		batchIndex++
	}
	return nil
}

func (n *Normalizer) handleSeaportCancelled(l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 1); err != nil {
		return err
	}
	orderID := wordHash(l.Data, 0).Hex()
	batch.Cancels = append(batch.Cancels, domain.CancelEvent{
		Base:      base,
		OrderKind: domain.OrderKindSeaport,
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

func (n *Normalizer) handleSeaportCounterBump(l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 1); err != nil {
		return err
	}
	batch.BulkCancels = append(batch.BulkCancels, domain.BulkCancelEvent{
		Base:      base,
		OrderKind: domain.OrderKindSeaport,
		Maker:     topicAddr(l.Topics[1]),
		MinNonce:  wordBig(l.Data, 0),
	})
	return nil
}
