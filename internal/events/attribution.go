package events

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// TxFetcher resolves transaction envelopes, typically through a cache in
// front of the RPC node.
type TxFetcher interface {
	Transaction(ctx context.Context, hash common.Hash) (*domain.TxInfo, error)
}

// Attribution is the result of re-attributing a fill's taker through known
// router contracts.
type Attribution struct {
	Taker      common.Address
	FillSource string
	Aggregator string
}

// attribution decides who really initiated a fill. When the transaction
// targets a known router the on-chain taker is the router itself, so the
// economic taker is the transaction sender. Lookup failures keep the
// on-chain taker, attribution must never block ingestion.
func (n *Normalizer) attribution(ctx context.Context, txHash common.Hash, taker common.Address) Attribution {
	out := Attribution{Taker: taker}
	if n.txs == nil || len(n.book.Routers) == 0 {
		return out
	}
	tx, err := n.txs.Transaction(ctx, txHash)
	if err != nil {
		n.log.Warn("attribution lookup failed", slog.String("tx", txHash.Hex()), slog.String("error", err.Error()))
		return out
	}
	if source, ok := n.book.Routers[tx.To]; ok {
		out.Taker = tx.From
		out.FillSource = source
		out.Aggregator = source
	}
	// A zero on-chain recipient also falls back to the sender.
	if out.Taker == (common.Address{}) {
		out.Taker = tx.From
	}
	return out
}
