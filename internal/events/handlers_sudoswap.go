package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Sudoswap pair logs carry no payload; the pool address alone is enough to
// schedule a reprice of the synthetic pool orders, whose ladder is rebuilt
// from the bonding curve off-band. The NFT transfers of the swap are
// picked up by the token handlers.
func (n *Normalizer) handleSudoswap(l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) {
	id := PoolOrderID(domain.OrderKindSudoswap, l.Address.Hex())
	batch.OrderInfos = append(batch.OrderInfos, domain.OrderInfo{
		Context:     fmt.Sprintf("%s-%d-reprice", base.TxHash, base.LogIndex),
		ID:          id,
		Trigger:     "reprice",
		TxHash:      base.TxHash,
		TxTimestamp: base.Timestamp,
	})
}

// PoolOrderID is the synthetic order id for AMM pool liquidity, derived
// from the pool address rather than a signed payload.
func PoolOrderID(kind domain.OrderKind, pool string) string {
	return fmt.Sprintf("%s:%s", kind, pool)
}
