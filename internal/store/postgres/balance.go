package postgres

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// BalanceKey addresses one nft_balances row. TokenID is kept in decimal
// string form so the struct is usable as a map key.
type BalanceKey struct {
	Contract common.Address
	TokenID  string
	Owner    common.Address
}

// BalanceDeltas folds transfer events into the signed per-owner balance
// changes they imply: senders lose Amount, receivers gain it. The zero
// address (mints and burns) carries no balance and is skipped. Negating the
// result of the same events yields the exact reversal, which is what reorg
// removal applies.
func BalanceDeltas(events []domain.NftTransferEvent, negate bool) map[BalanceKey]*big.Int {
	deltas := make(map[BalanceKey]*big.Int)
	add := func(owner common.Address, e *domain.NftTransferEvent, sign int64) {
		if owner == (common.Address{}) {
			return
		}
		key := BalanceKey{Contract: e.Base.Address, TokenID: numStr(e.TokenID), Owner: owner}
		d, ok := deltas[key]
		if !ok {
			d = new(big.Int)
			deltas[key] = d
		}
		step := new(big.Int).Mul(e.Amount, big.NewInt(sign))
		d.Add(d, step)
	}
	for i := range events {
		e := &events[i]
		from, to := int64(-1), int64(1)
		if negate {
			from, to = 1, -1
		}
		add(e.From, e, from)
		add(e.To, e, to)
	}
	for key, d := range deltas {
		if d.Sign() == 0 {
			delete(deltas, key)
		}
	}
	return deltas
}
