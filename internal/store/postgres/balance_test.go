package postgres

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

func transferEvent(contract, from, to common.Address, tokenID, amount int64) domain.NftTransferEvent {
	return domain.NftTransferEvent{
		Base:    domain.BaseEventParams{Address: contract},
		From:    from,
		To:      to,
		TokenID: big.NewInt(tokenID),
		Amount:  big.NewInt(amount),
	}
}

func TestBalanceDeltas(t *testing.T) {
	contract := common.HexToAddress("0xaa")
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")

	events := []domain.NftTransferEvent{
		transferEvent(contract, alice, bob, 1, 3),
		transferEvent(contract, common.Address{}, alice, 2, 1), // mint
	}

	deltas := BalanceDeltas(events, false)
	require.Len(t, deltas, 3)

	assert.Equal(t, int64(-3), deltas[BalanceKey{contract, "1", alice}].Int64())
	assert.Equal(t, int64(3), deltas[BalanceKey{contract, "1", bob}].Int64())
	assert.Equal(t, int64(1), deltas[BalanceKey{contract, "2", alice}].Int64())

	// The zero address never accrues balance.
	_, ok := deltas[BalanceKey{contract, "2", common.Address{}}]
	assert.False(t, ok)
}

func TestBalanceDeltasMergeSameKey(t *testing.T) {
	contract := common.HexToAddress("0xaa")
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")

	events := []domain.NftTransferEvent{
		transferEvent(contract, alice, bob, 1, 2),
		transferEvent(contract, alice, bob, 1, 5),
	}

	deltas := BalanceDeltas(events, false)
	assert.Equal(t, int64(-7), deltas[BalanceKey{contract, "1", alice}].Int64())
	assert.Equal(t, int64(7), deltas[BalanceKey{contract, "1", bob}].Int64())
}

func TestBalanceDeltasRoundTripCancels(t *testing.T) {
	contract := common.HexToAddress("0xaa")
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")
	carol := common.HexToAddress("0x03")

	events := []domain.NftTransferEvent{
		transferEvent(contract, alice, bob, 1, 3),
		transferEvent(contract, bob, carol, 1, 2),
		transferEvent(contract, common.Address{}, carol, 9, 4),
	}

	forward := BalanceDeltas(events, false)
	reverse := BalanceDeltas(events, true)

	require.Equal(t, len(forward), len(reverse))
	for key, d := range forward {
		r, ok := reverse[key]
		require.True(t, ok, "reverse delta missing for %v", key)
		sum := new(big.Int).Add(d, r)
		assert.Zero(t, sum.Sign(), "forward+reverse must cancel for %v", key)
	}
}

func TestBalanceDeltasDropZeroSum(t *testing.T) {
	contract := common.HexToAddress("0xaa")
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")

	// A there-and-back transfer nets out to nothing.
	events := []domain.NftTransferEvent{
		transferEvent(contract, alice, bob, 1, 2),
		transferEvent(contract, bob, alice, 1, 2),
	}

	deltas := BalanceDeltas(events, false)
	assert.Empty(t, deltas)
}
