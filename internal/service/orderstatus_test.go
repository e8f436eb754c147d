package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

type recordingOrders struct {
	fills        []string
	cancels      []string
	nonceCancels []string
	bulkCancels  []string
}

func (r *recordingOrders) OrderByID(context.Context, string) (*domain.Order, error) {
	return nil, domain.ErrNotFound
}
func (r *recordingOrders) TokenBids(context.Context, domain.BidQuery) ([]domain.Order, error) {
	return nil, nil
}
func (r *recordingOrders) ResolveByNonce(context.Context, domain.OrderKind, common.Address, *big.Int, common.Address, *big.Int) (*domain.Order, error) {
	return nil, domain.ErrNotFound
}

func (r *recordingOrders) ApplyFill(_ context.Context, id string, _ *big.Int) error {
	r.fills = append(r.fills, id)
	return nil
}

func (r *recordingOrders) CancelByID(_ context.Context, id string, _ string) error {
	r.cancels = append(r.cancels, id)
	return nil
}

func (r *recordingOrders) CancelByNonce(_ context.Context, kind domain.OrderKind, maker common.Address, nonce *big.Int) (int64, error) {
	r.nonceCancels = append(r.nonceCancels, string(kind)+":"+maker.Hex()+":"+nonce.String())
	return 1, nil
}

func (r *recordingOrders) CancelBelowNonce(_ context.Context, kind domain.OrderKind, maker common.Address, minNonce *big.Int) (int64, error) {
	r.bulkCancels = append(r.bulkCancels, string(kind)+":"+maker.Hex()+":"+minNonce.String())
	return 1, nil
}

func newTestService(orders *recordingOrders) *OrderStatusService {
	return NewOrderStatusService(orders, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestApplyBatchOrdering(t *testing.T) {
	maker := common.HexToAddress("0x1234")
	orders := &recordingOrders{}
	svc := newTestService(orders)

	batch := &domain.EventBatch{
		Fills: []domain.FillEvent{
			{OrderID: "order-a", Amount: big.NewInt(1)},
			{OrderID: ""}, // unresolved fill, skipped
		},
		Cancels: []domain.CancelEvent{
			{OrderKind: domain.OrderKindSeaport, OrderID: "order-b"},
		},
		NonceCancels: []domain.NonceCancelEvent{
			{OrderKind: domain.OrderKindLooksRare, Maker: maker, Nonce: big.NewInt(42)},
		},
		BulkCancels: []domain.BulkCancelEvent{
			{OrderKind: domain.OrderKindLooksRare, Maker: maker, MinNonce: big.NewInt(100)},
		},
	}

	require.NoError(t, svc.ApplyBatch(context.Background(), batch))

	assert.Equal(t, []string{"order-a"}, orders.fills)
	assert.Equal(t, []string{"order-b"}, orders.cancels)
	assert.Equal(t, []string{"looks-rare:" + maker.Hex() + ":42"}, orders.nonceCancels)
	assert.Equal(t, []string{"looks-rare:" + maker.Hex() + ":100"}, orders.bulkCancels)
}

// A fill on a nonce-based protocol consumes the maker's nonce, so the
// sibling nonce-cancel emitted with the fill must invalidate every other
// order sharing that nonce, after the fill itself has been applied.
func TestNonceSiblingCancellation(t *testing.T) {
	maker := common.HexToAddress("0xabcd")
	orders := &recordingOrders{}
	svc := newTestService(orders)

	batch := &domain.EventBatch{
		Fills: []domain.FillEvent{
			{OrderKind: domain.OrderKindLooksRare, OrderID: "filled-order", Amount: big.NewInt(1)},
		},
		NonceCancels: []domain.NonceCancelEvent{
			{OrderKind: domain.OrderKindLooksRare, Maker: maker, Nonce: big.NewInt(7)},
		},
	}

	require.NoError(t, svc.ApplyBatch(context.Background(), batch))

	require.Len(t, orders.fills, 1)
	require.Len(t, orders.nonceCancels, 1)
	assert.Equal(t, "looks-rare:"+maker.Hex()+":7", orders.nonceCancels[0])
}
