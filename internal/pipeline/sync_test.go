package pipeline

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

type fakeChain struct {
	logs      []types.Log
	headers   map[uint64]*types.Header
	canonical map[uint64]common.Hash
}

func (f *fakeChain) Logs(_ context.Context, _, _ uint64, _ []common.Hash) ([]types.Log, error) {
	return f.logs, nil
}

func (f *fakeChain) Header(_ context.Context, number uint64) (*types.Header, error) {
	h, ok := f.headers[number]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return h, nil
}

func (f *fakeChain) HeadNumber(context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) BlockHash(_ context.Context, number uint64) (common.Hash, error) {
	return f.canonical[number], nil
}

// fakeNormalizer returns a prepared batch and records the interpolated
// timestamps it was asked for.
type fakeNormalizer struct {
	batch      *domain.EventBatch
	timestamps map[uint64]int64
	probe      []uint64
}

func (f *fakeNormalizer) Topics() []common.Hash { return nil }

func (f *fakeNormalizer) Process(_ context.Context, _ []types.Log, timestampOf func(uint64) int64, _ bool) (*domain.EventBatch, error) {
	f.timestamps = make(map[uint64]int64)
	for _, n := range f.probe {
		f.timestamps[n] = timestampOf(n)
	}
	if f.batch != nil {
		return f.batch, nil
	}
	return &domain.EventBatch{}, nil
}

// recordingEventStore records the order persistence methods were called in.
type recordingEventStore struct {
	calls []string
}

func (r *recordingEventStore) AddFills(_ context.Context, ev []domain.FillEvent) error {
	r.calls = append(r.calls, "fills")
	return nil
}
func (r *recordingEventStore) AddCancels(_ context.Context, ev []domain.CancelEvent) error {
	r.calls = append(r.calls, "cancels")
	return nil
}
func (r *recordingEventStore) AddNonceCancels(_ context.Context, ev []domain.NonceCancelEvent) error {
	r.calls = append(r.calls, "nonce-cancels")
	return nil
}
func (r *recordingEventStore) AddBulkCancels(_ context.Context, ev []domain.BulkCancelEvent) error {
	r.calls = append(r.calls, "bulk-cancels")
	return nil
}
func (r *recordingEventStore) AddNftTransfers(_ context.Context, ev []domain.NftTransferEvent) error {
	r.calls = append(r.calls, "nft-transfers")
	return nil
}
func (r *recordingEventStore) AddFtTransfers(_ context.Context, ev []domain.FtTransferEvent) error {
	r.calls = append(r.calls, "ft-transfers")
	return nil
}
func (r *recordingEventStore) AddNftApprovals(_ context.Context, ev []domain.NftApprovalEvent) error {
	r.calls = append(r.calls, "nft-approvals")
	return nil
}

func (r *recordingEventStore) RemoveEvents(_ context.Context, block uint64, blockHash common.Hash) error {
	r.calls = append(r.calls, "remove")
	return nil
}

type recordingBlockStore struct {
	saved    []uint64
	deleted  []uint64
	latest   uint64
	ingested bool
}

func (r *recordingBlockStore) SaveBlock(_ context.Context, number uint64, _ common.Hash) error {
	r.saved = append(r.saved, number)
	return nil
}
func (r *recordingBlockStore) BlockHashes(context.Context, uint64) ([]common.Hash, error) {
	return nil, nil
}
func (r *recordingBlockStore) DeleteBlock(_ context.Context, number uint64, _ common.Hash) error {
	r.deleted = append(r.deleted, number)
	return nil
}
func (r *recordingBlockStore) LatestBlock(context.Context) (uint64, error) {
	if !r.ingested {
		return 0, domain.ErrNotFound
	}
	return r.latest, nil
}

type recordingTriggers struct {
	enqueued int
}

func (r *recordingTriggers) EnqueueFillInfos(_ context.Context, infos []domain.FillInfo) error {
	r.enqueued += len(infos)
	return nil
}
func (r *recordingTriggers) EnqueueOrderInfos(_ context.Context, infos []domain.OrderInfo) error {
	r.enqueued += len(infos)
	return nil
}
func (r *recordingTriggers) EnqueueMakerInfos(_ context.Context, infos []domain.MakerInfo) error {
	r.enqueued += len(infos)
	return nil
}
func (r *recordingTriggers) EnqueueMintInfos(_ context.Context, infos []domain.MintInfo) error {
	r.enqueued += len(infos)
	return nil
}

type noopStatus struct{}

func (noopStatus) ApplyBatch(context.Context, *domain.EventBatch) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSync(chain *fakeChain, norm *fakeNormalizer, events *recordingEventStore, blocks *recordingBlockStore, triggers *recordingTriggers, sched *fixedScheduler) *EventSync {
	return NewEventSync(chain, norm, events, blocks, noopStatus{}, triggers, sched, testLogger())
}

// fixedScheduler implements domain.BlockCheckScheduler for tests.
type fixedScheduler struct {
	scheduled []domain.BlockRecheck
	due       []domain.BlockRecheck
}

func (f *fixedScheduler) Schedule(_ context.Context, check domain.BlockRecheck) error {
	f.scheduled = append(f.scheduled, check)
	return nil
}

func (f *fixedScheduler) Due(_ context.Context, _ time.Time) ([]domain.BlockRecheck, error) {
	out := f.due
	f.due = nil
	return out, nil
}

func TestSyncRangePersistsFillsBeforeCancels(t *testing.T) {
	chain := &fakeChain{
		headers: map[uint64]*types.Header{
			100: {Number: big.NewInt(100), Time: 1000},
		},
	}
	norm := &fakeNormalizer{batch: &domain.EventBatch{
		Fills:   []domain.FillEvent{{OrderID: "o-1"}},
		Cancels: []domain.CancelEvent{{OrderID: "o-1"}},
	}}
	events := &recordingEventStore{}
	sync := newTestSync(chain, norm, events, &recordingBlockStore{}, &recordingTriggers{}, &fixedScheduler{})

	require.NoError(t, sync.SyncRange(context.Background(), 100, 100, false))

	assert.Equal(t, []string{
		"fills", "cancels", "nonce-cancels", "bulk-cancels",
		"nft-transfers", "ft-transfers", "nft-approvals",
	}, events.calls)
}

func TestSyncRangeInterpolatesTimestamps(t *testing.T) {
	chain := &fakeChain{
		headers: map[uint64]*types.Header{
			100: {Number: big.NewInt(100), Time: 1000},
			110: {Number: big.NewInt(110), Time: 1120},
		},
	}
	norm := &fakeNormalizer{probe: []uint64{100, 105, 110}}
	sync := newTestSync(chain, norm, &recordingEventStore{}, &recordingBlockStore{}, &recordingTriggers{}, &fixedScheduler{})

	require.NoError(t, sync.SyncRange(context.Background(), 100, 110, false))

	assert.Equal(t, int64(1000), norm.timestamps[100])
	assert.Equal(t, int64(1060), norm.timestamps[105])
	assert.Equal(t, int64(1120), norm.timestamps[110])
}

func TestSyncRangeBackfillSkipsSideEffects(t *testing.T) {
	blockHash := common.HexToHash("0xb1")
	chain := &fakeChain{
		logs: []types.Log{
			{BlockNumber: 100, BlockHash: blockHash},
		},
		headers: map[uint64]*types.Header{
			100: {Number: big.NewInt(100), Time: 1000},
		},
	}
	norm := &fakeNormalizer{batch: &domain.EventBatch{
		FillInfos: []domain.FillInfo{{Context: "ctx-1"}},
	}}

	triggers := &recordingTriggers{}
	blocks := &recordingBlockStore{}
	sched := &fixedScheduler{}
	sync := newTestSync(chain, norm, &recordingEventStore{}, blocks, triggers, sched)

	require.NoError(t, sync.SyncRange(context.Background(), 100, 100, true))
	assert.Zero(t, triggers.enqueued)
	assert.Empty(t, blocks.saved)
	assert.Empty(t, sched.scheduled)

	// Real-time mode dispatches and tracks.
	require.NoError(t, sync.SyncRange(context.Background(), 100, 100, false))
	assert.Equal(t, 1, triggers.enqueued)
	assert.Equal(t, []uint64{100}, blocks.saved)
	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, 0, sched.scheduled[0].Attempt)
	assert.Equal(t, blockHash, sched.scheduled[0].Hash)
}

func TestBlockCheckerUnsyncsOrphan(t *testing.T) {
	stored := common.HexToHash("0xdead")
	canonical := common.HexToHash("0xbeef")
	chain := &fakeChain{canonical: map[uint64]common.Hash{100: canonical}}
	events := &recordingEventStore{}
	blocks := &recordingBlockStore{}
	sched := &fixedScheduler{due: []domain.BlockRecheck{{Number: 100, Hash: stored, Attempt: 1}}}

	checker := NewBlockChecker(chain, blocks, events, sched, testLogger())
	require.NoError(t, checker.CheckDue(context.Background(), time.Now()))

	assert.Equal(t, []string{"remove"}, events.calls)
	assert.Equal(t, []uint64{100}, blocks.deleted)
	assert.Empty(t, sched.scheduled)
}

func TestBlockCheckerReschedulesCanonicalBlock(t *testing.T) {
	hash := common.HexToHash("0xb1")
	chain := &fakeChain{canonical: map[uint64]common.Hash{100: hash}}
	events := &recordingEventStore{}
	blocks := &recordingBlockStore{}
	sched := &fixedScheduler{due: []domain.BlockRecheck{{Number: 100, Hash: hash, Attempt: 1}}}

	checker := NewBlockChecker(chain, blocks, events, sched, testLogger())
	require.NoError(t, checker.CheckDue(context.Background(), time.Now()))

	assert.Empty(t, events.calls)
	assert.Empty(t, blocks.deleted)
	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, 2, sched.scheduled[0].Attempt)
}
