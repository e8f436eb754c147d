package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

var (
	testWeth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testTaker    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testMaker    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeOrders struct {
	byID map[string]*domain.Order
	bids []domain.Order
}

func (f *fakeOrders) OrderByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) TokenBids(_ context.Context, _ domain.BidQuery) ([]domain.Order, error) {
	return append([]domain.Order(nil), f.bids...), nil
}

func (f *fakeOrders) ResolveByNonce(context.Context, domain.OrderKind, common.Address, *big.Int, common.Address, *big.Int) (*domain.Order, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeOrders) CancelByID(context.Context, string, string) error { return nil }
func (f *fakeOrders) CancelByNonce(context.Context, domain.OrderKind, common.Address, *big.Int) (int64, error) {
	return 0, nil
}
func (f *fakeOrders) CancelBelowNonce(context.Context, domain.OrderKind, common.Address, *big.Int) (int64, error) {
	return 0, nil
}
func (f *fakeOrders) ApplyFill(context.Context, string, *big.Int) error { return nil }

type fakeTokens struct {
	flagged map[string]bool
}

func (f *fakeTokens) IsFlagged(_ context.Context, contract common.Address, tokenID *big.Int) (bool, error) {
	return f.flagged[tokenKey(contract, tokenID)], nil
}

type fakeBalances struct {
	byMaker map[common.Address]*big.Int
}

func (f *fakeBalances) FtBalance(_ context.Context, _ common.Address, owner common.Address) (*big.Int, error) {
	if bal, ok := f.byMaker[owner]; ok {
		return bal, nil
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), nil
}

type fakeCodec struct {
	authKinds map[domain.OrderKind]bool
}

func (c *fakeCodec) DecodeRaw(kind domain.OrderKind, data json.RawMessage) (*domain.Order, error) {
	var o domain.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode %s order: %w", kind, err)
	}
	o.Kind = kind
	return &o, nil
}

func (c *fakeCodec) PoolPrices(order *domain.Order) ([]*big.Int, error) {
	var raw struct {
		Prices []string `json:"prices"`
	}
	if err := json.Unmarshal(order.RawData, &raw); err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(raw.Prices))
	for i, s := range raw.Prices {
		p, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("bad ladder price %q", s)
		}
		out[i] = p
	}
	return out, nil
}

func (c *fakeCodec) RequiresAuth(kind domain.OrderKind) bool { return c.authKinds[kind] }

func (c *fakeCodec) AuthTx(common.Address) (*TxData, error) {
	return &TxData{Data: []byte("auth-challenge")}, nil
}

func (c *fakeCodec) ApprovalTx(_ domain.OrderKind, _, contract common.Address) (*TxData, error) {
	return &TxData{To: contract, Data: []byte{0xa2, 0x2c, 0xb4, 0x65}}, nil
}

func (c *fakeCodec) FillTx(_ common.Address, allocs []Allocation) (*TxData, error) {
	return &TxData{To: common.HexToAddress("0xdead"), Data: []byte(allocs[0].Kind)}, nil
}

func newTestPlanner(orders *fakeOrders, tokens *fakeTokens, balances *fakeBalances) *Planner {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(orders, tokens, balances, &fakeCodec{}, 20, log)
}

func bid(id string, maker common.Address, price int64, quantity int64) domain.Order {
	return domain.Order{
		ID:                id,
		Kind:              domain.OrderKindLooksRare,
		Side:              domain.OrderSideBuy,
		Maker:             maker,
		Contract:          testContract,
		TokenID:           big.NewInt(7),
		TokenKind:         domain.ContractKindERC721,
		Price:             big.NewInt(price),
		Value:             big.NewInt(price),
		Currency:          testWeth,
		QuantityRemaining: big.NewInt(quantity),
		Fillability:       domain.FillabilityFillable,
		Approval:          domain.ApprovalApproved,
	}
}

func tokenItem(quantity int64) FillItem {
	return FillItem{Token: &TokenRef{Contract: testContract, TokenID: big.NewInt(7)}, Quantity: quantity}
}

func TestPoolLadderOrder(t *testing.T) {
	pool := bid("pool-1", testMaker, 0, 3)
	pool.Kind = domain.OrderKindSudoswap
	pool.Price = big.NewInt(100)
	pool.RawData = json.RawMessage(`{"prices":["100","110","120"]}`)

	p := newTestPlanner(
		&fakeOrders{bids: []domain.Order{pool}},
		&fakeTokens{},
		&fakeBalances{},
	)

	res, err := p.Plan(context.Background(), PlanRequest{
		Items: []FillItem{tokenItem(3)},
		Taker: testTaker,
	})
	require.NoError(t, err)
	require.Len(t, res.Path, 3)

	// Each unit repriced along the ladder, one allocation per unit.
	assert.Equal(t, int64(100), res.Path[0].UnitPrice.Int64())
	assert.Equal(t, int64(110), res.Path[1].UnitPrice.Int64())
	assert.Equal(t, int64(120), res.Path[2].UnitPrice.Int64())
	for _, a := range res.Path {
		assert.Equal(t, int64(1), a.Quantity)
	}
	assert.Equal(t, int64(330), res.GrossAmount.Int64())
}

func TestMakerBalanceBoundsAllocation(t *testing.T) {
	p := newTestPlanner(
		&fakeOrders{bids: []domain.Order{
			bid("bid-1", testMaker, 100, 1),
			bid("bid-2", testMaker, 100, 1),
		}},
		&fakeTokens{},
		&fakeBalances{byMaker: map[common.Address]*big.Int{testMaker: big.NewInt(150)}},
	)

	res, err := p.Plan(context.Background(), PlanRequest{
		Items:   []FillItem{tokenItem(2)},
		Taker:   testTaker,
		Partial: true,
	})
	require.NoError(t, err)

	// The maker can pay for one unit only, the second bid is skipped even
	// though it is open.
	require.Len(t, res.Path, 1)
	assert.Equal(t, "bid-1", res.Path[0].OrderID)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeQuantityUnmet, res.Errors[0].Code)
	assert.Equal(t, int64(100), res.GrossAmount.Int64())
}

func TestSelfFillRejected(t *testing.T) {
	p := newTestPlanner(
		&fakeOrders{bids: []domain.Order{bid("bid-own", testTaker, 100, 1)}},
		&fakeTokens{},
		&fakeBalances{},
	)

	_, err := p.Plan(context.Background(), PlanRequest{
		Items: []FillItem{tokenItem(1)},
		Taker: testTaker,
	})
	var execErr *ExecuteError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeOwnOrders, execErr.Code)
}

func TestFlaggedTokenRejectedForStrictProtocols(t *testing.T) {
	flagged := bid("bid-seaport", testMaker, 100, 1)
	flagged.Kind = domain.OrderKindSeaport

	p := newTestPlanner(
		&fakeOrders{bids: []domain.Order{flagged}},
		&fakeTokens{flagged: map[string]bool{tokenKey(testContract, big.NewInt(7)): true}},
		&fakeBalances{},
	)

	_, err := p.Plan(context.Background(), PlanRequest{
		Items: []FillItem{tokenItem(1)},
		Taker: testTaker,
	})
	var execErr *ExecuteError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeFlaggedToken, execErr.Code)

	// Explicit permission lifts the restriction.
	res, err := p.Plan(context.Background(), PlanRequest{
		Items:        []FillItem{tokenItem(1)},
		Taker:        testTaker,
		AllowFlagged: true,
	})
	require.NoError(t, err)
	assert.Len(t, res.Path, 1)
}

func TestPartialCollectsErrorsFailClosedAborts(t *testing.T) {
	known := bid("bid-1", testMaker, 100, 1)
	orders := &fakeOrders{byID: map[string]*domain.Order{"bid-1": &known}}

	items := []FillItem{
		{OrderID: "bid-1", Quantity: 1},
		{OrderID: "bid-missing", Quantity: 1},
	}

	p := newTestPlanner(orders, &fakeTokens{}, &fakeBalances{})

	_, err := p.Plan(context.Background(), PlanRequest{Items: items, Taker: testTaker})
	var execErr *ExecuteError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeOrderUnavailable, execErr.Code)

	res, err := p.Plan(context.Background(), PlanRequest{Items: items, Taker: testTaker, Partial: true})
	require.NoError(t, err)
	require.Len(t, res.Path, 1)
	assert.Equal(t, "bid-1", res.Path[0].OrderID)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].ItemIndex)
	assert.Equal(t, CodeOrderUnavailable, res.Errors[0].Code)
}

func TestNetPriceFeesAndRoyalties(t *testing.T) {
	o := bid("bid-1", testMaker, 10000, 1)
	o.FeeBps = 250
	o.MissingRoyalties = []domain.FeeAmount{
		{Recipient: common.HexToAddress("0x9999"), Amount: big.NewInt(100)},
	}
	orders := &fakeOrders{bids: []domain.Order{o}}
	p := newTestPlanner(orders, &fakeTokens{}, &fakeBalances{})

	res, err := p.Plan(context.Background(), PlanRequest{
		Items: []FillItem{tokenItem(1)},
		Taker: testTaker,
	})
	require.NoError(t, err)
	require.Len(t, res.Path, 1)
	assert.Equal(t, int64(9750), res.Path[0].NetPrice.Int64())

	res, err = p.Plan(context.Background(), PlanRequest{
		Items:              []FillItem{tokenItem(1)},
		Taker:              testTaker,
		NormalizeRoyalties: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Path, 1)
	assert.Equal(t, int64(9650), res.Path[0].NetPrice.Int64())
}

func TestFeesOnTopReduceNetAmount(t *testing.T) {
	p := newTestPlanner(
		&fakeOrders{bids: []domain.Order{bid("bid-1", testMaker, 1000, 1)}},
		&fakeTokens{},
		&fakeBalances{},
	)

	res, err := p.Plan(context.Background(), PlanRequest{
		Items: []FillItem{tokenItem(1)},
		Taker: testTaker,
		FeesOnTop: []domain.FeeAmount{
			{Recipient: common.HexToAddress("0x8888"), Amount: big.NewInt(50)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.GrossAmount.Int64())
	assert.Equal(t, int64(950), res.NetAmount.Int64())
}

func TestStepDedupAndElision(t *testing.T) {
	p := newTestPlanner(
		&fakeOrders{bids: []domain.Order{
			bid("bid-1", testMaker, 100, 1),
			bid("bid-2", common.HexToAddress("0x4444"), 90, 1),
		}},
		&fakeTokens{},
		&fakeBalances{},
	)

	res, err := p.Plan(context.Background(), PlanRequest{
		Items: []FillItem{tokenItem(2)},
		Taker: testTaker,
	})
	require.NoError(t, err)
	require.Len(t, res.Path, 2)

	// No protocol in the batch requires auth, so the auth step is elided
	// and the plan starts at the approval step.
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepNftApproval, res.Steps[0].ID)
	assert.Equal(t, StepSale, res.Steps[1].ID)

	// Both allocations share one collection, the identical approval
	// payloads merge into a single item attributed to both path entries.
	require.Len(t, res.Steps[0].Items, 1)
	assert.Equal(t, []int{0, 1}, res.Steps[0].Items[0].OrderIndexes)
	assert.Equal(t, StatusIncomplete, res.Steps[0].Items[0].Status)

	// Same protocol kind settles in one transaction.
	require.Len(t, res.Steps[1].Items, 1)
	assert.Equal(t, []int{0, 1}, res.Steps[1].Items[0].OrderIndexes)
}

func TestOnlyPathSkipsSteps(t *testing.T) {
	p := newTestPlanner(
		&fakeOrders{bids: []domain.Order{bid("bid-1", testMaker, 100, 1)}},
		&fakeTokens{},
		&fakeBalances{},
	)

	res, err := p.Plan(context.Background(), PlanRequest{
		Items:    []FillItem{tokenItem(1)},
		Taker:    testTaker,
		OnlyPath: true,
	})
	require.NoError(t, err)
	assert.Len(t, res.Path, 1)
	assert.Empty(t, res.Steps)
}

func TestNothingFillableFailsEvenInPartialMode(t *testing.T) {
	p := newTestPlanner(&fakeOrders{}, &fakeTokens{}, &fakeBalances{})

	_, err := p.Plan(context.Background(), PlanRequest{
		Items:   []FillItem{tokenItem(1)},
		Taker:   testTaker,
		Partial: true,
	})
	var execErr *ExecuteError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeQuantityUnmet, execErr.Code)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}
