// Package planner turns fill intents into ordered allocations against the
// stored order book and assembles the executable step plan. All simulation
// state (maker balances, pool price cursors, per-order filled quantities) is
// scoped to a single Plan call, so concurrent requests never interfere.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// TokenRef identifies one token.
type TokenRef struct {
	Contract common.Address `json:"contract"`
	TokenID  *big.Int       `json:"tokenId"`
}

// RawOrder is an unindexed order payload submitted directly by the caller.
type RawOrder struct {
	Kind domain.OrderKind `json:"kind"`
	Data json.RawMessage  `json:"data"`
}

// FillItem is one entry of a fill intent. Exactly one of RawOrder, OrderID,
// or Token selects the orders to fill against; Token means "best available".
type FillItem struct {
	RawOrder *RawOrder `json:"rawOrder,omitempty"`
	OrderID  string    `json:"orderId,omitempty"`
	Token    *TokenRef `json:"token,omitempty"`
	// Quantity defaults to 1.
	Quantity int64 `json:"quantity,omitempty"`
}

// PlanRequest is a full fill intent.
type PlanRequest struct {
	Items []FillItem
	Taker common.Address

	// Partial collects per-item errors instead of aborting on the first.
	Partial bool
	// NormalizeRoyalties ranks and nets orders after deducting missing
	// royalty payments.
	NormalizeRoyalties bool
	// ExcludeEOA skips orders that can only be settled by an externally
	// owned account, for takers that are contracts.
	ExcludeEOA bool
	// OnlyPath skips step assembly.
	OnlyPath bool
	// AllowFlagged permits matching flagged tokens against protocols that
	// normally refuse them.
	AllowFlagged bool
	// Currency restricts allocations to orders settling in this currency.
	Currency *common.Address
	// FeesOnTop are caller-supplied absolute fees deducted from the net
	// proceeds.
	FeesOnTop []domain.FeeAmount
}

// Allocation is one (order, quantity, price) assignment. Insertion order is
// the execution and display order.
type Allocation struct {
	OrderID     string           `json:"orderId"`
	Kind        domain.OrderKind `json:"kind"`
	Maker       common.Address   `json:"maker"`
	Contract    common.Address   `json:"contract"`
	TokenID     *big.Int         `json:"tokenId"`
	Quantity    int64            `json:"quantity"`
	UnitPrice   *big.Int         `json:"unitPrice"`
	NetPrice    *big.Int         `json:"netPrice"`
	Currency    common.Address   `json:"currency"`
	Source      string           `json:"source,omitempty"`
	BuiltInFees []domain.Fee     `json:"builtInFees,omitempty"`
	Royalties   []domain.FeeAmount `json:"royalties,omitempty"`
	GrossQuote  *big.Int         `json:"grossQuote"`
	NetQuote    *big.Int         `json:"netQuote"`
}

// PlanResult is the planner output: the allocation path, the step plan, and
// per-item errors collected in partial mode.
type PlanResult struct {
	RequestID   string             `json:"requestId"`
	Path        []Allocation       `json:"path"`
	Steps       []Step             `json:"steps,omitempty"`
	Errors      []ItemError        `json:"errors,omitempty"`
	GrossAmount *big.Int           `json:"grossAmount"`
	NetAmount   *big.Int           `json:"netAmount"`
	FeesOnTop   []domain.FeeAmount `json:"feesOnTop,omitempty"`
}

// Planner plans fill paths against the stored order book.
type Planner struct {
	orders        domain.OrderStore
	tokens        domain.TokenStore
	balances      domain.FtBalanceReader
	codec         OrderCodec
	maxCandidates int
	log           *slog.Logger
}

// New creates a Planner. maxCandidates caps how many bids are considered
// per bare-token item.
func New(orders domain.OrderStore, tokens domain.TokenStore, balances domain.FtBalanceReader, codec OrderCodec, maxCandidates int, log *slog.Logger) *Planner {
	return &Planner{
		orders:        orders,
		tokens:        tokens,
		balances:      balances,
		codec:         codec,
		maxCandidates: maxCandidates,
		log:           log.With("component", "planner"),
	}
}

// planState holds the per-call simulation maps. Never shared across calls.
type planState struct {
	// quantityFilled tracks units already allocated per order id within
	// this call, so one order is never over-allocated across items.
	quantityFilled map[string]int64
	// makerBalances simulates each (maker, currency) balance as
	// allocations consume it.
	makerBalances map[string]*big.Int
	// poolCursors index into each pool's price ladder, advanced per unit.
	poolCursors map[string]int
	poolLadders map[string][]*big.Int
	// flagged caches per-token flag lookups.
	flagged map[string]bool
}

func newPlanState() *planState {
	return &planState{
		quantityFilled: make(map[string]int64),
		makerBalances:  make(map[string]*big.Int),
		poolCursors:    make(map[string]int),
		poolLadders:    make(map[string][]*big.Int),
		flagged:        make(map[string]bool),
	}
}

func balanceKey(maker, currency common.Address) string {
	return maker.Hex() + "|" + currency.Hex()
}

func tokenKey(contract common.Address, tokenID *big.Int) string {
	return contract.Hex() + "|" + tokenID.String()
}

// Plan computes the allocation path for the request. Outside partial mode
// the first item failure aborts with an *ExecuteError; in partial mode item
// failures are collected and planning continues.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	result := &PlanResult{
		RequestID:   uuid.NewString(),
		GrossAmount: new(big.Int),
		NetAmount:   new(big.Int),
		FeesOnTop:   req.FeesOnTop,
	}
	st := newPlanState()

	for i, item := range req.Items {
		allocs, itemErr := p.planItem(ctx, req, st, i, item)
		if itemErr != nil {
			if !req.Partial {
				return nil, execErr(itemErr.Code, itemErr.Message)
			}
			result.Errors = append(result.Errors, *itemErr)
		}
		result.Path = append(result.Path, allocs...)
	}

	if len(result.Path) == 0 && len(req.Items) > 0 {
		// Partial mode with nothing fillable still fails the request.
		first := CodeQuantityUnmet
		msg := "unable to fill requested quantity"
		if len(result.Errors) > 0 {
			first = result.Errors[0].Code
			msg = result.Errors[0].Message
		}
		return nil, execErr(first, msg)
	}

	for _, a := range result.Path {
		result.GrossAmount.Add(result.GrossAmount, a.GrossQuote)
		result.NetAmount.Add(result.NetAmount, a.NetQuote)
	}
	for _, fee := range req.FeesOnTop {
		result.NetAmount.Sub(result.NetAmount, fee.Amount)
	}

	if !req.OnlyPath {
		steps, err := assembleSteps(p.codec, req.Taker, result.Path)
		if err != nil {
			return nil, fmt.Errorf("planner: assemble steps: %w", err)
		}
		result.Steps = steps
	}

	p.log.Debug("planned fill path",
		"request_id", result.RequestID,
		"items", len(req.Items),
		"allocations", len(result.Path),
		"errors", len(result.Errors))
	return result, nil
}

// planItem resolves one item into allocations. It returns the allocations
// made so far plus a non-nil *ItemError on shortfall or validation failure;
// partial allocations are kept either way, the caller decides whether the
// error aborts.
func (p *Planner) planItem(ctx context.Context, req PlanRequest, st *planState, index int, item FillItem) ([]Allocation, *ItemError) {
	wanted := item.Quantity
	if wanted <= 0 {
		wanted = 1
	}

	var (
		candidates []domain.Order
		explicit   bool
	)
	switch {
	case item.RawOrder != nil:
		order, err := p.codec.DecodeRaw(item.RawOrder.Kind, item.RawOrder.Data)
		if err != nil {
			return nil, &ItemError{ItemIndex: index, Code: CodeRawOrderRejected, Message: err.Error()}
		}
		candidates = []domain.Order{*order}
		explicit = true

	case item.OrderID != "":
		order, err := p.orders.OrderByID(ctx, item.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &ItemError{ItemIndex: index, OrderID: item.OrderID, Code: CodeOrderUnavailable, Message: "order not found"}
		}
		if err != nil {
			return nil, &ItemError{ItemIndex: index, OrderID: item.OrderID, Code: CodeOrderUnavailable, Message: err.Error()}
		}
		candidates = []domain.Order{*order}
		explicit = true

	case item.Token != nil:
		bids, err := p.orders.TokenBids(ctx, domain.BidQuery{
			Contract:   item.Token.Contract,
			TokenID:    item.Token.TokenID,
			Taker:      req.Taker,
			Normalized: req.NormalizeRoyalties,
			Limit:      p.maxCandidates,
		})
		if err != nil {
			return nil, &ItemError{ItemIndex: index, Code: CodeOrderUnavailable, Message: err.Error()}
		}
		candidates = bids

	default:
		return nil, &ItemError{ItemIndex: index, Code: CodeRawOrderRejected, Message: "item selects no order or token"}
	}

	var (
		allocated   int64
		allocs      []Allocation
		selfSkipped bool
		otherSeen   bool
		lastErr     *ItemError
	)
	for ci := range candidates {
		if allocated >= wanted {
			break
		}
		o := &candidates[ci]

		if o.Maker == req.Taker {
			selfSkipped = true
			if explicit {
				return allocs, &ItemError{ItemIndex: index, OrderID: o.ID, Code: CodeOwnOrders, Message: "taker cannot fill own orders"}
			}
			continue
		}
		otherSeen = true

		if verr := p.validateOrder(ctx, req, st, o); verr != nil {
			verr.ItemIndex = index
			if explicit {
				return allocs, verr
			}
			lastErr = verr
			continue
		}

		got, err := p.consume(ctx, st, req, o, wanted-allocated)
		if err != nil {
			ierr := &ItemError{ItemIndex: index, OrderID: o.ID, Code: CodeOrderUnavailable, Message: err.Error()}
			if explicit {
				return allocs, ierr
			}
			lastErr = ierr
			continue
		}
		allocated += got.quantity
		allocs = append(allocs, got.allocations...)
	}

	if allocated < wanted {
		if lastErr != nil {
			return allocs, lastErr
		}
		if selfSkipped && !otherSeen {
			return allocs, &ItemError{ItemIndex: index, Code: CodeOwnOrders, Message: "taker cannot fill own orders"}
		}
		return allocs, &ItemError{ItemIndex: index, Code: CodeQuantityUnmet, Message: "unable to fill requested quantity"}
	}
	return allocs, nil
}

// validateOrder applies the per-order checks that do not depend on quantity.
func (p *Planner) validateOrder(ctx context.Context, req PlanRequest, st *planState, o *domain.Order) *ItemError {
	if !o.Open() {
		return &ItemError{OrderID: o.ID, Code: CodeOrderUnavailable, Message: "order is not fillable"}
	}
	if o.Reserved(req.Taker) {
		return &ItemError{OrderID: o.ID, Code: CodeOrderUnavailable, Message: "order is reserved for another taker"}
	}
	if req.Currency != nil && o.Currency != *req.Currency {
		return &ItemError{OrderID: o.ID, Code: CodeUnsupportedCurrency, Message: "order settles in a different currency"}
	}
	// Blur bids settle maker-side and can only be taken by an EOA.
	if req.ExcludeEOA && o.Source == "blur" {
		return &ItemError{OrderID: o.ID, Code: CodeOrderUnavailable, Message: "order requires an EOA taker"}
	}

	if o.Kind.DisallowsFlagged() && !req.AllowFlagged {
		key := tokenKey(o.Contract, o.TokenID)
		flagged, ok := st.flagged[key]
		if !ok {
			var err error
			flagged, err = p.tokens.IsFlagged(ctx, o.Contract, o.TokenID)
			if err != nil {
				return &ItemError{OrderID: o.ID, Code: CodeUnknownToken, Message: "token flag status unavailable"}
			}
			st.flagged[key] = flagged
		}
		if flagged {
			return &ItemError{OrderID: o.ID, Code: CodeFlaggedToken, Message: "token is flagged"}
		}
	}
	return nil
}

type consumed struct {
	quantity    int64
	allocations []Allocation
}

// consume allocates up to wanted units from the order, honoring the
// per-order remaining quantity, the maker balance simulation, and pool
// price ladders.
func (p *Planner) consume(ctx context.Context, st *planState, req PlanRequest, o *domain.Order, wanted int64) (consumed, error) {
	remaining := orderRemaining(o) - st.quantityFilled[o.ID]
	if remaining <= 0 {
		return consumed{}, nil
	}
	take := min64(remaining, wanted)

	if o.Kind.IsPool() {
		return p.consumePool(st, req, o, take)
	}

	unitPrice := o.Price
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return consumed{}, fmt.Errorf("order %s has no price", o.ID)
	}

	// Bound by what the maker can actually pay.
	key := balanceKey(o.Maker, o.Currency)
	balance, ok := st.makerBalances[key]
	if !ok {
		fetched, err := p.balances.FtBalance(ctx, o.Currency, o.Maker)
		if err != nil {
			return consumed{}, fmt.Errorf("maker balance: %w", err)
		}
		balance = new(big.Int).Set(fetched)
		st.makerBalances[key] = balance
	}
	affordable := new(big.Int).Div(balance, unitPrice)
	if !affordable.IsInt64() {
		affordable = big.NewInt(take)
	}
	take = min64(take, affordable.Int64())
	if take <= 0 {
		return consumed{}, nil
	}

	alloc := p.newAllocation(req, o, take, unitPrice)
	balance.Sub(balance, new(big.Int).Mul(unitPrice, big.NewInt(take)))
	st.quantityFilled[o.ID] += take
	return consumed{quantity: take, allocations: []Allocation{alloc}}, nil
}

// consumePool prices each unit from the pool's ladder at the cursor
// position, one allocation per unit. Pools have no maker balance to
// simulate.
func (p *Planner) consumePool(st *planState, req PlanRequest, o *domain.Order, take int64) (consumed, error) {
	ladder, ok := st.poolLadders[o.ID]
	if !ok {
		var err error
		ladder, err = p.codec.PoolPrices(o)
		if err != nil {
			return consumed{}, fmt.Errorf("pool prices: %w", err)
		}
		st.poolLadders[o.ID] = ladder
	}

	var out consumed
	for out.quantity < take {
		cursor := st.poolCursors[o.ID]
		if cursor >= len(ladder) {
			break
		}
		alloc := p.newAllocation(req, o, 1, ladder[cursor])
		out.allocations = append(out.allocations, alloc)
		out.quantity++
		st.poolCursors[o.ID] = cursor + 1
		st.quantityFilled[o.ID]++
	}
	return out, nil
}

// newAllocation computes the fee-adjusted net price and quote totals.
func (p *Planner) newAllocation(req PlanRequest, o *domain.Order, quantity int64, unitPrice *big.Int) Allocation {
	net := new(big.Int).Set(unitPrice)
	if o.FeeBps > 0 {
		fee := new(big.Int).Mul(unitPrice, big.NewInt(o.FeeBps))
		fee.Div(fee, big.NewInt(10000))
		net.Sub(net, fee)
	}
	var royalties []domain.FeeAmount
	if req.NormalizeRoyalties {
		royalties = o.MissingRoyalties
		for _, r := range royalties {
			net.Sub(net, r.Amount)
		}
	}

	qty := big.NewInt(quantity)
	return Allocation{
		OrderID:     o.ID,
		Kind:        o.Kind,
		Maker:       o.Maker,
		Contract:    o.Contract,
		TokenID:     o.TokenID,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		NetPrice:    net,
		Currency:    o.Currency,
		Source:      o.Source,
		BuiltInFees: o.FeeBreakdown,
		Royalties:   royalties,
		GrossQuote:  new(big.Int).Mul(unitPrice, qty),
		NetQuote:    new(big.Int).Mul(net, qty),
	}
}

func orderRemaining(o *domain.Order) int64 {
	if o.QuantityRemaining == nil {
		return 1
	}
	if !o.QuantityRemaining.IsInt64() {
		return 1<<62 - 1
	}
	return o.QuantityRemaining.Int64()
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
