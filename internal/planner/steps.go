package planner

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Step ids, in dependency order.
const (
	StepAuth        = "auth"
	StepNftApproval = "nft-approval"
	StepSale        = "sale"
)

// Item statuses.
const (
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
)

// StepItem is one action within a step. OrderIndexes attribute the item to
// positions in the allocation path; structurally identical payloads are
// merged and carry all their indexes.
type StepItem struct {
	Status       string  `json:"status"`
	Data         *TxData `json:"data,omitempty"`
	OrderIndexes []int   `json:"orderIndexes,omitempty"`
}

// Step is one named phase of the execution plan.
type Step struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"`
	Description string     `json:"description"`
	Items       []StepItem `json:"items"`
}

// stepBuilder accumulates items for one step, deduplicating structurally
// identical payloads by merging their order indexes.
type stepBuilder struct {
	step Step
	seen map[string]int
}

func newStepBuilder(id, action, description string) *stepBuilder {
	return &stepBuilder{
		step: Step{ID: id, Action: action, Description: description},
		seen: make(map[string]int),
	}
}

func (b *stepBuilder) add(data *TxData, orderIndexes ...int) {
	key := data.payloadKey()
	if at, ok := b.seen[key]; ok {
		b.step.Items[at].OrderIndexes = append(b.step.Items[at].OrderIndexes, orderIndexes...)
		return
	}
	b.seen[key] = len(b.step.Items)
	b.step.Items = append(b.step.Items, StepItem{
		Status:       StatusIncomplete,
		Data:         data,
		OrderIndexes: orderIndexes,
	})
}

// assembleSteps turns the allocation path into the dependency-ordered step
// plan. Empty steps are elided unless they gate the whole plan: the auth
// step survives empty only when some protocol in the batch actually
// requires auth, so pollers never see step indexes shift for unrelated
// requests.
func assembleSteps(codec OrderCodec, taker common.Address, path []Allocation) ([]Step, error) {
	authNeeded := false
	for _, a := range path {
		if codec.RequiresAuth(a.Kind) {
			authNeeded = true
			break
		}
	}

	auth := newStepBuilder(StepAuth, "Sign in", "Authorize access to the marketplace")
	if authNeeded {
		tx, err := codec.AuthTx(taker)
		if err != nil {
			return nil, fmt.Errorf("auth payload: %w", err)
		}
		if tx != nil {
			auth.add(tx)
		}
	}

	approvals := newStepBuilder(StepNftApproval, "Approve NFT contract", "Each NFT collection you want to trade requires a one-time approval")
	for i, a := range path {
		tx, err := codec.ApprovalTx(a.Kind, taker, a.Contract)
		if err != nil {
			return nil, fmt.Errorf("approval payload for %s: %w", a.OrderID, err)
		}
		if tx == nil {
			continue
		}
		approvals.add(tx, i)
	}

	sale := newStepBuilder(StepSale, "Accept offer", "To sell these items you must confirm the transaction and pay the gas fee")
	for _, group := range groupByKind(path) {
		tx, err := codec.FillTx(taker, group.allocs)
		if err != nil {
			return nil, fmt.Errorf("fill payload for %s: %w", group.kind, err)
		}
		sale.add(tx, group.indexes...)
	}

	var steps []Step
	if authNeeded || len(auth.step.Items) > 0 {
		steps = append(steps, auth.step)
	}
	for _, b := range []*stepBuilder{approvals, sale} {
		if len(b.step.Items) > 0 {
			steps = append(steps, b.step)
		}
	}
	return steps, nil
}

type kindGroup struct {
	kind    domain.OrderKind
	allocs  []Allocation
	indexes []int
}

// groupByKind batches allocations per protocol kind, preserving first-seen
// order so the settlement transactions execute in path order.
func groupByKind(path []Allocation) []*kindGroup {
	var (
		groups []*kindGroup
		byKind = make(map[domain.OrderKind]*kindGroup)
	)
	for i, a := range path {
		g, ok := byKind[a.Kind]
		if !ok {
			g = &kindGroup{kind: a.Kind}
			byKind[a.Kind] = g
			groups = append(groups, g)
		}
		g.allocs = append(g.allocs, a)
		g.indexes = append(g.indexes, i)
	}
	return groups
}
