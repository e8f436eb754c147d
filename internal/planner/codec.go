package planner

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// TxData is a transaction payload the caller must execute, produced by the
// protocol codec.
type TxData struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *big.Int       `json:"value,omitempty"`
}

// payloadKey identifies structurally identical transactions for step
// deduplication.
func (t *TxData) payloadKey() string {
	v := "0"
	if t.Value != nil {
		v = t.Value.String()
	}
	return t.To.Hex() + ":" + hexutil.Encode(t.Data) + ":" + v
}

// OrderCodec encapsulates everything protocol-specific about turning
// allocations into executable transactions. The planner never inspects raw
// order payloads itself.
type OrderCodec interface {
	// DecodeRaw validates an unindexed order payload and returns it in the
	// stored-order shape.
	DecodeRaw(kind domain.OrderKind, data json.RawMessage) (*domain.Order, error)

	// PoolPrices returns the per-unit price ladder of a pool order, best
	// unit first.
	PoolPrices(order *domain.Order) ([]*big.Int, error)

	// RequiresAuth reports whether filling through this protocol is gated on
	// an out-of-band auth challenge.
	RequiresAuth(kind domain.OrderKind) bool

	// AuthTx returns the auth challenge payload for the taker.
	AuthTx(taker common.Address) (*TxData, error)

	// ApprovalTx returns the transfer approval the taker needs before the
	// protocol can move tokens from the given contract, or nil when no
	// approval is needed.
	ApprovalTx(kind domain.OrderKind, owner, contract common.Address) (*TxData, error)

	// FillTx returns the settlement transaction for a batch of allocations
	// sharing one protocol kind.
	FillTx(taker common.Address, allocs []Allocation) (*TxData, error)
}
