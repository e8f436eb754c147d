package domain

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FillabilityStatus tracks whether an order can still be filled on-chain.
type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityFilled    FillabilityStatus = "filled"
	FillabilityCancelled FillabilityStatus = "cancelled"
	FillabilityExpired   FillabilityStatus = "expired"
	FillabilityNoBalance FillabilityStatus = "no-balance"
)

// ApprovalStatus tracks whether the maker has granted the protocol the
// approvals a fill would need.
type ApprovalStatus string

const (
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalNoApproval ApprovalStatus = "no-approval"
	ApprovalDisabled   ApprovalStatus = "disabled"
)

// Fee is a built-in order fee expressed in basis points of the gross price.
type Fee struct {
	Recipient common.Address `json:"recipient"`
	Bps       int64          `json:"bps"`
}

// FeeAmount is an absolute fee, used for on-top fees and missing royalties.
type FeeAmount struct {
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
}

// Order is a stored, protocol-agnostic order. Price is the gross per-unit
// price, Value the maker-side net of built-in fees, NormalizedValue the net
// after additionally deducting MissingRoyalties. RawData keeps the protocol
// payload opaque for the codec layer.
type Order struct {
	ID                string            `json:"id"`
	Kind              OrderKind         `json:"kind"`
	Side              OrderSide         `json:"side"`
	Maker             common.Address    `json:"maker"`
	Taker             common.Address    `json:"taker"`
	Contract          common.Address    `json:"contract"`
	TokenID           *big.Int          `json:"tokenId"`
	TokenKind         ContractKind      `json:"tokenKind"`
	Price             *big.Int          `json:"price"`
	Value             *big.Int          `json:"value"`
	NormalizedValue   *big.Int          `json:"normalizedValue,omitempty"`
	Currency          common.Address    `json:"currency"`
	CurrencyPrice     *big.Int          `json:"currencyPrice,omitempty"`
	FeeBps            int64             `json:"feeBps"`
	FeeBreakdown      []Fee             `json:"feeBreakdown,omitempty"`
	MissingRoyalties  []FeeAmount       `json:"missingRoyalties,omitempty"`
	Nonce             *big.Int          `json:"nonce,omitempty"`
	QuantityRemaining *big.Int          `json:"quantityRemaining"`
	Fillability       FillabilityStatus `json:"fillability"`
	Approval          ApprovalStatus    `json:"approval"`
	Source            string            `json:"source,omitempty"`
	RawData           json.RawMessage   `json:"rawData,omitempty"`
}

// Open reports whether the order is currently fillable and approved.
func (o *Order) Open() bool {
	return o.Fillability == FillabilityFillable && o.Approval == ApprovalApproved
}

// Reserved reports whether the order is restricted to a specific taker
// other than addr.
func (o *Order) Reserved(addr common.Address) bool {
	return o.Taker != (common.Address{}) && o.Taker != addr
}
