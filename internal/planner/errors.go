package planner

import "fmt"

// ErrorCode classifies a planning failure so callers can selectively
// exclude failing items and retry.
type ErrorCode string

const (
	// CodeQuantityUnmet means the requested quantity could not be satisfied
	// from available orders.
	CodeQuantityUnmet ErrorCode = "unable-to-fill"
	// CodeOwnOrders means the shortfall was caused entirely by orders the
	// taker made themselves.
	CodeOwnOrders ErrorCode = "taker-owns-orders"
	// CodeFlaggedToken means the token is flagged and the matched protocol
	// refuses flagged fills.
	CodeFlaggedToken ErrorCode = "flagged-token"
	// CodeOrderUnavailable means an explicitly requested order is missing,
	// unfillable, or reserved for someone else.
	CodeOrderUnavailable ErrorCode = "order-unavailable"
	// CodeRawOrderRejected means an unindexed order payload failed
	// validation.
	CodeRawOrderRejected ErrorCode = "raw-order-rejected"
	// CodeUnsupportedCurrency means the order settles in a currency the
	// request excluded.
	CodeUnsupportedCurrency ErrorCode = "unsupported-currency"
	// CodeUnknownToken means token metadata needed for validation could not
	// be read.
	CodeUnknownToken ErrorCode = "unknown-token"
)

// ExecuteError aborts a whole planning request when partial mode is off.
type ExecuteError struct {
	Code    ErrorCode
	Message string
}

func (e *ExecuteError) Error() string {
	return fmt.Sprintf("planner: %s: %s", e.Code, e.Message)
}

func execErr(code ErrorCode, message string) *ExecuteError {
	return &ExecuteError{Code: code, Message: message}
}

// ItemError is a per-item failure collected in partial mode.
type ItemError struct {
	ItemIndex int       `json:"itemIndex"`
	OrderID   string    `json:"orderId,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
}
