// Package service applies the order-status transitions driven by ingested
// canonical events. The pipeline persists events first, then hands the batch
// here; transitions are idempotent so replays after a retry are harmless.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// OrderStatusService transitions stored orders in response to fills and
// cancellations.
type OrderStatusService struct {
	orders domain.OrderStore
	logger *slog.Logger
}

// NewOrderStatusService creates an OrderStatusService.
func NewOrderStatusService(orders domain.OrderStore, logger *slog.Logger) *OrderStatusService {
	return &OrderStatusService{
		orders: orders,
		logger: logger.With("component", "order_status"),
	}
}

// ApplyBatch applies every order transition implied by the batch, in the
// same order the events were persisted: fills first, then hash cancels,
// then nonce and bulk cancels. A fill and a cancel of the same order in one
// range therefore never suppresses the fill's quantity accounting.
func (s *OrderStatusService) ApplyBatch(ctx context.Context, batch *domain.EventBatch) error {
	for _, fill := range batch.Fills {
		if fill.OrderID == "" {
			continue
		}
		err := s.orders.ApplyFill(ctx, fill.OrderID, fill.Amount)
		if errors.Is(err, domain.ErrNotFound) {
			// Fill for an order we never indexed. Nothing to transition.
			continue
		}
		if err != nil {
			return fmt.Errorf("service: apply fill %s: %w", fill.OrderID, err)
		}
	}

	for _, cancel := range batch.Cancels {
		err := s.orders.CancelByID(ctx, cancel.OrderID, "cancel")
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("service: cancel %s: %w", cancel.OrderID, err)
		}
	}

	for _, nc := range batch.NonceCancels {
		n, err := s.orders.CancelByNonce(ctx, nc.OrderKind, nc.Maker, nc.Nonce)
		if err != nil {
			return fmt.Errorf("service: nonce cancel %s/%s: %w", nc.Maker, nc.Nonce, err)
		}
		if n > 0 {
			s.logger.Debug("cancelled orders by nonce",
				"kind", string(nc.OrderKind),
				"maker", nc.Maker.Hex(),
				"nonce", nc.Nonce.String(),
				"count", n)
		}
	}

	for _, bc := range batch.BulkCancels {
		n, err := s.orders.CancelBelowNonce(ctx, bc.OrderKind, bc.Maker, bc.MinNonce)
		if err != nil {
			return fmt.Errorf("service: bulk cancel %s below %s: %w", bc.Maker, bc.MinNonce, err)
		}
		if n > 0 {
			s.logger.Debug("cancelled orders below nonce",
				"kind", string(bc.OrderKind),
				"maker", bc.Maker.Hex(),
				"min_nonce", bc.MinNonce.String(),
				"count", n)
		}
	}

	return nil
}
