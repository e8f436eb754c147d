package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// EventStore implements domain.EventStore. Inserts rely on the shared
// natural key's ON CONFLICT DO NOTHING, so replaying a range never
// duplicates events or their side effects.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

var _ domain.EventStore = (*EventStore)(nil)

func (s *EventStore) AddFills(ctx context.Context, events []domain.FillEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fill_events (
			block, block_hash, tx_hash, tx_index, log_index, batch_index,
			address, "timestamp", order_kind, order_id, order_side,
			maker, taker, currency, price, contract, token_id, amount,
			fill_source, aggregator
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, NULLIF($10, ''), $11,
			$12, $13, $14, $15::numeric, $16, $17::numeric, $18::numeric,
			NULLIF($19, ''), NULLIF($20, '')
		) ON CONFLICT (block_hash, tx_hash, log_index, batch_index) DO NOTHING`

	for _, e := range events {
		batch.Queue(query,
			e.Base.Block, hashStr(e.Base.BlockHash), hashStr(e.Base.TxHash),
			e.Base.TxIndex, e.Base.LogIndex, e.Base.BatchIndex,
			addrStr(e.Base.Address), e.Base.Timestamp, string(e.OrderKind),
			e.OrderID, string(e.OrderSide),
			addrStr(e.Maker), addrStr(e.Taker), addrStr(e.Currency),
			numStr(e.Price), addrStr(e.Contract), numStr(e.TokenID), numStr(e.Amount),
			e.FillSource, e.Aggregator,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill event %d: %w", i, err)
		}
	}
	return nil
}

func (s *EventStore) AddCancels(ctx context.Context, events []domain.CancelEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO cancel_events (
			block, block_hash, tx_hash, tx_index, log_index, batch_index,
			address, "timestamp", order_kind, order_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (block_hash, tx_hash, log_index, batch_index) DO NOTHING`

	for _, e := range events {
		batch.Queue(query,
			e.Base.Block, hashStr(e.Base.BlockHash), hashStr(e.Base.TxHash),
			e.Base.TxIndex, e.Base.LogIndex, e.Base.BatchIndex,
			addrStr(e.Base.Address), e.Base.Timestamp, string(e.OrderKind), e.OrderID,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert cancel event %d: %w", i, err)
		}
	}
	return nil
}

func (s *EventStore) AddNonceCancels(ctx context.Context, events []domain.NonceCancelEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO nonce_cancel_events (
			block, block_hash, tx_hash, tx_index, log_index, batch_index,
			address, "timestamp", order_kind, maker, nonce
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric)
		ON CONFLICT (block_hash, tx_hash, log_index, batch_index) DO NOTHING`

	for _, e := range events {
		batch.Queue(query,
			e.Base.Block, hashStr(e.Base.BlockHash), hashStr(e.Base.TxHash),
			e.Base.TxIndex, e.Base.LogIndex, e.Base.BatchIndex,
			addrStr(e.Base.Address), e.Base.Timestamp, string(e.OrderKind),
			addrStr(e.Maker), numStr(e.Nonce),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert nonce cancel event %d: %w", i, err)
		}
	}
	return nil
}

func (s *EventStore) AddBulkCancels(ctx context.Context, events []domain.BulkCancelEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO bulk_cancel_events (
			block, block_hash, tx_hash, tx_index, log_index, batch_index,
			address, "timestamp", order_kind, maker, min_nonce
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric)
		ON CONFLICT (block_hash, tx_hash, log_index, batch_index) DO NOTHING`

	for _, e := range events {
		batch.Queue(query,
			e.Base.Block, hashStr(e.Base.BlockHash), hashStr(e.Base.TxHash),
			e.Base.TxIndex, e.Base.LogIndex, e.Base.BatchIndex,
			addrStr(e.Base.Address), e.Base.Timestamp, string(e.OrderKind),
			addrStr(e.Maker), numStr(e.MinNonce),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert bulk cancel event %d: %w", i, err)
		}
	}
	return nil
}

// AddNftTransfers inserts transfer rows and applies balance deltas for the
// rows that actually inserted, in one transaction. Replayed rows conflict
// away and contribute no delta, which keeps nft_balances consistent under
// retries.
func (s *EventStore) AddNftTransfers(ctx context.Context, events []domain.NftTransferEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin nft transfers: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO nft_transfer_events (
			block, block_hash, tx_hash, tx_index, log_index, batch_index,
			address, "timestamp", kind, "from", "to", token_id, amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13::numeric)
		ON CONFLICT (block_hash, tx_hash, log_index, batch_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			e.Base.Block, hashStr(e.Base.BlockHash), hashStr(e.Base.TxHash),
			e.Base.TxIndex, e.Base.LogIndex, e.Base.BatchIndex,
			addrStr(e.Base.Address), e.Base.Timestamp, string(e.Kind),
			addrStr(e.From), addrStr(e.To), numStr(e.TokenID), numStr(e.Amount),
		)
	}

	br := tx.SendBatch(ctx, batch)
	inserted := make([]domain.NftTransferEvent, 0, len(events))
	for i, e := range events {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert nft transfer event %d: %w", i, err)
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, e)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close nft transfer batch: %w", err)
	}

	if err := applyBalanceDeltas(ctx, tx, BalanceDeltas(inserted, false)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit nft transfers: %w", err)
	}
	return nil
}

func applyBalanceDeltas(ctx context.Context, tx pgx.Tx, deltas map[BalanceKey]*big.Int) error {
	if len(deltas) == 0 {
		return nil
	}
	const query = `
		INSERT INTO nft_balances (contract, token_id, owner, amount, updated_at)
		VALUES ($1, $2::numeric, $3, $4::numeric, NOW())
		ON CONFLICT (contract, token_id, owner)
		DO UPDATE SET amount = nft_balances.amount + EXCLUDED.amount, updated_at = NOW()`

	batch := &pgx.Batch{}
	for key, delta := range deltas {
		batch.Queue(query, addrStr(key.Contract), key.TokenID, addrStr(key.Owner), delta.String())
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range deltas {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: apply balance delta: %w", err)
		}
	}
	return nil
}

func (s *EventStore) AddFtTransfers(ctx context.Context, events []domain.FtTransferEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO ft_transfer_events (
			block, block_hash, tx_hash, tx_index, log_index, batch_index,
			address, "timestamp", "from", "to", amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric)
		ON CONFLICT (block_hash, tx_hash, log_index, batch_index) DO NOTHING`

	for _, e := range events {
		batch.Queue(query,
			e.Base.Block, hashStr(e.Base.BlockHash), hashStr(e.Base.TxHash),
			e.Base.TxIndex, e.Base.LogIndex, e.Base.BatchIndex,
			addrStr(e.Base.Address), e.Base.Timestamp,
			addrStr(e.From), addrStr(e.To), numStr(e.Amount),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert ft transfer event %d: %w", i, err)
		}
	}
	return nil
}

func (s *EventStore) AddNftApprovals(ctx context.Context, events []domain.NftApprovalEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO nft_approval_events (
			block, block_hash, tx_hash, tx_index, log_index, batch_index,
			address, "timestamp", owner, operator, approved
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (block_hash, tx_hash, log_index, batch_index) DO NOTHING`

	for _, e := range events {
		batch.Queue(query,
			e.Base.Block, hashStr(e.Base.BlockHash), hashStr(e.Base.TxHash),
			e.Base.TxIndex, e.Base.LogIndex, e.Base.BatchIndex,
			addrStr(e.Base.Address), e.Base.Timestamp,
			addrStr(e.Owner), addrStr(e.Operator), e.Approved,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert nft approval event %d: %w", i, err)
		}
	}
	return nil
}

// RemoveEvents deletes everything ingested under (block, blockHash) and
// reverses the balance deltas the deleted transfers once applied, all in
// one transaction.
func (s *EventStore) RemoveEvents(ctx context.Context, block uint64, blockHash common.Hash) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin remove events: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	hash := hashStr(blockHash)

	rows, err := tx.Query(ctx, `
		SELECT address, "from", "to", token_id::text, amount::text
		FROM nft_transfer_events WHERE block = $1 AND block_hash = $2`,
		block, hash)
	if err != nil {
		return fmt.Errorf("postgres: select transfers for removal: %w", err)
	}
	var transfers []domain.NftTransferEvent
	for rows.Next() {
		var (
			address, from, to string
			tokenID, amount   string
		)
		if err := rows.Scan(&address, &from, &to, &tokenID, &amount); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan transfer for removal: %w", err)
		}
		transfers = append(transfers, domain.NftTransferEvent{
			Base:    domain.BaseEventParams{Address: common.HexToAddress(address)},
			From:    common.HexToAddress(from),
			To:      common.HexToAddress(to),
			TokenID: parseNum(tokenID),
			Amount:  parseNum(amount),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: iterate transfers for removal: %w", err)
	}

	if err := applyBalanceDeltas(ctx, tx, BalanceDeltas(transfers, true)); err != nil {
		return err
	}

	for _, table := range []string{
		"fill_events", "cancel_events", "nonce_cancel_events",
		"bulk_cancel_events", "nft_transfer_events", "ft_transfer_events",
		"nft_approval_events",
	} {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE block = $1 AND block_hash = $2`, table),
			block, hash); err != nil {
			return fmt.Errorf("postgres: delete %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit remove events: %w", err)
	}
	return nil
}

const fillSelectCols = `block, block_hash, tx_hash, tx_index, log_index, batch_index,
	address, "timestamp", order_kind, COALESCE(order_id, ''), order_side,
	maker, taker, currency, price::text, contract, token_id::text, amount::text,
	COALESCE(fill_source, ''), COALESCE(aggregator, '')`

func scanFillRows(rows pgx.Rows) ([]domain.FillEvent, error) {
	var fills []domain.FillEvent
	for rows.Next() {
		var (
			e                                 domain.FillEvent
			blockHash, txHash                 string
			address, maker, taker, currency   string
			contract, price, tokenID, amount  string
			orderKind, orderSide              string
		)
		if err := rows.Scan(
			&e.Base.Block, &blockHash, &txHash, &e.Base.TxIndex,
			&e.Base.LogIndex, &e.Base.BatchIndex, &address, &e.Base.Timestamp,
			&orderKind, &e.OrderID, &orderSide,
			&maker, &taker, &currency, &price, &contract, &tokenID, &amount,
			&e.FillSource, &e.Aggregator,
		); err != nil {
			return nil, err
		}
		e.Base.BlockHash = common.HexToHash(blockHash)
		e.Base.TxHash = common.HexToHash(txHash)
		e.Base.Address = common.HexToAddress(address)
		e.OrderKind = domain.OrderKind(orderKind)
		e.OrderSide = domain.OrderSide(orderSide)
		e.Maker = common.HexToAddress(maker)
		e.Taker = common.HexToAddress(taker)
		e.Currency = common.HexToAddress(currency)
		e.Price = parseNum(price)
		e.Contract = common.HexToAddress(contract)
		e.TokenID = parseNum(tokenID)
		e.Amount = parseNum(amount)
		fills = append(fills, e)
	}
	return fills, rows.Err()
}

// FillsBefore returns fill events older than the cutoff, oldest first, for
// cold-storage export.
func (s *EventStore) FillsBefore(ctx context.Context, before time.Time, limit int) ([]domain.FillEvent, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fill_events WHERE "timestamp" < $1 ORDER BY "timestamp" ASC`
	args := []any{before.Unix()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()
	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills before: %w", err)
	}
	return fills, nil
}

// DeleteFillsBefore deletes archived fill events older than the cutoff and
// returns the number removed.
func (s *EventStore) DeleteFillsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fill_events WHERE "timestamp" < $1`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}
