package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// OrderStore implements domain.OrderStore.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

var _ domain.OrderStore = (*OrderStore)(nil)

const orderSelectCols = `id, kind, side, maker, taker, contract,
	token_id::text, COALESCE(token_kind, ''), price::text, value::text,
	normalized_value::text, currency, currency_price::text, fee_bps,
	fee_breakdown, missing_royalties, nonce::text,
	quantity_remaining::text, fillability_status, approval_status,
	COALESCE(source, ''), raw_data`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                                  domain.Order
		kind, side, maker, taker, contract string
		tokenID, tokenKind, price, value   string
		normalizedValue, currencyPrice     *string
		currency                           string
		noncePtr, qty                      *string
		feeBreakdown, missingRoyalties     []byte
		fillability, approval              string
		rawData                            []byte
	)
	err := row.Scan(
		&o.ID, &kind, &side, &maker, &taker, &contract,
		&tokenID, &tokenKind, &price, &value,
		&normalizedValue, &currency, &currencyPrice, &o.FeeBps,
		&feeBreakdown, &missingRoyalties, &noncePtr,
		&qty, &fillability, &approval,
		&o.Source, &rawData,
	)
	if err != nil {
		return nil, err
	}

	o.Kind = domain.OrderKind(kind)
	o.Side = domain.OrderSide(side)
	o.Maker = common.HexToAddress(maker)
	o.Taker = common.HexToAddress(taker)
	o.Contract = common.HexToAddress(contract)
	o.TokenID = parseNum(tokenID)
	o.TokenKind = domain.ContractKind(tokenKind)
	o.Price = parseNum(price)
	o.Value = parseNum(value)
	o.NormalizedValue = parseNumPtr(normalizedValue)
	o.Currency = common.HexToAddress(currency)
	o.CurrencyPrice = parseNumPtr(currencyPrice)
	o.Nonce = parseNumPtr(noncePtr)
	if qty != nil {
		o.QuantityRemaining = parseNum(*qty)
	} else {
		o.QuantityRemaining = big.NewInt(0)
	}
	o.Fillability = domain.FillabilityStatus(fillability)
	o.Approval = domain.ApprovalStatus(approval)
	if len(feeBreakdown) > 0 {
		_ = json.Unmarshal(feeBreakdown, &o.FeeBreakdown)
	}
	if len(missingRoyalties) > 0 {
		_ = json.Unmarshal(missingRoyalties, &o.MissingRoyalties)
	}
	o.RawData = rawData
	return &o, nil
}

func (s *OrderStore) OrderByID(ctx context.Context, id string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: order by id: %w", err)
	}
	return o, nil
}

// TokenBids returns open buy orders for the token, best value first. The
// ordering column follows q.Normalized so royalty-normalized planning sees
// a consistent ranking.
func (s *OrderStore) TokenBids(ctx context.Context, q domain.BidQuery) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE side = 'buy' AND contract = $1 AND token_id = $2::numeric`
	args := []any{addrStr(q.Contract), numStr(q.TokenID)}
	argIdx := 3

	if !q.AllowInactive {
		query += ` AND fillability_status = 'fillable' AND approval_status = 'approved'`
	}

	query += fmt.Sprintf(` AND (taker = '0x0000000000000000000000000000000000000000' OR taker = $%d)`, argIdx)
	args = append(args, addrStr(q.Taker))
	argIdx++

	if len(q.ExcludeIDs) > 0 {
		query += fmt.Sprintf(` AND NOT (id = ANY($%d))`, argIdx)
		args = append(args, q.ExcludeIDs)
		argIdx++
	}

	if q.Normalized {
		query += ` ORDER BY COALESCE(normalized_value, value) DESC`
	} else {
		query += ` ORDER BY value DESC`
	}

	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: token bids: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan token bid: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ResolveByNonce disambiguates same-nonce reposts by also matching the
// fee-exclusive on-chain amount against the order's raw payload, falling
// back to the stored gross price.
func (s *OrderStore) ResolveByNonce(ctx context.Context, kind domain.OrderKind, maker common.Address, nonce *big.Int, contract common.Address, price *big.Int) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderSelectCols+` FROM orders
		WHERE kind = $1 AND maker = $2 AND nonce = $3::numeric AND contract = $4
		  AND (raw_data->>'erc20TokenAmount' = $5 OR price = $5::numeric)
		ORDER BY created_at DESC
		LIMIT 1`,
		string(kind), addrStr(maker), numStr(nonce), addrStr(contract), numStr(price))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: resolve order by nonce: %w", err)
	}
	return o, nil
}

func (s *OrderStore) CancelByID(ctx context.Context, id string, trigger string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE orders SET fillability_status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND fillability_status NOT IN ('filled', 'cancelled')`,
		id)
	if err != nil {
		return fmt.Errorf("postgres: cancel order %s (%s): %w", id, trigger, err)
	}
	return nil
}

func (s *OrderStore) CancelByNonce(ctx context.Context, kind domain.OrderKind, maker common.Address, nonce *big.Int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET fillability_status = 'cancelled', updated_at = NOW()
		WHERE kind = $1 AND maker = $2 AND nonce = $3::numeric
		  AND fillability_status NOT IN ('filled', 'cancelled')`,
		string(kind), addrStr(maker), numStr(nonce))
	if err != nil {
		return 0, fmt.Errorf("postgres: cancel orders by nonce: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *OrderStore) CancelBelowNonce(ctx context.Context, kind domain.OrderKind, maker common.Address, minNonce *big.Int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET fillability_status = 'cancelled', updated_at = NOW()
		WHERE kind = $1 AND maker = $2 AND nonce < $3::numeric
		  AND fillability_status NOT IN ('filled', 'cancelled')`,
		string(kind), addrStr(maker), numStr(minNonce))
	if err != nil {
		return 0, fmt.Errorf("postgres: cancel orders below nonce: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *OrderStore) ApplyFill(ctx context.Context, id string, quantity *big.Int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE orders SET
			quantity_remaining = GREATEST(quantity_remaining - $2::numeric, 0),
			fillability_status = CASE
				WHEN quantity_remaining - $2::numeric <= 0 THEN 'filled'
				ELSE fillability_status
			END,
			updated_at = NOW()
		WHERE id = $1 AND fillability_status NOT IN ('filled', 'cancelled')`,
		id, numStr(quantity))
	if err != nil {
		return fmt.Errorf("postgres: apply fill to order %s: %w", id, err)
	}
	return nil
}
