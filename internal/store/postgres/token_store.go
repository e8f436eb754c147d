package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// TokenStore implements domain.TokenStore and domain.NftBalanceStore.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

var (
	_ domain.TokenStore      = (*TokenStore)(nil)
	_ domain.NftBalanceStore = (*TokenStore)(nil)
)

// IsFlagged reports whether a token is marked suspicious. Unknown tokens
// are treated as unflagged.
func (s *TokenStore) IsFlagged(ctx context.Context, contract common.Address, tokenID *big.Int) (bool, error) {
	var flagged bool
	err := s.pool.QueryRow(ctx, `
		SELECT is_flagged FROM tokens WHERE contract = $1 AND token_id = $2::numeric`,
		addrStr(contract), numStr(tokenID)).Scan(&flagged)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: is flagged: %w", err)
	}
	return flagged, nil
}

// SetFlagged upserts a token's flagged state.
func (s *TokenStore) SetFlagged(ctx context.Context, contract common.Address, tokenID *big.Int, flagged bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (contract, token_id, is_flagged, flagged_at)
		VALUES ($1, $2::numeric, $3, CASE WHEN $3 THEN NOW() ELSE NULL END)
		ON CONFLICT (contract, token_id)
		DO UPDATE SET is_flagged = EXCLUDED.is_flagged, flagged_at = EXCLUDED.flagged_at`,
		addrStr(contract), numStr(tokenID), flagged)
	if err != nil {
		return fmt.Errorf("postgres: set flagged: %w", err)
	}
	return nil
}

// NftBalance returns the materialized balance, zero when no row exists.
func (s *TokenStore) NftBalance(ctx context.Context, contract common.Address, tokenID *big.Int, owner common.Address) (*big.Int, error) {
	var amount string
	err := s.pool.QueryRow(ctx, `
		SELECT amount::text FROM nft_balances
		WHERE contract = $1 AND token_id = $2::numeric AND owner = $3`,
		addrStr(contract), numStr(tokenID), addrStr(owner)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: nft balance: %w", err)
	}
	return parseNum(amount), nil
}
