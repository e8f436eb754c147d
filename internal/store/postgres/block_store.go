package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// BlockStore implements domain.BlockStore.
type BlockStore struct {
	pool *pgxpool.Pool
}

// NewBlockStore creates a BlockStore backed by the given connection pool.
func NewBlockStore(pool *pgxpool.Pool) *BlockStore {
	return &BlockStore{pool: pool}
}

var _ domain.BlockStore = (*BlockStore)(nil)

func (s *BlockStore) SaveBlock(ctx context.Context, number uint64, hash common.Hash) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blocks (number, hash) VALUES ($1, $2)
		ON CONFLICT (number, hash) DO NOTHING`,
		number, hashStr(hash))
	if err != nil {
		return fmt.Errorf("postgres: save block %d: %w", number, err)
	}
	return nil
}

func (s *BlockStore) BlockHashes(ctx context.Context, number uint64) ([]common.Hash, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT hash FROM blocks WHERE number = $1 ORDER BY created_at`, number)
	if err != nil {
		return nil, fmt.Errorf("postgres: block hashes %d: %w", number, err)
	}
	defer rows.Close()

	var hashes []common.Hash
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("postgres: scan block hash: %w", err)
		}
		hashes = append(hashes, common.HexToHash(h))
	}
	return hashes, rows.Err()
}

func (s *BlockStore) DeleteBlock(ctx context.Context, number uint64, hash common.Hash) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM blocks WHERE number = $1 AND hash = $2`,
		number, hashStr(hash))
	if err != nil {
		return fmt.Errorf("postgres: delete block %d: %w", number, err)
	}
	return nil
}

// LatestBlock returns the highest stored block number. ErrNotFound means
// nothing has been ingested yet and the syncer starts at its configured
// height.
func (s *BlockStore) LatestBlock(ctx context.Context) (uint64, error) {
	var number *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(number) FROM blocks`).Scan(&number); err != nil {
		return 0, fmt.Errorf("postgres: latest block: %w", err)
	}
	return latestBlockNumber(number)
}

// latestBlockNumber maps MAX(number)'s NULL-on-empty aggregate result. A 0
// is a real genesis entry, not an empty table.
func latestBlockNumber(number *int64) (uint64, error) {
	if number == nil {
		return 0, domain.ErrNotFound
	}
	return uint64(*number), nil
}
