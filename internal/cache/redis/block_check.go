package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

const blockCheckKey = "block-checks"

// RecheckDelays are the growing delays after ingestion at which a block's
// hash is re-verified against the canonical chain. Early checks catch
// shallow reorgs quickly, the late one catches deep ones.
var RecheckDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	60 * time.Minute,
}

// BlockCheckScheduler implements domain.BlockCheckScheduler on a sorted set
// scored by due time.
type BlockCheckScheduler struct {
	rdb *redis.Client
}

// NewBlockCheckScheduler creates a scheduler backed by the given Client.
func NewBlockCheckScheduler(c *Client) *BlockCheckScheduler {
	return &BlockCheckScheduler{rdb: c.Underlying()}
}

var _ domain.BlockCheckScheduler = (*BlockCheckScheduler)(nil)

func checkMember(check domain.BlockRecheck) string {
	return fmt.Sprintf("%d:%s:%d", check.Number, check.Hash.Hex(), check.Attempt)
}

func parseMember(member string) (domain.BlockRecheck, error) {
	parts := strings.Split(member, ":")
	if len(parts) != 3 {
		return domain.BlockRecheck{}, fmt.Errorf("redis: malformed block check member %q", member)
	}
	number, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return domain.BlockRecheck{}, fmt.Errorf("redis: block check member number: %w", err)
	}
	attempt, err := strconv.Atoi(parts[2])
	if err != nil {
		return domain.BlockRecheck{}, fmt.Errorf("redis: block check member attempt: %w", err)
	}
	return domain.BlockRecheck{
		Number:  number,
		Hash:    common.HexToHash(parts[1]),
		Attempt: attempt,
	}, nil
}

// Schedule enqueues the check at now + the attempt's delay. Attempts past
// the last delay are dropped.
func (s *BlockCheckScheduler) Schedule(ctx context.Context, check domain.BlockRecheck) error {
	if check.Attempt < 0 || check.Attempt >= len(RecheckDelays) {
		return nil
	}
	due := time.Now().Add(RecheckDelays[check.Attempt])
	err := s.rdb.ZAdd(ctx, blockCheckKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: checkMember(check),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: schedule block check %d: %w", check.Number, err)
	}
	return nil
}

// Due atomically pops every check due at or before now.
func (s *BlockCheckScheduler) Due(ctx context.Context, now time.Time) ([]domain.BlockRecheck, error) {
	max := strconv.FormatInt(now.Unix(), 10)
	members, err := s.rdb.ZRangeByScore(ctx, blockCheckKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: due block checks: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	removable := make([]interface{}, len(members))
	for i, m := range members {
		removable[i] = m
	}
	if err := s.rdb.ZRem(ctx, blockCheckKey, removable...).Err(); err != nil {
		return nil, fmt.Errorf("redis: pop block checks: %w", err)
	}

	checks := make([]domain.BlockRecheck, 0, len(members))
	for _, m := range members {
		check, err := parseMember(m)
		if err != nil {
			// Skip unparseable members rather than wedging the checker.
			continue
		}
		checks = append(checks, check)
	}
	return checks, nil
}
