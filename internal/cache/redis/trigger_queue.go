package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Stream names for the trigger queues.
const (
	StreamFillInfos  = "triggers:fill-infos"
	StreamOrderInfos = "triggers:order-infos"
	StreamMakerInfos = "triggers:maker-infos"
	StreamMintInfos  = "triggers:mint-infos"
)

// streamMaxLen is the approximate maximum length for trigger streams,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// dedupTTL bounds how long a trigger context suppresses duplicates.
const dedupTTL = 10 * time.Minute

// TriggerQueue implements domain.TriggerQueue on Redis streams. Each record's
// Context is claimed with SETNX first; records whose context was already
// claimed recently are dropped, so replaying a block range does not fan the
// same work out twice.
type TriggerQueue struct {
	rdb *redis.Client
}

// NewTriggerQueue creates a TriggerQueue backed by the given Client.
func NewTriggerQueue(c *Client) *TriggerQueue {
	return &TriggerQueue{rdb: c.Underlying()}
}

var _ domain.TriggerQueue = (*TriggerQueue)(nil)

func (q *TriggerQueue) enqueue(ctx context.Context, stream, dedupKey string, record any) error {
	if dedupKey != "" {
		claimed, err := q.rdb.SetNX(ctx, "trigger-ctx:"+dedupKey, 1, dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("redis: claim trigger context: %w", err)
		}
		if !claimed {
			return nil
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis: encode trigger: %w", err)
	}
	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append trigger to %s: %w", stream, err)
	}
	return nil
}

func (q *TriggerQueue) EnqueueFillInfos(ctx context.Context, infos []domain.FillInfo) error {
	for _, info := range infos {
		if err := q.enqueue(ctx, StreamFillInfos, info.Context, info); err != nil {
			return err
		}
	}
	return nil
}

func (q *TriggerQueue) EnqueueOrderInfos(ctx context.Context, infos []domain.OrderInfo) error {
	for _, info := range infos {
		if err := q.enqueue(ctx, StreamOrderInfos, info.Context, info); err != nil {
			return err
		}
	}
	return nil
}

func (q *TriggerQueue) EnqueueMakerInfos(ctx context.Context, infos []domain.MakerInfo) error {
	for _, info := range infos {
		if err := q.enqueue(ctx, StreamMakerInfos, info.Context, info); err != nil {
			return err
		}
	}
	return nil
}

func (q *TriggerQueue) EnqueueMintInfos(ctx context.Context, infos []domain.MintInfo) error {
	for _, info := range infos {
		if err := q.enqueue(ctx, StreamMintInfos, info.Context, info); err != nil {
			return err
		}
	}
	return nil
}

// StreamRead reads up to count messages from a trigger stream after lastID,
// for consumers draining the queues. It returns nil when nothing is
// pending.
func (q *TriggerQueue) StreamRead(ctx context.Context, stream, lastID string, count int) ([]redis.XMessage, error) {
	res, err := q.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read trigger stream %s: %w", stream, err)
	}
	var out []redis.XMessage
	for _, s := range res {
		out = append(out, s.Messages...)
	}
	return out, nil
}
