// Package queue persists pending authorization-graph mutations on a
// redis list so a partial dual write survives a process restart.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/windholt/spacehost/internal/domain"
)

const reconcileKey = "sh:reconcile"

type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: reconcileKey}
}

// Enqueue pushes one pending relationship op. At-least-once: a crash
// between the record-store commit and this push loses the op, which is
// why callers push before reporting partial success.
func (q *RedisQueue) Enqueue(ctx context.Context, op domain.RelationshipOp) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, raw).Err()
}

// Dequeue blocks up to timeout for the next op; returns (nil, nil) when
// the wait expires empty.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.RelationshipOp, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, nil
	}
	var op domain.RelationshipOp
	if err := json.Unmarshal([]byte(res[1]), &op); err != nil {
		return nil, err
	}
	return &op, nil
}
