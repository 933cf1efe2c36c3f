package openrequest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
)

const redisKeyPrefix = "companion:open:"

type redisEntry struct {
	Request   domain.PendingOpenRequest `json:"request"`
	ExpiresAt int64                     `json:"expiresAt"`
}

// RedisQueue stores each kind as one hash keyed by request id. Expiry is
// checked on read; the hash itself expires once nothing is pushed for a TTL.
type RedisQueue struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.OpenRequestQueue = (*RedisQueue)(nil)

func NewRedisQueue(client *redis.Client, ttl time.Duration) *RedisQueue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisQueue{client: client, ttl: ttl, now: time.Now}
}

func redisKey(kind domain.OpenRequestKind) string {
	return redisKeyPrefix + string(kind)
}

func (q *RedisQueue) Push(ctx context.Context, req domain.PendingOpenRequest) (domain.PendingOpenRequest, error) {
	req, err := prepare(req, q.now())
	if err != nil {
		return req, err
	}
	data, err := json.Marshal(redisEntry{Request: req, ExpiresAt: req.CreatedAt.Add(q.ttl).UnixMilli()})
	if err != nil {
		return req, err
	}
	key := redisKey(req.Kind)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, req.ID, data)
	pipe.Expire(ctx, key, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return req, err
	}
	return req, nil
}

func (q *RedisQueue) List(ctx context.Context, kind domain.OpenRequestKind) ([]domain.PendingOpenRequest, error) {
	raw, err := q.client.HGetAll(ctx, redisKey(kind)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	nowMs := q.now().UnixMilli()
	var expired []string
	out := make([]domain.PendingOpenRequest, 0, len(raw))
	for id, value := range raw {
		var entry redisEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil || entry.ExpiresAt <= nowMs {
			expired = append(expired, id)
			continue
		}
		out = append(out, entry.Request)
	}
	if len(expired) > 0 {
		_ = q.client.HDel(ctx, redisKey(kind), expired...).Err()
	}
	sortByCreated(out)
	return out, nil
}

func (q *RedisQueue) Remove(ctx context.Context, kind domain.OpenRequestKind, id string) error {
	return q.client.HDel(ctx, redisKey(kind), id).Err()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
