package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPollInterval = 250 * time.Millisecond

// reclaimScript moves deliveries whose visibility window expired back to
// the ready list, invalidating their receipts.
const reclaimScript = `
local expired = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1])
for _, receipt in ipairs(expired) do
	local env = redis.call("hget", KEYS[2], receipt)
	if env then
		redis.call("rpush", KEYS[3], env)
	end
	redis.call("hdel", KEYS[2], receipt)
	redis.call("zrem", KEYS[1], receipt)
end
return #expired
`

// ackScript removes a pending delivery, returning its envelope, or nil when
// the receipt is unknown.
const ackScript = `
if redis.call("zrem", KEYS[1], ARGV[1]) == 0 then
	return false
end
local env = redis.call("hget", KEYS[2], ARGV[1])
redis.call("hdel", KEYS[2], ARGV[1])
return env
`

// extendScript pushes a pending delivery's visibility deadline forward.
const extendScript = `
if redis.call("zscore", KEYS[1], ARGV[1]) == false then
	return 0
end
redis.call("zadd", KEYS[1], ARGV[2], ARGV[1])
return 1
`

type redisEnvelope struct {
	ID         string `json:"id"`
	Content    []byte `json:"content"`
	ChannelTag string `json:"channel,omitempty"`
}

// RedisQueue implements Client over Redis: a ready list feeding a pending
// hash plus a deadline sorted set, with random receipt tokens. Intended for
// local development and tests; the semantics match the managed backend.
type RedisQueue struct {
	client     *redis.Client
	key        string
	visibility time.Duration
}

// NewRedisQueue builds a Redis-backed queue under the given key prefix.
// Received messages stay invisible for the visibility duration unless
// acknowledged or extended.
func NewRedisQueue(client *redis.Client, key string, visibility time.Duration) *RedisQueue {
	return &RedisQueue{
		client:     client,
		key:        key,
		visibility: visibility,
	}
}

func (q *RedisQueue) readyKey() string     { return q.key + ":ready" }
func (q *RedisQueue) pendingKey() string   { return q.key + ":pending" }
func (q *RedisQueue) deadlinesKey() string { return q.key + ":deadlines" }
func (q *RedisQueue) countsKey() string    { return q.key + ":deliveries" }
func (q *RedisQueue) createdKey() string   { return q.key + ":created" }

// Enqueue appends one message to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, content []byte, channelTag string) (string, error) {
	id, err := randomToken(16)
	if err != nil {
		return "", err
	}

	env, err := json.Marshal(redisEnvelope{ID: id, Content: content, ChannelTag: channelTag})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.readyKey(), env)
	pipe.SetNX(ctx, q.createdKey(), time.Now().Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis enqueue: %w", err)
	}
	return id, nil
}

// Receive reclaims expired deliveries, then pops up to maxCount messages.
// With no messages available it polls until wait elapses, emulating the
// managed backend's long poll.
func (q *RedisQueue) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)
	for {
		messages, err := q.receiveOnce(ctx, maxCount)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			return messages, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redisPollInterval):
		}
	}
}

func (q *RedisQueue) receiveOnce(ctx context.Context, maxCount int) ([]Message, error) {
	now := time.Now()
	err := q.client.Eval(ctx, reclaimScript,
		[]string{q.deadlinesKey(), q.pendingKey(), q.readyKey()},
		now.UnixMilli()).Err()
	if err != nil {
		return nil, fmt.Errorf("redis reclaim: %w", err)
	}

	var messages []Message
	for len(messages) < maxCount {
		raw, err := q.client.RPop(ctx, q.readyKey()).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("redis pop: %w", err)
		}

		var env redisEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}

		count, err := q.client.HIncrBy(ctx, q.countsKey(), env.ID, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis delivery count: %w", err)
		}

		receipt, err := randomToken(16)
		if err != nil {
			return nil, err
		}

		visibleAt := now.Add(q.visibility).UnixMilli()
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.pendingKey(), receipt, raw)
		pipe.ZAdd(ctx, q.deadlinesKey(), redis.Z{Score: float64(visibleAt), Member: receipt})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis register pending: %w", err)
		}

		messages = append(messages, Message{
			ID:            env.ID,
			ReceiptHandle: receipt,
			Content:       env.Content,
			ChannelTag:    env.ChannelTag,
			DeliveryCount: int(count),
		})
	}
	return messages, nil
}

// Acknowledge removes the pending delivery behind the receipt.
func (q *RedisQueue) Acknowledge(ctx context.Context, receiptHandle string) error {
	raw, err := q.client.Eval(ctx, ackScript,
		[]string{q.deadlinesKey(), q.pendingKey()},
		receiptHandle).Result()
	if err == redis.Nil {
		return fmt.Errorf("redis acknowledge: %w", ErrInvalidReceipt)
	}
	if err != nil {
		return fmt.Errorf("redis acknowledge: %w", err)
	}

	if env, ok := raw.(string); ok {
		var parsed redisEnvelope
		if json.Unmarshal([]byte(env), &parsed) == nil {
			_ = q.client.HDel(ctx, q.countsKey(), parsed.ID).Err()
		}
	}
	return nil
}

// ExtendVisibility reschedules the delivery's reappearance.
func (q *RedisQueue) ExtendVisibility(ctx context.Context, receiptHandle string, delay time.Duration) error {
	visibleAt := time.Now().Add(delay).UnixMilli()
	updated, err := q.client.Eval(ctx, extendScript,
		[]string{q.deadlinesKey()},
		receiptHandle, visibleAt).Int()
	if err != nil {
		return fmt.Errorf("redis extend visibility: %w", err)
	}
	if updated == 0 {
		return fmt.Errorf("redis extend visibility: %w", ErrInvalidReceipt)
	}
	return nil
}

// Metadata reports the queue key and its first-use timestamp.
func (q *RedisQueue) Metadata(ctx context.Context) (Metadata, error) {
	meta := Metadata{
		DisplayName:    q.key,
		LifecycleState: "ACTIVE",
	}

	created, err := q.client.Get(ctx, q.createdKey()).Result()
	if err == redis.Nil {
		return meta, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("redis metadata: %w", err)
	}
	if epoch, err := strconv.ParseInt(created, 10, 64); err == nil {
		meta.CreatedAt = time.Unix(epoch, 0).UTC()
	}
	return meta, nil
}

// randomToken creates a hex token for message IDs and receipt handles.
func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
