package render

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the render job queue over go-redis's LPUSH/BRPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, queueKey string) *RedisQueue {
	return &RedisQueue{client: client, key: queueKey}
}

// Push enqueues a job (producer side; used by the export API, not the worker).
func (q *RedisQueue) Push(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal render job: %w", err)
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Pop blocks on BRPOP with no timeout (0 means block indefinitely) until a
// job arrives or ctx is cancelled.
func (q *RedisQueue) Pop(ctx context.Context) ([]byte, error) {
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value].
	if len(res) < 2 {
		return nil, fmt.Errorf("render: malformed BRPOP reply")
	}
	return []byte(res[1]), nil
}

// RedisPublisher broadcasts progress updates over a Redis pub-sub
// channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, progress Progress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal render progress: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}
