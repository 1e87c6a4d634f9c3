package spawner

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// queueBackend is the per-butler FIFO session queue. Queue implements it
// against a real Redis list; tests substitute an in-memory fake so the
// back-pressure and submit logic in Spawner.Submit can be exercised without
// a live Redis instance.
type queueBackend interface {
	Push(ctx context.Context, butler string, payload []byte) error
	Pop(ctx context.Context, butler string, timeout time.Duration) ([]byte, error)
	Depth(ctx context.Context, butler string) (int64, error)
}

// Queue is a Redis-backed FIFO queue, one list per butler, exactly the shape
// dsmolchanov-nerve's queue package uses for its embedding job queue.
type Queue struct {
	client *redis.Client
}

// NewQueue dials a Redis instance at url (e.g. "redis://host:6379/0").
func NewQueue(url string) (*Queue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{client: redis.NewClient(opt)}, nil
}

func queueKey(butler string) string {
	return "spawner:queue:" + butler
}

// Push enqueues payload at the head of butler's list; Pop drains from the
// tail, giving FIFO order.
func (q *Queue) Push(ctx context.Context, butler string, payload []byte) error {
	return q.client.LPush(ctx, queueKey(butler), payload).Err()
}

// Pop blocks up to timeout for an item at the tail of butler's list.
// Returns redis.Nil if timeout elapses with nothing queued.
func (q *Queue) Pop(ctx context.Context, butler string, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, queueKey(butler)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, redis.Nil
	}
	return []byte(res[1]), nil
}

// Depth returns the current queue length for butler.
func (q *Queue) Depth(ctx context.Context, butler string) (int64, error) {
	return q.client.LLen(ctx, queueKey(butler)).Result()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
