package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Task kinds processed by workers.
const (
	KindBuild  = "build"
	KindDeploy = "deploy"
)

// Envelope is one unit of work placed on the queue. The claim itself is a
// compare-and-set on job status, so a redelivered envelope is harmless.
type Envelope struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
}

// Queue is a Redis-backed FIFO work queue shared by all workers.
type Queue struct {
	client *redis.Client
	name   string
}

// New connects to Redis and returns a queue bound to name.
func New(addr, password string, db int, name string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect queue redis: %w", err)
	}
	return &Queue{client: client, name: name}, nil
}

// Enqueue pushes an envelope for workers to pick up.
func (q *Queue) Enqueue(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.name, payload).Err()
}

// Dequeue blocks until an envelope is available or the context ends.
// The pop timeout bounds each wait so cancellation is observed promptly.
func (q *Queue) Dequeue(ctx context.Context) (Envelope, error) {
	for {
		vals, err := q.client.BRPop(ctx, 5*time.Second, q.name).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return Envelope{}, err
		}
		if len(vals) < 2 {
			return Envelope{}, fmt.Errorf("unexpected BRPOP response: %v", vals)
		}
		var env Envelope
		if err := json.Unmarshal([]byte(vals[1]), &env); err != nil {
			return Envelope{}, fmt.Errorf("decode queue envelope: %w", err)
		}
		return env, nil
	}
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
