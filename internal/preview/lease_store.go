package preview

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// LeaseStore tracks live lease ids. Expiry is the store's TTL mechanism;
// a missing id means the lease expired or was purged.
type LeaseStore interface {
	Put(ctx context.Context, leaseID string, ttl time.Duration) error
	Exists(ctx context.Context, leaseID string) (bool, error)
}

type redisLeaseStore struct {
	client *redis.Client
	prefix string
}

// NewRedisLeaseStore keeps leases in Redis so any API instance can serve
// any lease. Garbage collection is Redis key expiry.
func NewRedisLeaseStore(client *redis.Client) LeaseStore {
	return &redisLeaseStore{client: client, prefix: "preview:lease:"}
}

func (s *redisLeaseStore) Put(ctx context.Context, leaseID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+leaseID, "1", ttl).Err()
}

func (s *redisLeaseStore) Exists(ctx context.Context, leaseID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+leaseID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type memoryLeaseStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryLeaseStore is a single-process fallback used when Redis is not
// configured, and by tests. Expired entries are reaped lazily on access.
func NewMemoryLeaseStore() LeaseStore {
	return &memoryLeaseStore{entries: make(map[string]time.Time)}
}

func (s *memoryLeaseStore) Put(_ context.Context, leaseID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[leaseID] = time.Now().Add(ttl)
	return nil
}

func (s *memoryLeaseStore) Exists(_ context.Context, leaseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.entries[leaseID]
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		delete(s.entries, leaseID)
		return false, nil
	}
	return true, nil
}
