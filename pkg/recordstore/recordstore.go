// Package recordstore implements the opaque RecordStore capability the
// atomic settlement executor's record_settlements/clear_records steps
// write through. Durability semantics are delegated to the store; the
// core never inspects what is stored beyond put/get/delete.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the capability the executor depends on: put, get, delete a
// settlement record by id.
type Store interface {
	Put(ctx context.Context, settlementID string, record any) error
	Get(ctx context.Context, settlementID string, out any) (bool, error)
	Delete(ctx context.Context, settlementID string) error
}

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Keyspace string        // key prefix, default "settlement:"
	TTL      time.Duration // 0 disables expiry
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:     "localhost:6379",
		Keyspace: "settlement:",
		TTL:      24 * time.Hour,
	}
}

// RedisStore is a Store backed by Redis, wiring the engine's declared
// go-redis dependency to the executor's record-keeping step.
type RedisStore struct {
	client   *redis.Client
	keyspace string
	ttl      time.Duration
}

// NewRedisStore builds a Store from config. It does not ping the server
// eagerly; the first Put/Get/Delete call returns connection errors as
// plain wrapped errors for the caller to classify.
func NewRedisStore(cfg *RedisConfig) *RedisStore {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	keyspace := cfg.Keyspace
	if keyspace == "" {
		keyspace = "settlement:"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		keyspace: keyspace,
		ttl:      cfg.TTL,
	}
}

func (s *RedisStore) key(settlementID string) string {
	return s.keyspace + settlementID
}

// Put serializes record as JSON and stores it under settlementID.
func (s *RedisStore) Put(ctx context.Context, settlementID string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("recordstore: marshal %s: %w", settlementID, err)
	}
	if err := s.client.Set(ctx, s.key(settlementID), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("recordstore: put %s: %w", settlementID, err)
	}
	return nil
}

// Get loads the record for settlementID into out, returning false if no
// record exists.
func (s *RedisStore) Get(ctx context.Context, settlementID string, out any) (bool, error) {
	body, err := s.client.Get(ctx, s.key(settlementID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recordstore: get %s: %w", settlementID, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("recordstore: unmarshal %s: %w", settlementID, err)
	}
	return true, nil
}

// Delete removes the record for settlementID. Deleting a record that was
// never written is a no-op, so clear_records compensations are safe to
// invoke twice.
func (s *RedisStore) Delete(ctx context.Context, settlementID string) error {
	if err := s.client.Del(ctx, s.key(settlementID)).Err(); err != nil {
		return fmt.Errorf("recordstore: delete %s: %w", settlementID, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemStore is an in-memory Store for tests and the CLI demo.
type MemStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]byte)}
}

func (s *MemStore) Put(_ context.Context, settlementID string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("recordstore: marshal %s: %w", settlementID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[settlementID] = body
	return nil
}

func (s *MemStore) Get(_ context.Context, settlementID string, out any) (bool, error) {
	s.mu.Lock()
	body, ok := s.records[settlementID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("recordstore: unmarshal %s: %w", settlementID, err)
	}
	return true, nil
}

func (s *MemStore) Delete(_ context.Context, settlementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, settlementID)
	return nil
}
