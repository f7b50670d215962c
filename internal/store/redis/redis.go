// Package redis implements the Store interface using Redis/Valkey. Dedup
// reservations and lane rows are written in one Lua script so a replayed
// delivery either sees the reservation or writes the whole batch, never half.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tallyline/tallyline/internal/store"
)

// Config is the redis section of tallyline.yaml.
type Config struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
	// EventListCap bounds the audit event list per machine.
	EventListCap int64 `yaml:"eventListCap,omitempty"`
}

const defaultEventListCap = 1000

// persistBatchScript atomically reserves the dedup key and writes every lane
// row plus its list and pending-set bookkeeping. Returns 0 when the dedup
// key already exists (replay) without touching anything else.
//
// KEYS: [1]=dedup [2]=log list [3]=pending set [4..]=row keys
// ARGV: [1]=reservation JSON, then (entry ID, row JSON) pairs
const persistBatchScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
local n = (#ARGV - 1) / 2
for i = 0, n - 1 do
  local id = ARGV[2 + i * 2]
  local row = ARGV[3 + i * 2]
  redis.call("SET", KEYS[4 + i], row)
  redis.call("RPUSH", KEYS[2], id)
  redis.call("SADD", KEYS[3], id)
end
return 1
`

// Compile-time interface satisfaction check.
var _ store.Store = (*RedisStore)(nil)

// RedisStore implements the Store interface backed by Redis/Valkey.
type RedisStore struct {
	client       *goredis.Client
	prefix       string
	logger       *slog.Logger
	eventListCap int64
	persistBatch *goredis.Script
}

// New creates a new RedisStore.
func New(cfg *Config) *RedisStore {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tallyline:"
	}
	listCap := cfg.EventListCap
	if listCap <= 0 {
		listCap = defaultEventListCap
	}

	return &RedisStore{
		client:       client,
		prefix:       prefix,
		logger:       slog.Default(),
		eventListCap: listCap,
		persistBatch: goredis.NewScript(persistBatchScript),
	}
}

// NewFromClient creates a RedisStore from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tallyline:"
	}
	return &RedisStore{
		client:       client,
		prefix:       prefix,
		logger:       slog.Default(),
		eventListCap: defaultEventListCap,
		persistBatch: goredis.NewScript(persistBatchScript),
	}
}

// Start initializes the store connection.
func (s *RedisStore) Start(ctx context.Context) error {
	return s.Ping(ctx)
}

// Stop closes the store connection.
func (s *RedisStore) Stop(_ context.Context) error {
	return s.client.Close()
}

// Ping checks connectivity to the Redis server.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Client returns the underlying Redis client (for advanced usage/testing).
func (s *RedisStore) Client() *goredis.Client {
	return s.client
}
