package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyline/tallyline/internal/store"
)

// Config is the postgres section of tallyline.yaml.
type Config struct {
	DSN string `yaml:"dsn"`
}

// Compile-time interface satisfaction check.
var _ store.Store = (*Store)(nil)

// Store is a Postgres-backed Store implementation.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres Store and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool creates a Store from an existing pool (tests).
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Start verifies connectivity and applies the schema.
func (s *Store) Start(ctx context.Context) error {
	return s.Migrate(ctx)
}

// Stop closes the connection pool.
func (s *Store) Stop(context.Context) error {
	s.pool.Close()
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
