// Package postgres implements the user, group, and credit-card stores on
// PostgreSQL. Persistent tokens live embedded in the user row as a JSONB
// array, and every token-list mutation is a single UPDATE statement so
// concurrent issuances and redemptions cannot lose an update.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cardvault/cardvault/pkg/storage"
)

// Connect opens and verifies a PostgreSQL connection pool
func Connect(cfg storage.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PostgresTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Store implements the user, group, and credit-card stores
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			registration_code VARCHAR(255) NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(255) NOT NULL UNIQUE,
			first_name VARCHAR(255) NOT NULL DEFAULT '',
			last_name VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			group_id BIGINT NOT NULL REFERENCES groups(id),
			role VARCHAR(50) NOT NULL DEFAULT 'user',
			password_hash VARCHAR(255) NOT NULL,
			lockout_expiration TIMESTAMPTZ,
			tokens JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_group_id ON users(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_tokens ON users USING GIN (tokens)`,
		`CREATE TABLE IF NOT EXISTS credit_cards (
			id BIGSERIAL PRIMARY KEY,
			card_name VARCHAR(255) NOT NULL,
			group_id BIGINT NOT NULL REFERENCES groups(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_cards_group_id ON credit_cards(group_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}
