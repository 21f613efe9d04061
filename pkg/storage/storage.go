// Package storage defines the configuration and shared contracts for the
// persistence backends: PostgreSQL for user/group/credit-card records and
// Redis for the login-failure cache.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by store implementations when the requested
// record does not exist. Callers must not surface it to clients directly;
// the auth layer maps it onto its own error taxonomy.
var ErrNotFound = errors.New("record not found")

// Config holds connection settings for PostgreSQL and Redis
type Config struct {
	PostgresURL      string        `yaml:"postgres_url"`
	PostgresMaxConns int           `yaml:"postgres_max_conns"`
	PostgresMinConns int           `yaml:"postgres_min_conns"`
	PostgresTimeout  time.Duration `yaml:"postgres_timeout"`

	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPoolSize int    `yaml:"redis_pool_size"`
}

// DefaultConfig returns the default storage configuration
func DefaultConfig() Config {
	return Config{
		PostgresURL:      "postgres://localhost/cardvault?sslmode=disable",
		PostgresMaxConns: 25,
		PostgresMinConns: 5,
		PostgresTimeout:  10 * time.Second,
		RedisURL:         "redis://localhost:6379",
		RedisDB:          0,
		RedisPoolSize:    10,
	}
}
