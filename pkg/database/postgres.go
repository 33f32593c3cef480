package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres represents a PostgreSQL database connection
type Postgres struct {
	DB *sql.DB
}

// PostgresOption tunes the connection pool
type PostgresOption func(*sql.DB)

// WithMaxOpenConns caps the pool size; idle connections are kept at half of it
func WithMaxOpenConns(n int) PostgresOption {
	return func(db *sql.DB) {
		if n <= 0 {
			return
		}
		db.SetMaxOpenConns(n)
		db.SetMaxIdleConns(max(n/2, 1))
	}
}

// NewPostgres creates a new PostgreSQL connection
func NewPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetConnMaxLifetime(30 * time.Minute)
	for _, opt := range opts {
		opt(db)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{DB: db}, nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.DB.Close()
}

// Ping checks if the database is available
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}
