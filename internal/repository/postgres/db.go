// Package postgres holds the durable stores: agents, messages and the
// archived trust log. All repos share one *sql.DB over the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
)

// Open builds the shared connection pool. Callers should Ping before serving.
func Open(connString string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Ping checks database availability at startup.
func Ping(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}
