// Package store is the Postgres persistence layer. Every query is
// organization-scoped; callers pass the owning organization id explicitly
// and never see rows from another tenant.
package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pgx pool and verifies connectivity before returning it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Kind classifies a persistence error for HTTP status mapping.
type Kind int

const (
	KindOther Kind = iota
	KindNotFound
	KindConstraint
	KindConnectivity
)

// Classify maps a query error to a Kind. Class 23 SQLSTATEs are integrity
// constraint violations; class 08 and net errors are connectivity.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return KindNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return KindConstraint
		case strings.HasPrefix(pgErr.Code, "08"):
			return KindConnectivity
		}
		return KindOther
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity
	}
	return KindOther
}
