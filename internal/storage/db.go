package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Result is the generic shape of a parameterized statement's outcome.
type Result struct {
	Rows     []map[string]any
	RowCount int64
}

// Execute runs a parameterized statement and collects any returned rows by
// column name.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()
	fields := rows.FieldDescriptions()
	result := Result{Rows: []map[string]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	result.RowCount = rows.CommandTag().RowsAffected()
	return result, nil
}

var ErrNotFound = errors.New("not found")
