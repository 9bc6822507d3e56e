package dbinspect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type PostgresInspector struct {
	baseInspector
}

func (c *PostgresInspector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (c *PostgresInspector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'")
	if err != nil {
		return nil, fmt.Errorf("list postgres tables: %w", err)
	}
	return scanTableNames(rows, "postgres")
}

func (c *PostgresInspector) Indexes(ctx context.Context, table string) ([]IndexInfo, error) {
	_, parts, err := quoteQualified(table, 2, pq.QuoteIdentifier)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres table: %w", err)
	}
	name := parts[len(parts)-1]
	rows, err := c.db.QueryContext(ctx, `SELECT i.relname, ix.indisunique, array_agg(a.attname::text ORDER BY x.n)
FROM pg_class t
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN pg_index ix ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS x(attnum, n) ON true
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = x.attnum
WHERE n.nspname = current_schema() AND t.relname = $1
GROUP BY i.relname, ix.indisunique
ORDER BY i.relname`, name)
	if err != nil {
		return nil, fmt.Errorf("query postgres indexes: %w", err)
	}
	defer rows.Close()
	indexes := []IndexInfo{}
	for rows.Next() {
		var idx IndexInfo
		if err := rows.Scan(&idx.Name, &idx.Unique, pq.Array(&idx.Columns)); err != nil {
			return nil, fmt.Errorf("scan postgres index: %w", err)
		}
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postgres indexes: %w", err)
	}
	return indexes, nil
}

// EstimateRows reads the planner estimate, which is -1 or 0 before the first
// ANALYZE.
func (c *PostgresInspector) EstimateRows(ctx context.Context, table string) (int64, error) {
	_, parts, err := quoteQualified(table, 2, pq.QuoteIdentifier)
	if err != nil {
		return 0, fmt.Errorf("invalid postgres table: %w", err)
	}
	var count sql.NullInt64
	err = c.db.QueryRowContext(ctx,
		"SELECT reltuples::bigint FROM pg_class WHERE relname = $1 AND relnamespace = (SELECT oid FROM pg_namespace WHERE nspname = current_schema())",
		parts[len(parts)-1],
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query postgres row count: %w", err)
	}
	if !count.Valid || count.Int64 < 0 {
		return 0, nil
	}
	return count.Int64, nil
}
