package dbinspect

import (
	"context"
	"database/sql"
	"fmt"
)

type MySQLInspector struct {
	baseInspector
}

func (c *MySQLInspector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

func (c *MySQLInspector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'")
	if err != nil {
		return nil, fmt.Errorf("list mysql tables: %w", err)
	}
	return scanTableNames(rows, "mysql")
}

func (c *MySQLInspector) Indexes(ctx context.Context, table string) ([]IndexInfo, error) {
	if _, _, err := quoteQualified(table, 1, func(s string) string { return "`" + s + "`" }); err != nil {
		return nil, fmt.Errorf("invalid mysql table: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, "SELECT index_name, non_unique = 0, column_name FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ? ORDER BY index_name, seq_in_index", table)
	if err != nil {
		return nil, fmt.Errorf("query mysql indexes: %w", err)
	}
	return collectIndexes(rows, "mysql")
}

func (c *MySQLInspector) EstimateRows(ctx context.Context, table string) (int64, error) {
	var count sql.NullInt64
	err := c.db.QueryRowContext(ctx, "SELECT table_rows FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query mysql row count: %w", err)
	}
	return count.Int64, nil
}
