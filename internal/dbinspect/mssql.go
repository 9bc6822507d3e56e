package dbinspect

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
)

type MSSQLInspector struct {
	baseInspector
}

func (c *MSSQLInspector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mssql: %w", err)
	}
	return nil
}

// ListTables returns schema-qualified names, e.g. dbo.cost_records.
func (c *MSSQLInspector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT TABLE_SCHEMA + '.' + TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_CATALOG = DB_NAME()")
	if err != nil {
		return nil, fmt.Errorf("list mssql tables: %w", err)
	}
	return scanTableNames(rows, "mssql")
}

func (c *MSSQLInspector) Indexes(ctx context.Context, table string) ([]IndexInfo, error) {
	schema, name, err := parseMSSQLTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, "SELECT i.name, i.is_unique, c.name FROM sys.indexes i JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id JOIN sys.tables t ON i.object_id = t.object_id JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE t.name = @p1 AND s.name = @p2 AND i.is_hypothetical = 0 AND i.type_desc <> 'HEAP' AND ic.is_included_column = 0 ORDER BY i.name, ic.key_ordinal", name, schema)
	if err != nil {
		return nil, fmt.Errorf("query mssql indexes: %w", err)
	}
	return collectIndexes(rows, "mssql")
}

func (c *MSSQLInspector) EstimateRows(ctx context.Context, table string) (int64, error) {
	schema, name, err := parseMSSQLTable(table)
	if err != nil {
		return 0, err
	}
	var count sql.NullInt64
	err = c.db.QueryRowContext(ctx, "SELECT SUM(ps.row_count) FROM sys.dm_db_partition_stats ps JOIN sys.tables t ON ps.object_id = t.object_id JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE ps.index_id IN (0, 1) AND t.name = @p1 AND s.name = @p2", name, schema).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query mssql row count: %w", err)
	}
	return count.Int64, nil
}

func parseMSSQLTable(table string) (string, string, error) {
	_, parts, err := quoteQualified(table, 2, func(s string) string { return "[" + s + "]" })
	if err != nil {
		return "", "", fmt.Errorf("invalid mssql table: %w", err)
	}
	if len(parts) == 1 {
		return "dbo", parts[0], nil
	}
	return parts[0], parts[1], nil
}
