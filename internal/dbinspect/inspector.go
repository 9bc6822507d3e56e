package dbinspect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Inspector reads catalog metadata from a store. It never writes.
type Inspector interface {
	Ping(ctx context.Context) error
	ListTables(ctx context.Context) ([]string, error)
	Indexes(ctx context.Context, table string) ([]IndexInfo, error)
	EstimateRows(ctx context.Context, table string) (int64, error)
	Close() error
}

type IndexInfo struct {
	Name    string
	Columns []string
	Unique  bool
}

type baseInspector struct {
	db *sql.DB
}

func (b *baseInspector) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Open picks a driver from the DSN scheme: postgres:// or postgresql://,
// mysql:// (followed by a go-sql-driver DSN) and sqlserver://.
func Open(dsn string) (Inspector, error) {
	driver, conn, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	switch driver {
	case "postgres":
		return &PostgresInspector{baseInspector{db: db}}, nil
	case "mysql":
		return &MySQLInspector{baseInspector{db: db}}, nil
	default:
		return &MSSQLInspector{baseInspector{db: db}}, nil
	}
}

func driverFor(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "", "", errors.New("database dsn is required")
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres", trimmed, nil
	case strings.HasPrefix(lower, "sqlserver://"):
		return "sqlserver", trimmed, nil
	case strings.HasPrefix(lower, "mysql://"):
		cfg, err := mysql.ParseDSN(trimmed[len("mysql://"):])
		if err != nil {
			return "", "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		return "mysql", cfg.FormatDSN(), nil
	default:
		return "", "", fmt.Errorf("unsupported database dsn scheme in %q", redact(trimmed))
	}
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	return "..."
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

func scanTableNames(rows *sql.Rows, engine string) ([]string, error) {
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan %s table name: %w", engine, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s tables: %w", engine, err)
	}
	sort.Strings(names)
	return names, nil
}

// collectIndexes folds one row per (index, column) into IndexInfo values.
// Rows must arrive ordered by index name then column position.
func collectIndexes(rows *sql.Rows, engine string) ([]IndexInfo, error) {
	defer rows.Close()
	var out []IndexInfo
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &unique, &column); err != nil {
			return nil, fmt.Errorf("scan %s index: %w", engine, err)
		}
		if n := len(out); n > 0 && out[n-1].Name == name {
			out[n-1].Columns = append(out[n-1].Columns, column)
			continue
		}
		out = append(out, IndexInfo{Name: name, Unique: unique, Columns: []string{column}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s indexes: %w", engine, err)
	}
	return out, nil
}
