package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
)

// Migrate applies every *.sql file in fsys in lexical order. The statements
// are written to be re-runnable.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS) ([]string, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	applied := make([]string, 0, len(files))
	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.Pool.Exec(ctx, string(content)); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", file, err)
		}
		applied = append(applied, file)
	}
	return applied, nil
}
