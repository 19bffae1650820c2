// Package migrations exposes the embedded schema trees. The postgres tree
// is the canonical layout; sqlite alternatives live under its sqlite/
// subdirectory and mirror the same file names.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	storage "github.com/gallerio/go-storage"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const migrationsPath = "data/sql/migrations"

// ApplyFunc receives one dialect's migration filesystem, typically to hand
// it to a persistence client before running Migrate.
type ApplyFunc func(ctx context.Context, dialect string, fsys fs.FS) error

type config struct {
	dialects []string
}

type Option func(*config)

// WithDialects restricts Register to the named dialects. The default is
// every dialect the module ships migrations for.
func WithDialects(dialects ...string) Option {
	return func(c *config) {
		next := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			trimmed := strings.TrimSpace(strings.ToLower(dialect))
			if trimmed != "" {
				next = append(next, trimmed)
			}
		}
		if len(next) > 0 {
			c.dialects = next
		}
	}
}

// FS returns the embedded migration tree for one dialect, verified to hold
// at least one *.up.sql file.
func FS(dialect string) (fs.FS, error) {
	dialect = strings.TrimSpace(strings.ToLower(dialect))

	base, err := fs.Sub(storage.GetMigrationsFS(), migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve embedded tree: %w", err)
	}

	var fsys fs.FS
	switch dialect {
	case DialectPostgres:
		fsys = base
	case DialectSQLite:
		fsys, err = fs.Sub(base, "sqlite")
		if err != nil {
			return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
		}
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}

	matches, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: scan %s tree: %w", dialect, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s tree has no *.up.sql files", dialect)
	}
	return fsys, nil
}

// Register resolves each requested dialect's migration tree and hands it to
// apply, one call per dialect.
func Register(ctx context.Context, apply ApplyFunc, opts ...Option) error {
	if apply == nil {
		return fmt.Errorf("migrations: apply function is required")
	}

	cfg := config{dialects: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	seen := make(map[string]struct{}, len(cfg.dialects))
	for _, dialect := range cfg.dialects {
		if _, dup := seen[dialect]; dup {
			continue
		}
		seen[dialect] = struct{}{}

		fsys, err := FS(dialect)
		if err != nil {
			return err
		}
		if err := apply(ctx, dialect, fsys); err != nil {
			return fmt.Errorf("migrations: apply %s: %w", dialect, err)
		}
	}
	return nil
}
