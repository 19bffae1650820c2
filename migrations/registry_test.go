package migrations

import (
	"context"
	"io/fs"
	"testing"
)

func TestFSResolvesBothDialects(t *testing.T) {
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		fsys, err := FS(dialect)
		if err != nil {
			t.Fatalf("FS(%s): %v", dialect, err)
		}
		matches, err := fs.Glob(fsys, "*.up.sql")
		if err != nil {
			t.Fatalf("glob %s: %v", dialect, err)
		}
		if len(matches) == 0 {
			t.Fatalf("%s tree has no up migrations", dialect)
		}
	}
}

func TestFSRejectsUnknownDialect(t *testing.T) {
	if _, err := FS("oracle"); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
}

func TestRegisterAppliesOnlyRequestedDialects(t *testing.T) {
	var dialects []string
	err := Register(context.Background(), func(_ context.Context, dialect string, fsys fs.FS) error {
		if fsys == nil {
			t.Fatalf("nil filesystem for %s", dialect)
		}
		dialects = append(dialects, dialect)
		return nil
	}, WithDialects(DialectSQLite))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(dialects) != 1 || dialects[0] != DialectSQLite {
		t.Fatalf("expected only sqlite, got %v", dialects)
	}
}

func TestRegisterRequiresApplyFunc(t *testing.T) {
	if err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil apply function")
	}
}
