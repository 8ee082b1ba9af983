package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/tursodatabase/go-libsql"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", "file:"+filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

var testFS = fstest.MapFS{
	"001_first.up.sql":    {Data: []byte("CREATE TABLE a (id INTEGER);")},
	"001_first.down.sql":  {Data: []byte("DROP TABLE a;")},
	"002_second.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);\nCREATE TABLE c (id INTEGER);")},
	"002_second.down.sql": {Data: []byte("DROP TABLE c; DROP TABLE b;")},
	"README.md":           {Data: []byte("ignored")},
}

func TestLoad(t *testing.T) {
	r := NewRunner(nil, testFS)

	migrations, err := r.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("Load() returned %d migrations, want 2", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "first" {
		t.Errorf("first migration = %d_%s", migrations[0].Version, migrations[0].Name)
	}
	if migrations[1].DownSQL == "" {
		t.Error("second migration has no down SQL")
	}
}

func TestSplitSQL(t *testing.T) {
	got := SplitSQL("CREATE TABLE a (id INTEGER);\n\n  ;CREATE TABLE b (id INTEGER);\n")
	if len(got) != 2 {
		t.Fatalf("SplitSQL() = %q, want 2 statements", got)
	}
	if got[1] != "CREATE TABLE b (id INTEGER)" {
		t.Errorf("SplitSQL()[1] = %q", got[1])
	}
}

func TestRunner_UpAndTo(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(testDB(t), testFS)

	applied, err := r.Up(ctx)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 2 {
		t.Errorf("Up() applied %d, want 2", applied)
	}

	applied, err = r.Up(ctx)
	if err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
	if applied != 0 {
		t.Errorf("second Up() applied %d, want 0", applied)
	}

	if err := r.To(ctx, 1); err != nil {
		t.Fatalf("To(1) error = %v", err)
	}
	version, dirty, err := r.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("CurrentVersion() = %d, %v; want 1, false", version, dirty)
	}

	if _, err := r.DB.ExecContext(ctx, "INSERT INTO b (id) VALUES (1)"); err == nil {
		t.Error("table b should have been dropped")
	}

	if err := r.To(ctx, 0); err != nil {
		t.Fatalf("To(0) error = %v", err)
	}
	version, _, _ = r.CurrentVersion(ctx)
	if version != 0 {
		t.Errorf("version after To(0) = %d, want 0", version)
	}
}
