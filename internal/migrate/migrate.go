// Package migrate applies versioned SQL files to a database/sql handle.
// Files are named NNN_name.up.sql and NNN_name.down.sql and are read from
// any fs.FS, usually an embed.FS owned by the adapter that needs the schema.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration represents a single database migration with up and down SQL.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

var upPattern = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

// Runner applies the migrations found in FS. Progress lines go to Out.
type Runner struct {
	DB  *sql.DB
	FS  fs.FS
	Out io.Writer
}

// NewRunner returns a Runner that discards progress output.
func NewRunner(db *sql.DB, fsys fs.FS) *Runner {
	return &Runner{DB: db, FS: fsys, Out: io.Discard}
}

func (r *Runner) printf(format string, args ...any) {
	if r.Out != nil {
		fmt.Fprintf(r.Out, format, args...)
	}
}

// EnsureMigrationsTable creates the schema_migrations table if it doesn't exist.
func (r *Runner) EnsureMigrationsTable(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// CurrentVersion returns the current migration version and dirty state.
func (r *Runner) CurrentVersion(ctx context.Context) (int, bool, error) {
	var version, dirty int

	err := r.DB.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return version, dirty == 1, nil
}

func (r *Runner) setVersion(ctx context.Context, version int, dirty bool) error {
	dirtyInt := 0
	if dirty {
		dirtyInt = 1
	}

	if _, err := r.DB.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return err
	}
	if version == 0 {
		return nil
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirtyInt)
	return err
}

// Load reads every migration in FS and returns them sorted by version.
func (r *Runner) Load() ([]Migration, error) {
	var result []Migration

	err := fs.WalkDir(r.FS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matches := upPattern.FindStringSubmatch(path.Base(p))
		if matches == nil {
			return nil
		}

		version, _ := strconv.Atoi(matches[1])
		name := matches[2]

		upSQL, err := fs.ReadFile(r.FS, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}

		downPath := path.Join(path.Dir(p), fmt.Sprintf("%s_%s.down.sql", matches[1], name))
		downSQL, err := fs.ReadFile(r.FS, downPath)
		if err != nil {
			downSQL = nil
		}

		result = append(result, Migration{
			Version: version,
			Name:    name,
			UpSQL:   string(upSQL),
			DownSQL: string(downSQL),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

func (r *Runner) run(ctx context.Context, m Migration, up bool) error {
	direction := "up"
	sqlContent := m.UpSQL
	targetVersion := m.Version
	if !up {
		direction = "down"
		sqlContent = m.DownSQL
		targetVersion = m.Version - 1
	}

	r.printf("  %s %d_%s...\n", direction, m.Version, m.Name)

	if err := r.setVersion(ctx, m.Version, true); err != nil {
		return fmt.Errorf("failed to set dirty flag: %w", err)
	}

	for _, stmt := range SplitSQL(sqlContent) {
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %d %s: %w\nSQL: %s", m.Version, direction, err, stmt)
		}
	}

	if err := r.setVersion(ctx, targetVersion, false); err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}
	return nil
}

// SplitSQL splits a SQL script on semicolons and drops blank statements.
// Semicolons inside string literals are not supported.
func SplitSQL(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (r *Runner) prepare(ctx context.Context) (int, []Migration, error) {
	if err := r.EnsureMigrationsTable(ctx); err != nil {
		return 0, nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, dirty, err := r.CurrentVersion(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return 0, nil, fmt.Errorf("database is in dirty state at version %d, manual intervention required", current)
	}

	all, err := r.Load()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return current, all, nil
}

// Up runs all pending up migrations and returns how many were applied.
func (r *Runner) Up(ctx context.Context) (int, error) {
	current, all, err := r.prepare(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range all {
		if m.Version <= current {
			continue
		}
		if err := r.run(ctx, m, true); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// To migrates up or down until the schema is at target.
func (r *Runner) To(ctx context.Context, target int) error {
	current, all, err := r.prepare(ctx)
	if err != nil {
		return err
	}

	switch {
	case target > current:
		for _, m := range all {
			if m.Version <= current {
				continue
			}
			if m.Version > target {
				break
			}
			if err := r.run(ctx, m, true); err != nil {
				return err
			}
		}
	case target < current:
		for i := len(all) - 1; i >= 0; i-- {
			m := all[i]
			if m.Version > current {
				continue
			}
			if m.Version <= target {
				break
			}
			if m.DownSQL == "" {
				return fmt.Errorf("no down migration for version %d", m.Version)
			}
			if err := r.run(ctx, m, false); err != nil {
				return err
			}
		}
	}
	return nil
}
