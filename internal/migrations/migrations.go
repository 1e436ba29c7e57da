// Package migrations keeps schema changes as JSON files in a directory.
// Each file carries its up and down statements and whether it has been
// applied; the files themselves are the ledger.
package migrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/sqlutil"

	"github.com/google/uuid"
)

// FileSuffix ends every migration file name.
const FileSuffix = "__migration.json"

// ErrNotFound reports a rollback target that no file carries.
var ErrNotFound = errors.New("migration not found")

// Migration is the content of one migration file.
type Migration struct {
	Filename  string `json:"filename"`
	Up        string `json:"up"`
	Down      string `json:"down"`
	Timestamp string `json:"timestamp"`
	ID        string `json:"id"`
	Applied   bool   `json:"applied"`
	Args      []any  `json:"args"`
}

// Runner applies and records migrations against one database.
type Runner struct {
	dir    string
	exec   dbexec.QueryExecutor
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New returns a Runner over dir.
func New(dir string, exec dbexec.QueryExecutor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dir:    dir,
		exec:   exec,
		logger: logger.With(slog.String("component", "migrations")),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Dir returns the migrations directory.
func (r *Runner) Dir() string { return r.dir }

// Exists reports whether the migrations directory exists.
func (r *Runner) Exists() bool {
	info, err := os.Stat(r.dir)
	return err == nil && info.IsDir()
}

// List reads every migration file in filename order. A missing directory
// lists nothing.
func (r *Runner) List() ([]Migration, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		var m Migration
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", name, err)
		}
		m.Filename = name
		out = append(out, m)
	}
	return out, nil
}

// Apply runs the up statement of every migration not yet applied, in
// filename order, and marks each applied. It stops at the first failure.
func (r *Runner) Apply(ctx context.Context) (int, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create migrations dir: %w", err)
	}
	all, err := r.List()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range all {
		if m.Applied {
			continue
		}
		if _, err := r.exec.ExecContext(ctx, m.Up, m.Args...); err != nil {
			return applied, fmt.Errorf("apply %s: %w", m.Filename, err)
		}
		m.Applied = true
		if err := r.write(m); err != nil {
			return applied, err
		}
		applied++
		r.logger.Info("migration applied", slog.String("file", m.Filename), slog.String("id", m.ID))
	}
	return applied, nil
}

// Create runs up and records it as an applied migration with a new ID.
func (r *Runner) Create(ctx context.Context, up, down string, args ...any) (Migration, error) {
	if strings.TrimSpace(up) == "" || strings.TrimSpace(down) == "" {
		return Migration{}, errors.New("migration needs up and down statements")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Migration{}, fmt.Errorf("create migrations dir: %w", err)
	}
	if _, err := r.exec.ExecContext(ctx, up, args...); err != nil {
		return Migration{}, fmt.Errorf("run migration: %w", err)
	}

	now := r.now()
	if args == nil {
		args = []any{}
	}
	m := Migration{
		Filename:  r.nextFilename(now),
		Up:        up,
		Down:      down,
		Timestamp: now.UTC().Format(http.TimeFormat),
		ID:        r.newID(),
		Applied:   true,
		Args:      args,
	}
	if err := r.write(m); err != nil {
		return Migration{}, err
	}
	r.logger.Info("migration created", slog.String("file", m.Filename), slog.String("id", m.ID))
	return m, nil
}

// Rollback runs the down statements from the newest migration back to and
// including id, marking each unapplied.
func (r *Runner) Rollback(ctx context.Context, id string) (int, error) {
	all, err := r.List()
	if err != nil {
		return 0, err
	}
	start := -1
	for i, m := range all {
		if m.ID == id {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rolled := 0
	for i := len(all) - 1; i >= start; i-- {
		m := all[i]
		if _, err := r.exec.ExecContext(ctx, m.Down); err != nil {
			return rolled, fmt.Errorf("roll back %s: %w", m.Filename, err)
		}
		m.Applied = false
		if err := r.write(m); err != nil {
			return rolled, err
		}
		rolled++
		r.logger.Info("migration rolled back", slog.String("file", m.Filename), slog.String("id", m.ID))
	}
	return rolled, nil
}

// Reset drops schema with everything in it, recreates it empty and removes
// the migrations directory.
func (r *Runner) Reset(ctx context.Context, schema string) error {
	quoted := sqlutil.QuoteIdentifier(schema)
	if _, err := r.exec.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quoted+" CASCADE"); err != nil {
		return fmt.Errorf("drop schema %s: %w", schema, err)
	}
	if _, err := r.exec.ExecContext(ctx, "CREATE SCHEMA "+quoted); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("remove migrations dir: %w", err)
	}
	r.logger.Warn("schema reset", slog.String("schema", schema))
	return nil
}

// Spec is a migration given by configuration.
type Spec struct {
	Up   string
	Down string
}

// StartupOptions drive Startup.
type StartupOptions struct {
	Schema     string
	Reset      bool
	Additional []Spec
}

// Startup resets when asked, records additional migrations whose up
// statement no file carries yet, then applies pending files.
func (r *Runner) Startup(ctx context.Context, opts StartupOptions) error {
	if opts.Reset {
		if err := r.Reset(ctx, opts.Schema); err != nil {
			return err
		}
	}

	existing, err := r.List()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		known[strings.TrimSpace(m.Up)] = true
	}
	for _, spec := range opts.Additional {
		if known[strings.TrimSpace(spec.Up)] {
			continue
		}
		if _, err := r.Create(ctx, spec.Up, spec.Down); err != nil {
			return err
		}
		known[strings.TrimSpace(spec.Up)] = true
	}

	_, err = r.Apply(ctx)
	return err
}

// nextFilename is the millisecond timestamp of now, bumped until no file
// of that name exists.
func (r *Runner) nextFilename(now time.Time) string {
	ms := now.UnixMilli()
	for {
		name := fmt.Sprintf("%d%s", ms, FileSuffix)
		if _, err := os.Stat(filepath.Join(r.dir, name)); errors.Is(err, os.ErrNotExist) {
			return name
		}
		ms++
	}
}

func (r *Runner) write(m Migration) error {
	if m.Args == nil {
		m.Args = []any{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration %s: %w", m.Filename, err)
	}
	path := filepath.Join(r.dir, m.Filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write migration %s: %w", m.Filename, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write migration %s: %w", m.Filename, err)
	}
	return nil
}
