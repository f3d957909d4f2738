// Package migrations applies the dashboard's Postgres schema and tracks which
// scripts have run.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

type FileInfo struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

type Status struct {
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
	Applied   bool   `json:"applied"`
	AppliedAt string `json:"applied_at,omitempty"`
}

type applied struct {
	checksum  string
	appliedAt time.Time
}

type Service struct {
	db  *sql.DB
	src fs.FS
	log *slog.Logger
	now func() time.Time
}

// NewService prepares the schema_migrations table. A nil src means Embedded().
func NewService(ctx context.Context, db *sql.DB, src fs.FS, logger *slog.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if src == nil {
		src = Embedded()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{db: db, src: src, log: logger, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (s *Service) List() ([]FileInfo, error) {
	entries, err := fs.ReadDir(s.src, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	out := make([]FileInfo, 0)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(s.src, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, FileInfo{Name: e.Name(), Checksum: checksum(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) Status(ctx context.Context) ([]Status, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	state, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(files))
	for _, f := range files {
		st := Status{Name: f.Name, Checksum: f.Checksum}
		if a, ok := state[f.Name]; ok {
			st.Applied = true
			st.AppliedAt = a.appliedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, st)
	}
	return out, nil
}

// Apply runs every pending migration in name order, each in its own
// transaction, and returns the names it ran. An applied script whose content
// changed since is an error and stops the run.
func (s *Service) Apply(ctx context.Context) ([]string, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	state, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, f := range files {
		if a, ok := state[f.Name]; ok {
			if a.checksum != f.Checksum {
				return ran, fmt.Errorf("migration %s changed after it was applied", f.Name)
			}
			continue
		}
		if err := s.applyOne(ctx, f); err != nil {
			return ran, err
		}
		s.log.Info("migration applied", "name", f.Name)
		ran = append(ran, f.Name)
	}
	return ran, nil
}

func (s *Service) applyOne(ctx context.Context, f FileInfo) error {
	body, err := fs.ReadFile(s.src, f.Name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", f.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", f.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("run migration %s: %w", f.Name, err)
	}
	const q = `INSERT INTO schema_migrations (name, checksum, applied_at) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, q, f.Name, f.Checksum, s.now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", f.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", f.Name, err)
	}
	return nil
}

func (s *Service) load(ctx context.Context) (map[string]applied, error) {
	const q = `SELECT name, checksum, applied_at FROM schema_migrations`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query migration state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]applied)
	for rows.Next() {
		var name string
		var a applied
		if err := rows.Scan(&name, &a.checksum, &a.appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration state: %w", err)
		}
		out[name] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration state: %w", err)
	}
	return out, nil
}

func checksum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
