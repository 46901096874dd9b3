// Package templates persists research templates in SQLite and layers an
// optimistic in-memory manager on top for the interactive surfaces.
package templates

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/deepscout/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a template id has no row.
var ErrNotFound = errors.New("template not found")

// Store wraps a SQLite database holding research templates.
type Store struct {
	db *sql.DB
}

// Compile-time interface compliance check.
var _ types.TemplateStore = (*Store)(nil)

// Open opens (or creates) the template database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "templates.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// Put inserts or fully overwrites the template with the given id.
func (s *Store) Put(ctx context.Context, tpl *types.Template) error {
	if tpl.ID == "" {
		return errors.New("template id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, system_prompt, prompt, model, temperature, top_p, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			system_prompt = excluded.system_prompt,
			prompt = excluded.prompt,
			model = excluded.model,
			temperature = excluded.temperature,
			top_p = excluded.top_p,
			updated_at = excluded.updated_at`,
		string(tpl.ID), tpl.Name, tpl.SystemPrompt, tpl.Prompt, tpl.Model,
		tpl.Temperature, tpl.TopP, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Get returns the template with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id types.TemplateID) (*types.Template, error) {
	var tpl types.Template
	var rawID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, system_prompt, prompt, model, temperature, top_p
		FROM templates WHERE id = ?`, string(id),
	).Scan(&rawID, &tpl.Name, &tpl.SystemPrompt, &tpl.Prompt, &tpl.Model, &tpl.Temperature, &tpl.TopP)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tpl.ID = types.TemplateID(rawID)
	return &tpl, nil
}

// List returns all templates ordered by name.
func (s *Store) List(ctx context.Context) ([]*types.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, system_prompt, prompt, model, temperature, top_p
		FROM templates ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*types.Template
	for rows.Next() {
		var tpl types.Template
		var rawID string
		if err := rows.Scan(&rawID, &tpl.Name, &tpl.SystemPrompt, &tpl.Prompt, &tpl.Model, &tpl.Temperature, &tpl.TopP); err != nil {
			return nil, err
		}
		tpl.ID = types.TemplateID(rawID)
		results = append(results, &tpl)
	}
	return results, rows.Err()
}

// Delete removes the template with the given id, or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id types.TemplateID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
