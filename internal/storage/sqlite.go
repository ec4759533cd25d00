package storage

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/prefgen/internal/prefs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// generationTimeLayout is fixed-width so created_at sorts as text.
const generationTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding override profiles and generation history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "prefgen.db")
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

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
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

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
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

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Overrides ---

// PutOverride inserts or updates the override for o.Key in profile. Updates
// keep the record's ID and position.
func (s *Store) PutOverride(ctx context.Context, profile string, o prefs.Override) (OverrideRecord, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	if err := o.Validate(); err != nil {
		return OverrideRecord{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return OverrideRecord{}, err
	}
	defer tx.Rollback()

	now := s.now().UTC()
	rec := OverrideRecord{Profile: profile, Override: o, UpdatedAt: now}

	var createdAt string
	err = tx.QueryRowContext(ctx,
		`SELECT id, position, created_at FROM overrides WHERE profile = ? AND key = ?`, profile, o.Key,
	).Scan(&rec.ID, &rec.Position, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.ID = uuid.New().String()
		rec.CreatedAt = now
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM overrides WHERE profile = ?`, profile,
		).Scan(&rec.Position); err != nil {
			return OverrideRecord{}, fmt.Errorf("allocating position: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO overrides (id, profile, key, kind, value_type, value, comment, locked, position, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, profile, o.Key, string(kindOf(o)), o.Value.Type().String(), o.Value.Text(), o.Comment,
			boolToInt(o.Locked), rec.Position, now.Format(time.RFC3339), now.Format(time.RFC3339),
		)
		if err != nil {
			return OverrideRecord{}, fmt.Errorf("inserting override: %w", err)
		}
	case err != nil:
		return OverrideRecord{}, err
	default:
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return OverrideRecord{}, fmt.Errorf("parsing created_at: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE overrides SET kind = ?, value_type = ?, value = ?, comment = ?, locked = ?, updated_at = ?
			WHERE id = ?`,
			string(kindOf(o)), o.Value.Type().String(), o.Value.Text(), o.Comment,
			boolToInt(o.Locked), now.Format(time.RFC3339), rec.ID,
		)
		if err != nil {
			return OverrideRecord{}, fmt.Errorf("updating override: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return OverrideRecord{}, err
	}
	rec.Override.Kind = kindOf(o)
	return rec, nil
}

// PutSet stores every override of set in profile, in order.
func (s *Store) PutSet(ctx context.Context, profile string, set prefs.Set) (int, error) {
	n := 0
	for _, o := range set.Overrides() {
		if _, err := s.PutOverride(ctx, profile, o); err != nil {
			return n, fmt.Errorf("storing %s: %w", o.Key, err)
		}
		n++
	}
	return n, nil
}

// DeleteOverride removes key from profile. It returns ErrNotFound when the
// key is not stored.
func (s *Store) DeleteOverride(ctx context.Context, profile, key string) error {
	if profile == "" {
		profile = DefaultProfile
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM overrides WHERE profile = ? AND key = ?`, profile, key)
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

// ListOverrideRecords returns the records of profile in position order.
func (s *Store) ListOverrideRecords(ctx context.Context, profile string) ([]OverrideRecord, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile, key, kind, value_type, value, comment, locked, position, created_at, updated_at
		FROM overrides WHERE profile = ? ORDER BY position ASC`, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OverrideRecord
	for rows.Next() {
		var (
			rec                  OverrideRecord
			kind, typ, value     string
			locked               int
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Profile, &rec.Override.Key, &kind, &typ, &value,
			&rec.Override.Comment, &locked, &rec.Position, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		vt, err := prefs.ParseValueType(typ)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", rec.Override.Key, err)
		}
		if rec.Override.Value, err = prefs.ParseValue(vt, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", rec.Override.Key, err)
		}
		rec.Override.Kind = prefs.Kind(kind)
		rec.Override.Locked = locked != 0
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("override %s: parsing created_at: %w", rec.Override.Key, err)
		}
		if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("override %s: parsing updated_at: %w", rec.Override.Key, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListOverrides returns profile as a prefs.Set in position order.
func (s *Store) ListOverrides(ctx context.Context, profile string) (prefs.Set, error) {
	recs, err := s.ListOverrideRecords(ctx, profile)
	if err != nil {
		return prefs.Set{}, err
	}
	var set prefs.Set
	for _, r := range recs {
		set.Put(r.Override)
	}
	return set, nil
}

// Profiles returns the names of all profiles that hold at least one override.
func (s *Store) Profiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT profile FROM overrides ORDER BY profile ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Generations ---

// RecordGeneration stores a generated-file entry. ID and CreatedAt are filled
// in when empty.
func (s *Store) RecordGeneration(ctx context.Context, g Generation) (Generation, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (id, target, profile, path, digest, bytes, overrides, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Target, g.Profile, g.Path, g.Digest, g.Bytes, g.Overrides,
		g.CreatedAt.UTC().Format(generationTimeLayout),
	)
	if err != nil {
		return Generation{}, fmt.Errorf("recording generation: %w", err)
	}
	return g, nil
}

// ListGenerations returns the most recent generations, newest first. An empty
// target matches all targets.
func (s *Store) ListGenerations(ctx context.Context, target string, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, target, profile, path, digest, bytes, overrides, created_at FROM generations`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var g Generation
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Target, &g.Profile, &g.Path, &g.Digest, &g.Bytes, &g.Overrides, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		g.CreatedAt = t
		out = append(out, g)
	}
	return out, rows.Err()
}

// LatestGeneration returns the newest generation for target, or ErrNotFound.
func (s *Store) LatestGeneration(ctx context.Context, target string) (Generation, error) {
	gens, err := s.ListGenerations(ctx, target, 1)
	if err != nil {
		return Generation{}, err
	}
	if len(gens) == 0 {
		return Generation{}, ErrNotFound
	}
	return gens[0], nil
}

func kindOf(o prefs.Override) prefs.Kind {
	if o.Kind == "" {
		return prefs.KindDefault
	}
	return o.Kind
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
