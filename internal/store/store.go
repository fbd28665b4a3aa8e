// Package store implements the durable relational state described in
// spec.md §4.7: a single-writer SQLite database with WAL journaling,
// foreign keys enforced, and an FTS5 index over content_plaintext, kept in
// sync by triggers. Grounded on actuallydan-pollis's
// internal/database/db.go (embed.FS migrations + schema_migrations table)
// and the storage-at-rest and PRAGMA tuning from
// original_source/core/src/storage/schema.rs (SPEC_FULL.md §4).
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("store")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the single shared SQLite connection behind a mutex. Per spec.md
// §4.7 "Concurrency": "The connection is shared behind a mutual-exclusion
// primitive. Long-running reads do not block writers because of WAL;
// long-running writes serialize." database/sql already pools connections,
// but SQLite only tolerates one writer at a time; the mutex here scopes
// write transactions, while plain reads go through the pool directly.
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path, applies
// WAL/foreign-key/synchronous PRAGMAs, and runs pending migrations.
func Open(path string) (*DB, error) {
	logger := log.WithField("function", "Open").WithField("path", path)
	logger.Info("opening store")

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn exposes the raw *sql.DB for callers (migrations, ad-hoc admin
// queries) that need it directly.
func (db *DB) Conn() *sql.DB { return db.conn }

// currentUserVersion returns the integer user_version SQLite tracks
// natively (spec.md §4.7: "Schema is versioned by an integer
// user_version").
func (db *DB) currentUserVersion() (int, error) {
	var v int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("store: read user_version: %w", err)
	}
	return v, nil
}

// NeedsMigration reports whether current is behind target.
func NeedsMigration(current, target int) bool { return current < target }

func (db *DB) migrate() error {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("store: glob migrations: %w", err)
	}
	sort.Strings(files)

	current, err := db.currentUserVersion()
	if err != nil {
		return err
	}

	for _, f := range files {
		version, err := migrationVersion(f)
		if err != nil {
			return err
		}
		if !NeedsMigration(current, version) {
			continue
		}
		sqlBytes, err := migrationsFS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", f, err)
		}
		if err := db.applyMigration(string(sqlBytes), version); err != nil {
			return fmt.Errorf("store: apply migration %s: %w", f, err)
		}
		current = version
		log.WithField("version", version).Info("applied migration")
	}
	return nil
}

func (db *DB) applyMigration(sqlText string, version int) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(sqlText) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec statement: %w", err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements is a conservative splitter good enough for this module's
// own migration files (no semicolons inside string literals or trigger
// bodies split across statements — migrations/0001_init.sql's triggers use
// BEGIN...END blocks, which must stay intact).
func splitStatements(sqlText string) []string {
	var out []string
	var depth int
	var cur strings.Builder
	upper := strings.ToUpper(sqlText)
	for i, r := range sqlText {
		cur.WriteRune(r)
		switch {
		case strings.HasPrefix(upper[i:], "BEGIN"):
			depth++
		case strings.HasPrefix(upper[i:], "END"):
			if depth > 0 {
				depth--
			}
		}
		if r == ';' && depth == 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, cur.String())
	}
	return out
}

func migrationVersion(filename string) (int, error) {
	base := filename[strings.LastIndex(filename, "/")+1:]
	numPart := base[:strings.IndexByte(base, '_')]
	v, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, fmt.Errorf("store: parse migration version from %q: %w", filename, err)
	}
	return v, nil
}
