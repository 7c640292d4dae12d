// Package storage persists harvested articles and their reader comments in a
// SQL database (PostgreSQL via lib/pq or SQLite via modernc.org/sqlite).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	pq "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"levelcrawler/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNotConfigured is returned when no driver or DSN is set.
var ErrNotConfigured = errors.New("sql store not configured")

// SQLStore is the article store used by the sitemap harvest.
type SQLStore struct {
	db          *sql.DB
	driver      string
	autoMigrate bool
}

// Open connects to the configured database and applies the schema when
// auto_migrate is set. Missing PostgreSQL databases are created on request.
func Open(ctx context.Context, cfg config.SQLConfig) (*SQLStore, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	driver := strings.ToLower(cfg.Driver)
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if !cfg.CreateIfMissing || !shouldAttemptCreateDatabase(driver, err) {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
		if err := createDatabase(pingCtx, cfg); err != nil {
			return nil, err
		}
		db, err = sql.Open(driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; serialise through one connection.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	store := &SQLStore{db: db, driver: driver, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(ctx); err != nil {
			return nil, errors.Join(err, db.Close())
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, stmt := range schemaFor(s.driver) {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func schemaFor(driver string) []string {
	if driver == DriverSQLite {
		return []string{
			`CREATE TABLE IF NOT EXISTS articles (
			    url TEXT PRIMARY KEY,
			    title TEXT NOT NULL,
			    full_text TEXT NOT NULL,
			    run_id TEXT,
			    created_at TIMESTAMP NOT NULL,
			    updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS article_comments (
			    id INTEGER PRIMARY KEY AUTOINCREMENT,
			    url TEXT NOT NULL REFERENCES articles (url) ON DELETE CASCADE,
			    comment TEXT NOT NULL,
			    created_at TIMESTAMP NOT NULL,
			    UNIQUE (url, comment)
			)`,
		}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS articles (
		    url TEXT PRIMARY KEY,
		    title TEXT NOT NULL,
		    full_text TEXT NOT NULL,
		    run_id TEXT,
		    created_at TIMESTAMPTZ NOT NULL,
		    updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS article_comments (
		    id BIGSERIAL PRIMARY KEY,
		    url TEXT NOT NULL REFERENCES articles (url) ON DELETE CASCADE,
		    comment TEXT NOT NULL,
		    created_at TIMESTAMPTZ NOT NULL,
		    UNIQUE (url, comment)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles (created_at DESC)`,
	}
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withSchemaRetry runs fn and, when the table is missing and auto-migration is
// enabled, applies the schema and retries once.
func (s *SQLStore) withSchemaRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !s.autoMigrate || !isUndefinedTableErr(err) {
		return err
	}
	if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
		return fmt.Errorf("ensure schema: %w", schemaErr)
	}
	return fn()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if driver != DriverPostgres {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(DriverPostgres, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "no such table") ||
		(strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist"))
}
