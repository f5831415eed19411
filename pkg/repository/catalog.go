package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/deploy/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Package states recorded in the catalog.
const (
	stateOK        = "ok"
	stateMissing   = "missing"
	stateCorrupted = "corrupted"
)

// Catalog is a Repository snapshot stored in SQLite. It is written only by
// Import and answers queries with the same results and errors as the
// repository it was imported from.
type Catalog struct {
	db   *sql.DB
	path string
}

// ImportStats summarises one Import call.
type ImportStats struct {
	Platforms int
	Packages  int
	Versions  int
	Broken    int
}

// OpenCatalog opens (creating if needed) the catalog database at path and
// applies pending migrations.
func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	c := &Catalog{db: db, path: path}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(c.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// Import replaces the catalog contents with a snapshot of src. Packages
// whose metadata is missing or corrupted are kept with their state so that
// queries against the catalog fail the same way.
func (c *Catalog) Import(ctx context.Context, src Repository) (*ImportStats, error) {
	platforms, err := src.Platforms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list platforms: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM versions", "DELETE FROM packages", "DELETE FROM platforms"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to clear catalog: %w", err)
		}
	}

	stats := &ImportStats{}
	for _, platform := range platforms {
		if _, err := tx.ExecContext(ctx, "INSERT INTO platforms (name) VALUES (?)", platform); err != nil {
			return nil, fmt.Errorf("failed to insert platform %s: %w", platform, err)
		}
		stats.Platforms++

		packages, err := src.Packages(ctx, platform)
		if err != nil {
			return nil, fmt.Errorf("failed to list packages of %s: %w", platform, err)
		}

		for _, pkg := range packages {
			n, err := importPackage(ctx, tx, src, platform, pkg)
			if err != nil {
				return nil, err
			}
			stats.Packages++
			if n < 0 {
				stats.Broken++
				continue
			}
			stats.Versions += n
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO catalog_info (key, value) VALUES ('imported_at', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("failed to record import time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	return stats, nil
}

// importPackage stores one package and returns its version count, or -1
// when only a broken state was recorded.
func importPackage(ctx context.Context, tx *sql.Tx, src Repository, platform, pkg string) (int, error) {
	versions, err := src.Query(ctx, platform, pkg, nil)

	state, detail := stateOK, ""
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrMetadataNotFound):
		state = stateMissing
	case errors.Is(err, engine.ErrCorruptedMetadata):
		state, detail = stateCorrupted, rootCause(err)
	default:
		return 0, fmt.Errorf("failed to read %s/%s: %w", platform, pkg, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO packages (platform, name, state, detail) VALUES (?, ?, ?, ?)",
		platform, pkg, state, detail); err != nil {
		return 0, fmt.Errorf("failed to insert package %s/%s: %w", platform, pkg, err)
	}
	if state != stateOK {
		return -1, nil
	}

	for seq, v := range versions {
		attrs, err := json.Marshal(v.attrs)
		if err != nil {
			return 0, fmt.Errorf("failed to encode attributes: %w", err)
		}
		res := v.resources
		if res == nil {
			res = []string{}
		}
		resources, err := json.Marshal(res)
		if err != nil {
			return 0, fmt.Errorf("failed to encode resources: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO versions (platform, package, seq, attributes, resources) VALUES (?, ?, ?, ?, ?)",
			platform, pkg, seq, string(attrs), string(resources)); err != nil {
			return 0, fmt.Errorf("failed to insert version of %s/%s: %w", platform, pkg, err)
		}
	}
	return len(versions), nil
}

// Platforms lists catalogued platforms in sorted order.
func (c *Catalog) Platforms(ctx context.Context) ([]string, error) {
	return c.names(ctx, "SELECT name FROM platforms ORDER BY name")
}

// Packages lists catalogued packages of platform in sorted order.
func (c *Catalog) Packages(ctx context.Context, platform string) ([]string, error) {
	if err := c.requirePlatform(ctx, platform); err != nil {
		return nil, err
	}
	return c.names(ctx, "SELECT name FROM packages WHERE platform = ? ORDER BY name", platform)
}

// Query returns matching versions in their original authoring order.
func (c *Catalog) Query(ctx context.Context, platform, pkg string, criteria Criteria) ([]Version, error) {
	if err := c.requirePlatform(ctx, platform); err != nil {
		return nil, err
	}

	var state, detail string
	err := c.db.QueryRowContext(ctx,
		"SELECT state, detail FROM packages WHERE platform = ? AND name = ?", platform, pkg).
		Scan(&state, &detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUnknownPackage(platform, pkg)
	}
	if err != nil {
		return nil, errUnavailable("catalog query failed", err)
	}

	switch state {
	case stateMissing:
		return nil, errMetadataNotFound(platform, pkg)
	case stateCorrupted:
		return nil, errCorruptedMetadata(platform, pkg, errors.New(detail))
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT attributes, resources FROM versions WHERE platform = ? AND package = ? ORDER BY seq",
		platform, pkg)
	if err != nil {
		return nil, errUnavailable("catalog query failed", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var attrsJSON, resourcesJSON string
		if err := rows.Scan(&attrsJSON, &resourcesJSON); err != nil {
			return nil, errUnavailable("catalog scan failed", err)
		}

		v := Version{}
		if err := json.Unmarshal([]byte(attrsJSON), &v.attrs); err != nil {
			return nil, errCorruptedMetadata(platform, pkg, err)
		}
		if err := json.Unmarshal([]byte(resourcesJSON), &v.resources); err != nil {
			return nil, errCorruptedMetadata(platform, pkg, err)
		}
		if len(v.resources) == 0 {
			v.resources = nil
		}

		if v.Matches(criteria) {
			out = append(out, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errUnavailable("catalog scan failed", err)
	}
	return out, nil
}

func (c *Catalog) requirePlatform(ctx context.Context, platform string) error {
	var one int
	err := c.db.QueryRowContext(ctx, "SELECT 1 FROM platforms WHERE name = ?", platform).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return errUnknownPlatform(platform)
	}
	if err != nil {
		return errUnavailable("catalog query failed", err)
	}
	return nil
}

func (c *Catalog) names(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errUnavailable("catalog query failed", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errUnavailable("catalog scan failed", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errUnavailable("catalog scan failed", err)
	}
	return names, nil
}

// rootCause returns the message of the innermost wrapped error.
func rootCause(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
