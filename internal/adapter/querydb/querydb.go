// Package querydb opens the business database the SQL tool queries.
package querydb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Pool limits for the business database.
const (
	maxOpenConns    = 8
	maxIdleConns    = 4
	connMaxLifetime = 5 * time.Minute
)

// Open connects to dsn with the given driver and verifies the connection.
// Supported drivers are "mysql", "sqlite3" (cgo) and "sqlite" (pure Go).
// SQLite databases are opened read-only and must already exist; MySQL
// connections never accept multi-statement queries.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "mysql":
		normalized, err := normalizeMySQL(dsn)
		if err != nil {
			return nil, err
		}
		dsn = normalized
	case "sqlite3", "sqlite":
		readOnly, err := readOnlySQLite(driver, dsn)
		if err != nil {
			return nil, err
		}
		dsn = readOnly
	default:
		return nil, fmt.Errorf("unsupported query database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// normalizeMySQL makes temporal columns scan as time.Time so the SQL tool
// renders them uniformly.
func normalizeMySQL(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = false
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

// readOnlySQLite rewrites dsn as a file URI opened with mode=ro and with
// query_only set on every connection, using each driver's own parameter.
func readOnlySQLite(driver, dsn string) (string, error) {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return "", fmt.Errorf("sqlite query database must be a file, got %q", dsn)
	}

	path, rawQuery, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("parse sqlite dsn: %w", err)
	}
	params.Set("mode", "ro")
	switch driver {
	case "sqlite3":
		params.Set("_query_only", "1")
	case "sqlite":
		params.Add("_pragma", "query_only(1)")
	}
	return "file:" + path + "?" + params.Encode(), nil
}
