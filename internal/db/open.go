package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// sqliteBusyTimeoutMS bounds how long a connection waits on a lock
	// before surfacing SQLITE_BUSY. Appends hold the write lock for a
	// single INSERT, so five seconds is generous.
	sqliteBusyTimeoutMS = 5000

	// sqliteReaderPoolSize caps concurrent read connections. Log listing
	// and search are the read-heavy paths; four connections cover several
	// agents polling at once.
	sqliteReaderPoolSize = 4

	// Server-backend pool defaults. Scribe issues short single-statement
	// queries, so the Postgres pool stays small.
	pgDefaultMaxConns  = 10
	pgDefaultIdleConns = 2
)

// OpenSQLite opens the embedded database for writes. The handle is pinned to
// one connection so concurrent agents serialize at the pool instead of
// tripping over SQLITE_BUSY.
func OpenSQLite(path string) (*sql.DB, error) {
	resolved, err := resolveSQLitePath(path)
	if err != nil {
		return nil, fmt.Errorf("prepare sqlite path %s: %w", path, err)
	}
	conn, err := sql.Open("sqlite3", sqliteDSN(resolved, false))
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// OpenSQLiteReader opens a read-only pool over the same file. WAL mode lets
// these connections read a consistent snapshot while the writer appends.
func OpenSQLiteReader(path string) (*sql.DB, error) {
	resolved, err := resolveSQLitePath(path)
	if err != nil {
		return nil, fmt.Errorf("prepare sqlite path %s: %w", path, err)
	}
	conn, err := sql.Open("sqlite3", sqliteDSN(resolved, true))
	if err != nil {
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	conn.SetMaxOpenConns(sqliteReaderPoolSize)
	conn.SetMaxIdleConns(sqliteReaderPoolSize)
	return conn, nil
}

// OpenPostgres opens the server backend through the pgx stdlib driver and
// verifies connectivity before handing the pool back. Zero sizes take the
// package defaults.
func OpenPostgres(dsn string, maxConns, idleConns int) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns <= 0 {
		maxConns = pgDefaultMaxConns
	}
	if idleConns <= 0 {
		idleConns = pgDefaultIdleConns
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(idleConns)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}

// sqliteDSN renders the file URI for one of the two roles. Foreign keys,
// the busy timeout, and the shared page cache apply to every connection;
// journal mode and synchronous level are database-wide, so only the writer
// sets them.
func sqliteDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", strconv.Itoa(sqliteBusyTimeoutMS))
	params.Set("_cache", "shared")
	if readOnly {
		params.Set("_mode", "ro")
	} else {
		params.Set("_mode", "rwc")
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + params.Encode()
}

// resolveSQLitePath makes the path absolute, creates the parent directory,
// and touches the file so both roles can open it in either order.
func resolveSQLitePath(path string) (string, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return "", err
	}
	return path, f.Close()
}
