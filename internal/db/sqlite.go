package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mini-transit-live/server/internal/logger"
)

// schemaSQL is embedded from schema.sql and applied by EnsureSchema.
//
//go:embed schema.sql
var schemaSQL string

// DB wraps a SQLite database connection with write serialization
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex // serializes imports, stats upserts and cleanup
	log     logger.Logger
}

// Connect opens a SQLite database with WAL mode enabled
func Connect(dbPath string, log logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.Nop()
	}
	dsn := dbPath + "?_journal=WAL&_fk=1&_busy_timeout=5000"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection plus writeMu keeps
	// transactions from nesting.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			log.Warn("failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	log.Info("connected to SQLite database", "path", dbPath)
	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection for readers
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// LockWrite acquires the write mutex. Must be paired with UnlockWrite.
func (db *DB) LockWrite() {
	db.writeMu.Lock()
}

// UnlockWrite releases the write mutex.
func (db *DB) UnlockWrite() {
	db.writeMu.Unlock()
}

// EnsureSchema creates tables if they don't exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.LockWrite()
	defer db.UnlockWrite()

	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	db.log.Debug("database schema ensured")
	return nil
}

// SchemaSQL returns the embedded schema. import-gtfs prints it with
// -print-schema.
func SchemaSQL() string {
	return schemaSQL
}
