package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/speaklink/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlOpen is replaced in tests to observe the opened pool.
var sqlOpen = sql.Open

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sqlOpen("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		caller_id TEXT NOT NULL,
		callee_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls(caller_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_calls_callee ON calls(callee_id, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertCallRecord stores a call that became active.
func (s *SQLiteStore) InsertCallRecord(ctx context.Context, record domain.CallRecord) error {
	if record.CallerID == "" || record.CalleeID == "" {
		return fmt.Errorf("insert call record: caller and callee are required")
	}
	query := `INSERT INTO calls (caller_id, callee_id, timestamp) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		record.CallerID, record.CalleeID, record.Timestamp.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// ListCallRecords returns the most recent calls a user took part in.
func (s *SQLiteStore) ListCallRecords(ctx context.Context, userID string, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, caller_id, callee_id, timestamp
		FROM calls WHERE caller_id = ? OR callee_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close call record rows", "error", closeErr)
		}
	}()

	records := []domain.CallRecord{}
	for rows.Next() {
		var rec domain.CallRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.CallerID, &rec.CalleeID, &ts); err != nil {
			return nil, fmt.Errorf("scan call record row: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ts).UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call records: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("failed to close database after setup error", "error", err)
	}
}
