// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/speaklink/internal/domain"
)

// Repository defines the interface for persisting call history.
type Repository interface {
	// InsertCallRecord stores a call that became active.
	InsertCallRecord(ctx context.Context, record domain.CallRecord) error

	// ListCallRecords returns the most recent calls a user took part in,
	// newest first. A limit <= 0 selects the default page size.
	ListCallRecords(ctx context.Context, userID string, limit int) ([]domain.CallRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
