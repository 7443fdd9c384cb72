package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/speaklink/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "calls.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteStore_InsertAndList(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.InsertCallRecord(ctx, domain.CallRecord{CallerID: "u1", CalleeID: "u2", Timestamp: base}))
	require.NoError(t, repo.InsertCallRecord(ctx, domain.CallRecord{CallerID: "u3", CalleeID: "u1", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, repo.InsertCallRecord(ctx, domain.CallRecord{CallerID: "u2", CalleeID: "u3", Timestamp: base.Add(2 * time.Minute)}))

	records, err := repo.ListCallRecords(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "u3", records[0].CallerID, "newest first")
	assert.Equal(t, base.Add(time.Minute), records[0].Timestamp)
	assert.Equal(t, "u2", records[1].CalleeID)
	assert.NotZero(t, records[1].ID)

	limited, err := repo.ListCallRecords(ctx, "u3", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "u2", limited[0].CallerID)

	none, err := repo.ListCallRecords(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_RejectsIncompleteRecord(t *testing.T) {
	repo := newTestStore(t)
	err := repo.InsertCallRecord(context.Background(), domain.CallRecord{CallerID: "u1"})
	require.Error(t, err)
}

func TestNewSQLite_ClosesPoolOnSetupError(t *testing.T) {
	var opened *sql.DB
	sqlOpen = func(driver, dsn string) (*sql.DB, error) {
		db, err := sql.Open(driver, dsn)
		opened = db
		return db, err
	}
	t.Cleanup(func() { sqlOpen = sql.Open })

	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not a database ", 64)), 0o600))

	_, err := NewSQLite(path)
	require.Error(t, err)
	require.NotNil(t, opened)
	assert.ErrorContains(t, opened.Ping(), "database is closed")
}
