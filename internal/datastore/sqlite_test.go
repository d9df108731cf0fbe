package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/whereabouts/internal/testutil"
)

func openSQLite(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = testutil.NewClock()
	}
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "points.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tableExists(t *testing.T, s *SQLiteStore, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, s.db.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name))
	return n > 0
}

func TestSQLiteStore_MigrationRoundTrip(t *testing.T) {
	s := openSQLite(t, Options{SkipMigrate: true})

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)
	assert.False(t, tableExists(t, s, "data_points"))

	require.NoError(t, s.MigrateUp())
	version, dirty, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	assert.True(t, tableExists(t, s, "data_points"))

	// Applying again is a no-op.
	require.NoError(t, s.MigrateUp())

	require.NoError(t, s.MigrateDown())
	assert.False(t, tableExists(t, s, "data_points"))

	require.NoError(t, s.MigrateUp())
	require.NoError(t, s.Set(context.Background(), DataPoint{Type: "t", Value: 1.0}))
}

func TestSQLiteStore_StoredColumns(t *testing.T) {
	s := openSQLite(t, Options{})
	require.NoError(t, s.Set(context.Background(), DataPoint{
		Type:   "android.sensor.wifi_scan.rssi",
		Key:    "aa:bb",
		Value:  -65.0,
		Device: "10.0.0.7",
	}, CategoryRaw, CategoryInference))

	var rows []struct {
		Category  string `db:"category"`
		CreatedAt string `db:"created_at"`
		Value     string `db:"value"`
	}
	require.NoError(t, s.db.Select(&rows, `SELECT category, created_at, value FROM data_points ORDER BY id`))
	require.Len(t, rows, 2)
	assert.Equal(t, CategoryRaw, rows[0].Category)
	assert.Equal(t, CategoryInference, rows[1].Category)
	assert.Equal(t, "2025-03-01T12:00:00Z", rows[0].CreatedAt)
	assert.Equal(t, "-65", rows[0].Value)
}

func TestSQLiteStore_SkipsUndecodableRows(t *testing.T) {
	s := openSQLite(t, Options{})
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, DataPoint{Type: "t", Value: 1.0}))

	_, err := s.db.Exec(`INSERT INTO data_points (category, created_at, created_unix_nanos, type, value)
		VALUES ('raw_data', '2025-03-01T12:00:00Z', ?, 't', '{broken')`, testutil.Epoch.UnixNano())
	require.NoError(t, err)

	got, err := s.Get(ctx, Query{Types: []string{"t"}, StartedAt: testutil.Epoch.Add(-time.Second), EndedAt: testutil.Epoch.Add(time.Second)})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	tail, err := s.Tail(ctx, CategoryRaw, 5)
	require.NoError(t, err)
	assert.Len(t, tail, 1)
}
