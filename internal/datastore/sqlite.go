package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// SQLiteStore keeps points in an indexed data_points table. It uses a single
// connection, so writes are serialised by the database handle.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
	opts Options
}

var _ Store = (*SQLiteStore)(nil)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations unless opts.SkipMigrate is set.
func OpenSQLite(path string, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path, opts: opts}
	if !opts.SkipMigrate {
		if err := s.MigrateUp(); err != nil {
			db.Close()
			return nil, err
		}
	}
	monitoring.Infof("sqlite store ready at %s (categories %v)", path, opts.Categories)
	return s, nil
}

// Categories lists the configured categories.
func (s *SQLiteStore) Categories() []string { return slices.Clone(s.opts.Categories) }

// Set inserts one row per category in a single transaction.
func (s *SQLiteStore) Set(ctx context.Context, p DataPoint, categories ...string) error {
	p, err := prepare(p, s.opts.Clock)
	if err != nil {
		return err
	}
	value, err := json.Marshal(p.Value)
	if err != nil {
		return fmt.Errorf("encode value of %s: %w", p.Type, err)
	}

	cats, err := writeCategories(categories, s.opts.Categories)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, c := range cats {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO data_points (category, created_at, created_unix_nanos, type, "key", value, device)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c, timeutil.FormatISO(p.CreatedAt), p.CreatedAt.UnixNano(), p.Type, p.Key, string(value), p.Device)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", c, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, c := range cats {
		monitoring.PointsWritten.WithLabelValues(c).Inc()
	}
	return nil
}

type pointRow struct {
	ID        int64  `db:"id"`
	Category  string `db:"category"`
	CreatedNs int64  `db:"created_unix_nanos"`
	Type      string `db:"type"`
	Key       string `db:"key"`
	Value     string `db:"value"`
	Device    string `db:"device"`
}

const selectPoints = `SELECT id, category, created_unix_nanos, type, "key", value, device FROM data_points`

func (r pointRow) point() (DataPoint, error) {
	var v any
	if err := json.Unmarshal([]byte(r.Value), &v); err != nil {
		return DataPoint{}, &LineError{Reason: monitoring.SkipBadJSON, Err: err}
	}
	return DataPoint{
		CreatedAt: time.Unix(0, r.CreatedNs).UTC(),
		Type:      r.Type,
		Key:       r.Key,
		Value:     v,
		Device:    r.Device,
	}, nil
}

func (s *SQLiteStore) decodeRows(rows []pointRow) []DataPoint {
	out := make([]DataPoint, 0, len(rows))
	for _, r := range rows {
		p, err := r.point()
		if err != nil {
			skipLine(fmt.Sprintf("%s row %d", s.path, r.ID), []byte(r.Value), err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// typeClause matches a type exactly or as a dot-separated descendant. substr
// is used rather than LIKE, which would treat '_' as a wildcard.
func typeClause(types []string) (string, []any) {
	parts := make([]string, 0, len(types))
	args := make([]any, 0, 3*len(types))
	for _, t := range types {
		parts = append(parts, `(type = ? OR substr(type, 1, ?) = ?)`)
		args = append(args, t, len(t)+1, t+".")
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// Get selects matching rows in insertion order.
func (s *SQLiteStore) Get(ctx context.Context, q Query) ([]DataPoint, error) {
	cats := selectCategories(q.Categories, s.opts.Categories, s.opts.Categories)
	if len(q.Types) == 0 || len(cats) == 0 {
		return nil, nil
	}

	tc, targs := typeClause(q.Types)
	query := selectPoints + ` WHERE category IN (?) AND created_unix_nanos BETWEEN ? AND ? AND ` + tc
	args := []any{cats, q.StartedAt.UnixNano(), q.EndedAt.UnixNano()}
	args = append(args, targs...)
	if len(q.Keys) > 0 {
		query += ` AND "key" IN (?)`
		args = append(args, q.Keys)
	}
	query += ` ORDER BY id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []pointRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query data points: %w", err)
	}
	return s.decodeRows(rows), nil
}

// UniqueValues selects the distinct non-empty values of a whitelisted column.
func (s *SQLiteStore) UniqueValues(ctx context.Context, field string, categories ...string) ([]string, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	cats := selectCategories(categories, s.opts.Categories, s.opts.Categories)
	if len(cats) == 0 {
		return []string{}, nil
	}

	column := `"` + field + `"`
	query, args, err := sqlx.In(
		`SELECT DISTINCT `+column+` FROM data_points WHERE category IN (?) AND `+column+` <> '' ORDER BY `+column, cats)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	out := []string{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query unique %s: %w", field, err)
	}
	return out, nil
}

// LastTimestampForDevice returns the created_at of the latest inserted row
// from device.
func (s *SQLiteStore) LastTimestampForDevice(ctx context.Context, device, category string) (time.Time, bool, error) {
	var ns int64
	err := s.db.GetContext(ctx, &ns, `
		SELECT created_unix_nanos FROM data_points
		WHERE category = ? AND device = ?
		ORDER BY id DESC LIMIT 1`, category, device)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last timestamp for %s: %w", device, err)
	}
	return time.Unix(0, ns).UTC(), true, nil
}

// Tail returns the last n rows of category, oldest first.
func (s *SQLiteStore) Tail(ctx context.Context, category string, n int) ([]DataPoint, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []pointRow
	err := s.db.SelectContext(ctx, &rows, selectPoints+` WHERE category = ? ORDER BY id DESC LIMIT ?`, category, n)
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", category, err)
	}
	slices.Reverse(rows)
	return s.decodeRows(rows), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
