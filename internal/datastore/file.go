package datastore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/security"
)

// ctxCheckEvery is how many lines a scan reads between context checks.
const ctxCheckEvery = 1024

// FileStore keeps one newline-delimited JSON log per category under a data
// directory, e.g. data_logs/raw_data.log. Appends to a file are serialised by
// a per-file lock and issued as a single write call per point, so concurrent
// writers never interleave within a line.
type FileStore struct {
	dir   string
	opts  Options
	paths map[string]string
	locks map[string]*sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and prepares a log path for every
// configured category.
func NewFileStore(dir string, opts Options) (*FileStore, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}

	s := &FileStore{
		dir:   dir,
		opts:  opts,
		paths: make(map[string]string, len(opts.Categories)),
		locks: make(map[string]*sync.RWMutex, len(opts.Categories)),
	}
	for _, c := range opts.Categories {
		p, err := security.LogPath(dir, c)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", c, err)
		}
		s.paths[c] = p
		s.locks[c] = &sync.RWMutex{}
	}
	monitoring.Infof("file store ready in %s (categories %v)", dir, opts.Categories)
	return s, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the log file backing category.
func (s *FileStore) Path(category string) (string, bool) {
	p, ok := s.paths[category]
	return p, ok
}

// Categories lists the configured categories.
func (s *FileStore) Categories() []string { return slices.Clone(s.opts.Categories) }

// Set appends p as one line to each category's log.
func (s *FileStore) Set(ctx context.Context, p DataPoint, categories ...string) error {
	p, err := prepare(p, s.opts.Clock)
	if err != nil {
		return err
	}
	line, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode data point %s: %w", p.Type, err)
	}
	line = append(line, '\n')
	cats, err := writeCategories(categories, s.opts.Categories)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range cats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.appendLine(c, line); err != nil {
			monitoring.Errorf("write to %s failed: %v", c, err)
			errs = append(errs, err)
			continue
		}
		monitoring.PointsWritten.WithLabelValues(c).Inc()
		monitoring.Debugf("wrote %s to %s", p.AggregatedPath(), c)
	}
	return errors.Join(errs...)
}

func (s *FileStore) appendLine(category string, line []byte) error {
	lock, ok := s.locks[category]
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(s.paths[category], os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.paths[category], err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", s.paths[category], err)
	}
	return f.Close()
}

// Get scans each requested category's log from the start.
func (s *FileStore) Get(ctx context.Context, q Query) ([]DataPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q.Types) == 0 {
		return nil, nil
	}

	var out []DataPoint
	for _, c := range selectCategories(q.Categories, s.opts.Categories, s.opts.Categories) {
		done := false
		err := s.scan(ctx, c, func(p DataPoint) bool {
			if q.Matches(p) {
				out = append(out, p)
				if q.Limit > 0 && len(out) >= q.Limit {
					done = true
					return false
				}
			}
			return true
		})
		if err != nil {
			return out, err
		}
		if done {
			break
		}
	}
	monitoring.Debugf("get %v [%s, %s] keys=%v: %d points", q.Types, q.StartedAt, q.EndedAt, q.Keys, len(out))
	return out, nil
}

// scan decodes category's log forward, calling fn for every well-formed point
// until fn returns false. A missing log is empty.
func (s *FileStore) scan(ctx context.Context, category string, fn func(DataPoint) bool) error {
	lock := s.locks[category]
	lock.RLock()
	defer lock.RUnlock()

	path := s.paths[category]
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		monitoring.Debugf("log %s not found, skipping", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for n := 0; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if trimmed := trimNewline(line); len(trimmed) > 0 {
				p, perr := ParseLine(trimmed)
				if perr != nil {
					skipLine(path, trimmed, perr)
				} else if !fn(p) {
					return nil
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// UniqueValues scans the logs for the distinct values of field.
func (s *FileStore) UniqueValues(ctx context.Context, field string, categories ...string) ([]string, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, c := range selectCategories(categories, s.opts.Categories, s.opts.Categories) {
		err := s.scan(ctx, c, func(p DataPoint) bool {
			if v := fieldValue(p, field); v != "" {
				seen[v] = struct{}{}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// LastTimestampForDevice reads category's log backwards in fixed-size chunks
// and stops at the first point from device.
func (s *FileStore) LastTimestampForDevice(ctx context.Context, device, category string) (time.Time, bool, error) {
	var (
		found time.Time
		ok    bool
	)
	err := s.reverse(ctx, category, func(p DataPoint) bool {
		if p.Device == device {
			found, ok = p.CreatedAt, true
			return false
		}
		return true
	})
	return found, ok, err
}

// Tail returns the last n well-formed points of category, oldest first.
func (s *FileStore) Tail(ctx context.Context, category string, n int) ([]DataPoint, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]DataPoint, 0, n)
	err := s.reverse(ctx, category, func(p DataPoint) bool {
		out = append(out, p)
		return len(out) < n
	})
	slices.Reverse(out)
	return out, err
}

// reverse walks category's well-formed points from newest to oldest.
func (s *FileStore) reverse(ctx context.Context, category string, fn func(DataPoint) bool) error {
	lock, ok := s.locks[category]
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	lock.RLock()
	defer lock.RUnlock()

	path := s.paths[category]
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	err = reverseLines(ctx, f, info.Size(), s.opts.TailChunkBytes, func(line []byte) bool {
		line = trimNewline(line)
		if len(line) == 0 {
			return true
		}
		p, perr := ParseLine(line)
		if perr != nil {
			skipLine(path, line, perr)
			return true
		}
		return fn(p)
	})
	if err != nil {
		return fmt.Errorf("reverse read %s: %w", path, err)
	}
	return nil
}

// Close is a no-op; files are opened per call.
func (s *FileStore) Close() error { return nil }
