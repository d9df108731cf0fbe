// Package catalog persists a small set of named entries as one pretty-printed
// JSON object. The file is re-read on every access and replaced atomically on
// every change, so separate processes sharing the file see whole versions.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/banshee-data/whereabouts/internal/fsutil"
	"github.com/banshee-data/whereabouts/internal/monitoring"
)

// Store is a JSON object file mapping names to values of T.
type Store[T any] struct {
	mu   sync.Mutex
	fs   fsutil.FileSystem
	path string
	kind string
}

// New returns a Store backed by path. kind names the entries in log lines,
// e.g. "fingerprint". The file is created on first write.
func New[T any](fsys fsutil.FileSystem, path, kind string) *Store[T] {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Store[T]{fs: fsys, path: path, kind: kind}
}

// Path returns the backing file.
func (s *Store[T]) Path() string { return s.path }

// All returns every entry. A missing file is an empty catalog; an unreadable
// or corrupt one is an error.
func (s *Store[T]) All() (map[string]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Names returns the entry names in lexical order.
func (s *Store[T]) Names() ([]string, error) {
	entries, err := s.All()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the named entry.
func (s *Store[T]) Get(name string) (T, bool, error) {
	entries, err := s.All()
	if err != nil {
		var zero T
		return zero, false, err
	}
	v, ok := entries[name]
	return v, ok, nil
}

// Put stores v under name, replacing any existing entry.
func (s *Store[T]) Put(name string, v T) error {
	return s.Modify(func(entries map[string]T) (bool, error) {
		entries[name] = v
		return true, nil
	})
}

// Delete removes name. It reports whether the entry existed.
func (s *Store[T]) Delete(name string) (bool, error) {
	existed := false
	err := s.Modify(func(entries map[string]T) (bool, error) {
		if _, existed = entries[name]; existed {
			delete(entries, name)
		}
		return existed, nil
	})
	return existed, err
}

// Modify loads the catalog, applies fn and, if fn reports a change, writes
// the result back. The whole sequence holds the store lock.
func (s *Store[T]) Modify(fn func(entries map[string]T) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(entries)
	if err != nil || !changed {
		return err
	}
	return s.save(entries)
}

func (s *Store[T]) load() (map[string]T, error) {
	entries := make(map[string]T)
	data, err := s.fs.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		monitoring.Debugf("%s catalog %s not found, starting empty", s.kind, s.path)
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s catalog %s: %w", s.kind, s.path, err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s catalog %s: %w", s.kind, s.path, err)
	}
	return entries, nil
}

func (s *Store[T]) save(entries map[string]T) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s catalog: %w", s.kind, err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(s.fs, s.path, data, 0o644); err != nil {
		monitoring.Errorf("failed to write %s catalog %s: %v", s.kind, s.path, err)
		return err
	}
	monitoring.Infof("wrote %s catalog %s (%d entries)", s.kind, s.path, len(entries))
	return nil
}

// ErrNotFound is the class of every "named entry does not exist" error.
// Packages wrap it with their own sentinels so callers can test either.
var ErrNotFound = errors.New("not found")
