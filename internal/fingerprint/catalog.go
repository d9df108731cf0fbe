package fingerprint

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/whereabouts/internal/catalog"
	"github.com/banshee-data/whereabouts/internal/fsutil"
	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// Catalog holds the calibrated fingerprints in one JSON file keyed by type.
type Catalog struct {
	store *catalog.Store[*Fingerprint]
	clock timeutil.Clock
}

// NewCatalog returns a Catalog backed by path.
func NewCatalog(fsys fsutil.FileSystem, path string, clock timeutil.Clock) *Catalog {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Catalog{store: catalog.New[*Fingerprint](fsys, path, "fingerprint"), clock: clock}
}

// Path returns the catalog file.
func (c *Catalog) Path() string { return c.store.Path() }

// All returns every calibrated fingerprint keyed by type.
func (c *Catalog) All() (map[string]*Fingerprint, error) {
	all, err := c.store.All()
	if err != nil {
		return nil, err
	}
	for typ, fp := range all {
		if fp == nil {
			delete(all, typ)
			continue
		}
		normalize(fp)
	}
	return all, nil
}

// InNamespace returns the fingerprints whose type starts with namespace+".",
// ordered by type.
func (c *Catalog) InNamespace(namespace string) ([]*Fingerprint, error) {
	all, err := c.All()
	if err != nil {
		return nil, err
	}
	prefix := namespace + "."
	var out []*Fingerprint
	for typ, fp := range all {
		if strings.HasPrefix(typ, prefix) {
			out = append(out, fp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// Get returns the fingerprint of the given type.
func (c *Catalog) Get(typ string) (*Fingerprint, error) {
	fp, ok, err := c.store.Get(typ)
	if err != nil {
		return nil, err
	}
	if !ok || fp == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, typ)
	}
	normalize(fp)
	return fp, nil
}

// Save stores fp under its type, replacing any existing entry.
func (c *Catalog) Save(fp *Fingerprint) error {
	if fp == nil || fp.Type == "" {
		return errors.New("fingerprint has no type")
	}
	if err := c.store.Put(fp.Type, fp); err != nil {
		return err
	}
	monitoring.Infof("saved calibrated fingerprint %s", fp.Type)
	return nil
}

// Update replaces the existing fingerprint typ with fp and refreshes its
// updated_at. The entry must exist and fp must carry the same type.
func (c *Catalog) Update(typ string, fp *Fingerprint) (*Fingerprint, error) {
	if fp == nil || fp.Type != typ {
		got := ""
		if fp != nil {
			got = fp.Type
		}
		monitoring.Warnf("not updating fingerprint %s: replacement has type %q", typ, got)
		return nil, fmt.Errorf("%w: updating %q with %q", ErrTypeMismatch, typ, got)
	}

	updated := *fp
	updated.UpdatedAt = c.clock.Now()
	err := c.store.Modify(func(entries map[string]*Fingerprint) (bool, error) {
		if _, ok := entries[typ]; !ok {
			return false, fmt.Errorf("%w: %s", ErrNotFound, typ)
		}
		entries[typ] = &updated
		return true, nil
	})
	if err != nil {
		monitoring.Warnf("not updating fingerprint %s: %v", typ, err)
		return nil, err
	}
	monitoring.Infof("updated calibrated fingerprint %s", typ)
	return &updated, nil
}

// Delete removes the fingerprint of the given type.
func (c *Catalog) Delete(typ string) error {
	existed, err := c.store.Delete(typ)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", ErrNotFound, typ)
	}
	monitoring.Infof("deleted calibrated fingerprint %s", typ)
	return nil
}

func normalize(fp *Fingerprint) {
	if fp != nil && fp.Statistics == nil {
		fp.Statistics = map[string]Statistic{}
	}
}
