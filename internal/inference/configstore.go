package inference

import (
	"fmt"

	"github.com/banshee-data/whereabouts/internal/catalog"
	"github.com/banshee-data/whereabouts/internal/fsutil"
	"github.com/banshee-data/whereabouts/internal/monitoring"
)

// ConfigStore keeps inference configurations in one JSON file keyed by name.
type ConfigStore struct {
	store *catalog.Store[*Config]
}

// NewConfigStore returns a ConfigStore backed by path.
func NewConfigStore(fsys fsutil.FileSystem, path string) *ConfigStore {
	return &ConfigStore{store: catalog.New[*Config](fsys, path, "inference configuration")}
}

// Path returns the catalog file.
func (s *ConfigStore) Path() string { return s.store.Path() }

// All returns every configuration keyed by name. Entries stored without a
// name take their key.
func (s *ConfigStore) All() (map[string]*Config, error) {
	all, err := s.store.All()
	if err != nil {
		return nil, err
	}
	for name, cfg := range all {
		if cfg == nil {
			delete(all, name)
			continue
		}
		if cfg.Name == "" {
			cfg.Name = name
		}
	}
	return all, nil
}

// Names returns the configuration names in lexical order.
func (s *ConfigStore) Names() ([]string, error) { return s.store.Names() }

// Get returns the named configuration or ErrConfigNotFound.
func (s *ConfigStore) Get(name string) (*Config, error) {
	cfg, ok, err := s.store.Get(name)
	if err != nil {
		return nil, err
	}
	if !ok || cfg == nil {
		monitoring.Warnf("inference configuration %q not found in %s", name, s.store.Path())
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, nil
}

// Save validates cfg and stores it under its name, replacing any existing
// entry.
func (s *ConfigStore) Save(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Field: "name", Reason: "configuration is nil"}
	}
	if err := cfg.Validate(); err != nil {
		monitoring.Errorf("not saving inference configuration %q: %v", cfg.Name, err)
		return err
	}
	if err := s.store.Put(cfg.Name, cfg.Clone()); err != nil {
		return err
	}
	monitoring.Infof("saved inference configuration %s", cfg.Name)
	return nil
}

// Update replaces the existing configuration name with cfg. cfg must carry
// the same name and pass validation.
func (s *ConfigStore) Update(name string, cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Field: "name", Reason: "configuration is nil"}
	}
	if cfg.Name != name {
		err := &ValidationError{Field: "name", Reason: fmt.Sprintf("%q does not match %q", cfg.Name, name)}
		monitoring.Errorf("not updating inference configuration %q: %v", name, err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		monitoring.Errorf("not updating inference configuration %q: %v", name, err)
		return err
	}
	stored := cfg.Clone()
	err := s.store.Modify(func(entries map[string]*Config) (bool, error) {
		if _, ok := entries[name]; !ok {
			return false, fmt.Errorf("%w: %s", ErrConfigNotFound, name)
		}
		entries[name] = stored
		return true, nil
	})
	if err != nil {
		monitoring.Warnf("not updating inference configuration %q: %v", name, err)
		return err
	}
	monitoring.Infof("updated inference configuration %s", name)
	return nil
}

// Delete removes the named configuration.
func (s *ConfigStore) Delete(name string) error {
	existed, err := s.store.Delete(name)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}
	monitoring.Infof("deleted inference configuration %s", name)
	return nil
}
