package locator

import (
	"fmt"

	"github.com/banshee-data/whereabouts/internal/config"
	"github.com/banshee-data/whereabouts/internal/datastore"
	"github.com/banshee-data/whereabouts/internal/fingerprint"
	"github.com/banshee-data/whereabouts/internal/fsutil"
	"github.com/banshee-data/whereabouts/internal/inference"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// OpenStore opens the data store selected by settings.
func OpenStore(settings *config.Settings, clock timeutil.Clock) (datastore.Store, error) {
	opts := datastore.Options{
		Categories:     settings.GetCategories(),
		TailChunkBytes: settings.GetTailChunkBytes(),
		Clock:          clock,
	}
	switch backend := settings.GetBackend(); backend {
	case config.BackendFile:
		return datastore.NewFileStore(settings.GetDataDir(), opts)
	case config.BackendSQLite:
		return datastore.OpenSQLite(settings.GetSQLitePath(), opts)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// Open builds a Service from settings. fsys backs the catalogs and defaults
// to the OS file system.
func Open(settings *config.Settings, fsys fsutil.FileSystem, clock timeutil.Clock) (*Service, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	store, err := OpenStore(settings, clock)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}
	configs := inference.NewConfigStore(fsys, settings.InferenceConfigPath())
	svc, err := New(Components{
		Store:     store,
		Generator: fingerprint.NewGenerator(store, clock),
		Catalog:   fingerprint.NewCatalog(fsys, settings.FingerprintCatalogPath(), clock),
		Configs:   configs,
		Scorer:    inference.NewScorer(store, configs, clock),
		Clock:     clock,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}
