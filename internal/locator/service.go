// Package locator wires the data store, fingerprint generator and inference
// scorer together. The generator and scorer do not know about each other;
// Service passes the generator and catalog into each scoring run.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/whereabouts/internal/datastore"
	"github.com/banshee-data/whereabouts/internal/fingerprint"
	"github.com/banshee-data/whereabouts/internal/inference"
	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// Components are the independently constructed parts a Service coordinates.
type Components struct {
	Store     datastore.Store
	Generator *fingerprint.Generator
	Catalog   *fingerprint.Catalog
	Configs   *inference.ConfigStore
	Scorer    *inference.Scorer
	Clock     timeutil.Clock
}

// Service is the entry point for fingerprinting and inference.
type Service struct {
	store     datastore.Store
	generator *fingerprint.Generator
	catalog   *fingerprint.Catalog
	configs   *inference.ConfigStore
	scorer    *inference.Scorer
	clock     timeutil.Clock
}

// New returns a Service over c. Store, Generator, Catalog, Configs and
// Scorer are required.
func New(c Components) (*Service, error) {
	var missing []string
	if c.Store == nil {
		missing = append(missing, "store")
	}
	if c.Generator == nil {
		missing = append(missing, "generator")
	}
	if c.Catalog == nil {
		missing = append(missing, "catalog")
	}
	if c.Configs == nil {
		missing = append(missing, "configs")
	}
	if c.Scorer == nil {
		missing = append(missing, "scorer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("locator: missing %s", strings.Join(missing, ", "))
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return &Service{
		store:     c.Store,
		generator: c.Generator,
		catalog:   c.Catalog,
		configs:   c.Configs,
		scorer:    c.Scorer,
		clock:     c.Clock,
	}, nil
}

// Store returns the data store readings and results are written to.
func (s *Service) Store() datastore.Store { return s.store }

// Catalog returns the calibrated fingerprint catalog.
func (s *Service) Catalog() *fingerprint.Catalog { return s.catalog }

// Configs returns the inference configuration store.
func (s *Service) Configs() *inference.ConfigStore { return s.configs }

// Clock returns the clock used for default window ends and the watch loop.
func (s *Service) Clock() timeutil.Clock { return s.clock }

// Generator returns the fingerprint generator.
func (s *Service) Generator() *fingerprint.Generator { return s.generator }

// Close releases the data store.
func (s *Service) Close() error { return s.store.Close() }

// GenerateFingerprint summarises the window of configuration configName
// ending at endedAt into a fingerprint of the given type. An unknown
// configuration returns inference.ErrConfigNotFound.
func (s *Service) GenerateFingerprint(ctx context.Context, fingerprintType, configName string, endedAt time.Time) (*fingerprint.Fingerprint, error) {
	cfg, err := s.configs.Get(configName)
	if err != nil {
		return nil, err
	}
	return s.generator.Generate(ctx, fingerprintType, cfg.FingerprintRequest(), endedAt)
}

// Calibrate generates the fingerprint of location from the window ending at
// endedAt and saves it to the catalog as "{inference_type}.{location}".
func (s *Service) Calibrate(ctx context.Context, location, configName string, endedAt time.Time) (*fingerprint.Fingerprint, error) {
	location = strings.TrimSpace(location)
	if location == "" || strings.Contains(location, ".") {
		return nil, &inference.ValidationError{Field: "location", Reason: fmt.Sprintf("%q must be a non-empty name without dots", location)}
	}
	cfg, err := s.configs.Get(configName)
	if err != nil {
		return nil, err
	}
	fp, err := s.generator.Generate(ctx, cfg.InferenceType+"."+location, cfg.FingerprintRequest(), endedAt)
	if err != nil {
		return nil, err
	}
	if len(fp.Statistics) == 0 {
		monitoring.Warnf("calibrating %s with an empty window", fp.Type)
	}
	if err := s.catalog.Save(fp); err != nil {
		return nil, err
	}
	return fp, nil
}

// Infer runs configuration configName over the window ending at now.
func (s *Service) Infer(ctx context.Context, configName string, now time.Time) (*inference.Result, error) {
	return s.scorer.Run(ctx, configName, now, s.generator, s.catalog)
}

// WatchFunc receives the outcome of each run started by Watch.
type WatchFunc func(configName string, res *inference.Result, err error)

// Watch runs inference for each of names once immediately and then every
// interval until ctx is done. A failed run is reported to fn and logged; the
// loop continues. fn may be nil.
func (s *Service) Watch(ctx context.Context, names []string, interval time.Duration, fn WatchFunc) error {
	if len(names) == 0 {
		return errors.New("watch: no configurations given")
	}
	if interval <= 0 {
		return fmt.Errorf("watch: interval must be positive, got %s", interval)
	}
	monitoring.Infof("watching %s every %s", strings.Join(names, ", "), interval)

	runAll := func() {
		now := s.clock.Now()
		for _, name := range names {
			if ctx.Err() != nil {
				return
			}
			res, err := s.Infer(ctx, name, now)
			if err != nil && !errors.Is(err, inference.ErrNoPrediction) {
				monitoring.Errorf("watch %s: %v", name, err)
			}
			if fn != nil {
				fn(name, res, err)
			}
		}
	}

	runAll()
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			monitoring.Infof("watch stopped: %v", ctx.Err())
			return nil
		case <-ticker.C():
			runAll()
		}
	}
}
