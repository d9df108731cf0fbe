package inference

import (
	"errors"
	"fmt"

	"github.com/banshee-data/whereabouts/internal/catalog"
)

// ErrNoPrediction is the class of every aborted run. A run that scores
// candidates but finds none confident enough is not an error.
var ErrNoPrediction = errors.New("no prediction available")

var (
	// ErrConfigNotFound is returned for an unknown configuration name. It is
	// both a not-found and a no-prediction condition.
	ErrConfigNotFound = fmt.Errorf("inference configuration %w (%w)", catalog.ErrNotFound, ErrNoPrediction)
	// ErrNoCurrentData is returned when the current window has no statistics.
	ErrNoCurrentData = fmt.Errorf("%w: no current sensor data in window", ErrNoPrediction)
	// ErrNoCalibrated is returned when no calibrated fingerprint exists in the
	// configuration's namespace.
	ErrNoCalibrated = fmt.Errorf("%w: no calibrated fingerprints in namespace", ErrNoPrediction)
)

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// validationErrors collects field problems for errors.Join.
type validationErrors []error

func (v *validationErrors) add(field, format string, args ...any) {
	*v = append(*v, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (v validationErrors) err() error { return errors.Join(v...) }
