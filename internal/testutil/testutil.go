// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t testing.TB, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// AssertNear fails the test if got and want differ by more than tol.
func AssertNear(t testing.TB, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %.6f, want %.6f (±%g)", name, got, want, tol)
	}
}

// MustTime parses an ISO-8601 timestamp or fails the test.
func MustTime(t testing.TB, s string) time.Time {
	t.Helper()
	ts, err := timeutil.ParseISO(s)
	if err != nil {
		t.Fatalf("bad fixture timestamp: %v", err)
	}
	return ts
}

// Epoch is a fixed reference instant used by fixtures.
var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewClock returns a MockClock set to Epoch.
func NewClock() *timeutil.MockClock {
	return timeutil.NewMockClock(Epoch)
}
