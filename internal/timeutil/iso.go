package timeutil

import (
	"fmt"
	"time"

	"github.com/relvacode/iso8601"
)

// ISOLayout is the layout used for every timestamp written to disk.
const ISOLayout = "2006-01-02T15:04:05.999999999Z07:00"

// ParseISO parses an ISO-8601 timestamp. Values without a zone designator are
// taken to be UTC. The result is always in UTC.
func ParseISO(s string) (time.Time, error) {
	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatISO renders t in UTC with a trailing Z.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// Seconds converts a fractional number of seconds into a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
