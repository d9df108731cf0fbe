package datastore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/whereabouts/internal/monitoring"
)

// Ingest reads newline-delimited collector points from r and appends each to
// categories. Malformed lines are logged and skipped; a write failure stops
// the run.
func Ingest(ctx context.Context, s Store, r io.Reader, categories ...string) (written, skipped int, err error) {
	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return written, skipped, err
		}
		line, rerr := br.ReadBytes('\n')
		if line = trimNewline(line); len(line) > 0 {
			p, perr := ParseIncoming(line)
			if perr != nil {
				skipLine(fmt.Sprintf("input line %d", lineNo), line, perr)
				skipped++
			} else if err := s.Set(ctx, p, categories...); errors.Is(err, ErrInvalidPoint) {
				skipLine(fmt.Sprintf("input line %d", lineNo), line, &LineError{Reason: monitoring.SkipMissingField, Err: err})
				skipped++
			} else if err != nil {
				return written, skipped, fmt.Errorf("line %d: %w", lineNo, err)
			} else {
				written++
			}
		}
		if rerr == io.EOF {
			return written, skipped, nil
		}
		if rerr != nil {
			return written, skipped, fmt.Errorf("read input: %w", rerr)
		}
	}
}
