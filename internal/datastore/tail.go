package datastore

import (
	"bytes"
	"context"
	"io"
)

// reverseLines calls fn for each non-empty line of r, last line first,
// reading at most chunk bytes per ReadAt. It stops early when fn returns
// false. A final line without a trailing newline is still delivered.
func reverseLines(ctx context.Context, r io.ReaderAt, size int64, chunk int, fn func(line []byte) bool) error {
	var carry []byte
	for pos := size; pos > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := int64(chunk)
		if n > pos {
			n = pos
		}
		pos -= n

		buf := make([]byte, n, n+int64(len(carry)))
		if _, err := r.ReadAt(buf, pos); err != nil && err != io.EOF {
			return err
		}
		data := append(buf, carry...)

		for {
			i := bytes.LastIndexByte(data, '\n')
			if i < 0 {
				break
			}
			line := data[i+1:]
			data = data[:i]
			if len(line) > 0 && !fn(line) {
				return nil
			}
		}
		carry = data
	}
	if len(carry) > 0 {
		fn(carry)
	}
	return nil
}
