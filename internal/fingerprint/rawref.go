package fingerprint

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/banshee-data/whereabouts/internal/datastore"
)

// EncodeRawData packs the raw window behind a fingerprint as hex-encoded,
// zlib-compressed JSON.
func EncodeRawData(points []datastore.DataPoint) (string, error) {
	if points == nil {
		points = []datastore.DataPoint{}
	}
	data, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("encode raw data: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("compress raw data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress raw data: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DecodeRawData reverses EncodeRawData.
func DecodeRawData(ref string) ([]datastore.DataPoint, error) {
	compressed, err := hex.DecodeString(ref)
	if err != nil {
		return nil, fmt.Errorf("decode raw data reference: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompress raw data: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress raw data: %w", err)
	}
	var points []datastore.DataPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("decode raw data points: %w", err)
	}
	return points, nil
}
