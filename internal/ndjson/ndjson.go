// Package ndjson reads and writes newline-delimited JSON logs with a hard
// per-line size cap, the record format for the DLQ and learning-event logs.
package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MaxLineSize is the maximum NDJSON record size (256 KiB)
const MaxLineSize = 256 * 1024

// Marshal renders v as a single JSON line (without the trailing newline),
// enforcing the size cap.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	if len(data) > MaxLineSize {
		return nil, fmt.Errorf("record size %d exceeds limit %d", len(data), MaxLineSize)
	}
	return data, nil
}

// ScanResult reports the outcome of scanning an NDJSON stream
type ScanResult struct {
	Lines          int
	MalformedLines int
}

// Scan reads r line by line, unmarshals each non-empty line into a fresh
// map and hands it to fn together with the raw bytes. Malformed lines are
// counted, not fatal: an append-only log survives a torn final line.
func Scan(r io.Reader, fn func(line int, record map[string]any, raw []byte) error) (ScanResult, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineSize)
	scanner.Buffer(buf, MaxLineSize)

	var result ScanResult
	for scanner.Scan() {
		result.Lines++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		record := make(map[string]any)
		if err := json.Unmarshal(raw, &record); err != nil {
			result.MalformedLines++
			continue
		}
		if err := fn(result.Lines, record, raw); err != nil {
			return result, err
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("error reading stream: %w", err)
	}
	return result, nil
}
