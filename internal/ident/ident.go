// Package ident derives deterministic, content-addressed identifiers so
// that re-ingesting the same external fact is always a no-op.
package ident

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Namespace under which content-derived UUIDs are minted. Changing it
// invalidates every previously derived event id, so it is fixed.
var namespace = uuid.MustParse("6f1c24b0-9e6a-4f29-8f72-0c6b3a9d5e11")

// CanonicalJSON converts v to deterministic JSON by recursively sorting
// map keys; logically equivalent values always produce identical bytes.
func CanonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// EventID hashes the identifying parts into an RFC-4122 UUID (v5 style).
// The value part is canonicalized first so map ordering never changes the
// derived id.
func EventID(parts ...any) (string, error) {
	encoded := make([]string, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case string:
			encoded = append(encoded, v)
		default:
			data, err := CanonicalJSON(v)
			if err != nil {
				return "", err
			}
			encoded = append(encoded, string(data))
		}
	}
	name := strings.Join(encoded, ":")
	return uuid.NewSHA1(namespace, []byte(name)).String(), nil
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case []any:
		normalized := make([]any, len(val))
		for i, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			normalized[i] = n
		}
		return normalized, nil
	default:
		// Structs and primitives: round-trip through JSON so struct
		// values normalize the same way as decoded maps.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, err
		}
		switch g := generic.(type) {
		case map[string]any:
			return normalizeMap(g)
		case []any:
			return normalize(g)
		default:
			return generic, nil
		}
	}
}

// sortedMap marshals with its keys in ascending order
type sortedMap struct {
	keys   []string
	values map[string]any
}

func (sm *sortedMap) MarshalJSON() ([]byte, error) {
	if len(sm.keys) == 0 {
		return []byte("{}"), nil
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, key := range sm.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(sm.values[key])
		if err != nil {
			return nil, err
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func normalizeMap(m map[string]any) (*sortedMap, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	normalized := make(map[string]any, len(m))
	for _, k := range keys {
		n, err := normalize(m[k])
		if err != nil {
			return nil, err
		}
		normalized[k] = n
	}

	return &sortedMap{keys: keys, values: normalized}, nil
}
