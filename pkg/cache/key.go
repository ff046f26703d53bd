package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// GenerateKey derives a deterministic cache key from an operation and its
// parameters. Parameters that differ only in object key order hash equally.
func GenerateKey(op Operation, params any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s params: %w", op, err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%s:%x", op, sum), nil
}

// canonicalJSON round-trips v through a generic value so that struct field
// order and map ordering no longer matter; encoding/json sorts map keys.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
