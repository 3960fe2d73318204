package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeMap converts a loose JSON object (map[string]any) into a typed struct.
// Unknown fields are rejected so malformed command payloads fail loudly at
// the event-store boundary instead of being silently dropped.
func DecodeMap(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// ToMap converts a typed struct back into a loose JSON object for storage in
// a jsonb column or an event data bag.
func ToMap(in any) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return out, nil
}
