package store

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a report to JSON.
func Encode(r *Report) ([]byte, error) {
	if r == nil || r.Summary == nil {
		return nil, fmt.Errorf("encode report: missing summary")
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report %s/%s: %w", r.UserID, r.FileID, err)
	}
	return b, nil
}

// Decode parses a report produced by Encode.
func Decode(b []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.Summary == nil {
		return nil, fmt.Errorf("decode report %s/%s: missing summary", r.UserID, r.FileID)
	}
	return &r, nil
}
