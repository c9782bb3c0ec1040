package snapshot

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Encode serializes a snapshot in the snapshot file format.
func Encode(s *Snapshot) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	out := *s
	if out.Items == nil {
		out.Items = []ProcessSample{}
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses the snapshot file format. Any parse or validation failure
// is returned as an error; callers classify it as corrupt data.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Items == nil {
		s.Items = []ProcessSample{}
	}
	return &s, nil
}
