package store

import (
	"encoding/json"
	"time"
)

// parseEventTime parses an RFC 3339 event timestamp, falling back to the
// local receive time when the field is empty or unparseable.
func parseEventTime(ts string, fallback time.Time) time.Time {
	if ts == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fallback
	}
	return t
}

// metadataToJSONB marshals alert metadata for a JSONB column. Nil maps
// produce a nil value so the column stays NULL.
func metadataToJSONB(m map[string]any) []byte {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}
