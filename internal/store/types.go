package store

import "time"

// WriterConfig controls batching behavior shared by both writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// alertRow represents a row to be inserted into the risk_alerts table.
type alertRow struct {
	IngestID    string // UUID, assigned at write time
	AlertID     string
	AlertType   string
	Severity    string
	Title       string
	Description string
	CreatedAt   time.Time
	ReceivedAt  int64  // Microseconds
	Metadata    []byte // JSONB, nil when the alert carried none
}

// updateRow represents a row to be inserted into the feed_updates table.
type updateRow struct {
	IngestID   string // UUID, assigned at write time
	Kind       string
	EventTime  time.Time
	ReceivedAt int64  // Microseconds
	Payload    []byte // JSONB, nil when the envelope carried no data
}
