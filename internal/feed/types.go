package feed

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Envelope is the wire shape of every inbound frame.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// subscribeFrame is sent exactly once per successful open, before any
// other outbound frame.
type subscribeFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// TimestampedMessage wraps raw frame bytes with a local receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL          string        // Full ws(s) endpoint
	APIKey       string        // Bearer token, empty for none
	PingTimeout  time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound message channel capacity
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// Config configures a Manager.
type Config struct {
	Endpoint string   // Full ws(s) endpoint
	APIKey   string   // Bearer token, empty for none
	Channels []string // Logical channels to subscribe on open

	// ReconnectBaseDelay is multiplied by the attempt number, so delays
	// grow linearly: base, 2*base, 3*base, ... No jitter, no cap.
	ReconnectBaseDelay time.Duration

	// MaxReconnectAttempts bounds consecutive failed attempts. Once
	// reached, the feed stays down until Connect is called again.
	// Zero disables reconnects entirely; the config layer applies
	// DefaultMaxReconnectAttempts when the field is left unset there.
	MaxReconnectAttempts int

	PingTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// Default reconnect policy. The attempt ceiling is applied by callers
// (the config layer), never here: a zero MaxReconnectAttempts means the
// caller asked for no reconnects.
const (
	DefaultReconnectBaseDelay   = 2 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.BufferSize == 0 {
		c.BufferSize = 1000
	}
	return c
}

// Status is a point-in-time snapshot of the connection.
type Status struct {
	Connected         bool
	LastMessage       *Envelope // Last successfully parsed frame, nil before the first
	Err               string    // Last transport error, empty when none
	ReconnectAttempts int       // Consecutive failed attempts, reset on open
}

// Stats counts observable feed activity since the Manager was created.
type Stats struct {
	Connects     int64 // Successful opens
	Reconnects   int64 // Reconnect dials attempted (successful or not)
	MessagesSeen int64 // Frames that parsed as envelopes
	AlertsSent   int64 // Alerts delivered to the alert handler
	UpdatesSent  int64 // Updates delivered to the update handler
	ParseErrors  int64 // Frames dropped as malformed
	UnknownTypes int64 // Frames dropped as unrecognized types
	Dropped      int64 // Parsed frames dropped for lack of a handler
}
