package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentra-labs/riskfeed/internal/model"
)

// Manager owns a single feed connection, its channel subscription, and
// its recovery policy. At most one live socket handle exists per Manager
// at any time.
type Manager interface {
	// Connect enables the feed and opens the connection. No-op when the
	// connection is already open. A failed dial is recorded fail-soft
	// and retried per the reconnect policy; the error is also returned
	// so callers that care can log it.
	Connect(ctx context.Context) error

	// Disconnect disables the feed: cancels any pending reconnect,
	// closes the socket, and marks the state disconnected. Idempotent.
	Disconnect() error

	// Send serializes payload and transmits it only if the socket is
	// currently open. Fire-and-forget: no queueing, no retry.
	Send(payload any) bool

	// Status returns a snapshot of the connection state.
	Status() Status

	// Stats returns activity counters.
	Stats() Stats
}

// Handlers receive dispatched messages. Either may be nil; parsed frames
// with no registered handler are counted as dropped.
type Handlers struct {
	OnAlert  func(model.Alert)
	OnUpdate func(Envelope)
}

type manager struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	// newClient is a seam for tests; defaults to NewClient.
	newClient func(ClientConfig, *slog.Logger) Client

	mu         sync.Mutex
	client     Client
	enabled    bool
	connected  bool
	attempts   int
	lastErr    string
	lastMsg    *Envelope
	retryTimer *time.Timer
	gen        int // connection generation; read loops for older gens are stale
	ctx        context.Context

	statsMu sync.Mutex
	stats   Stats
}

// NewManager creates a feed Manager. The connection is not opened until
// Connect is called.
func NewManager(cfg Config, handlers Handlers, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &manager{
		cfg:       cfg.withDefaults(),
		handlers:  handlers,
		logger:    logger,
		newClient: NewClient,
	}
}

// reconnectDelay computes the wait before the given attempt (1-based).
// Linear in the attempt number: base, 2*base, 3*base, ...
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

func (m *manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}

	m.enabled = true
	if ctx == nil {
		ctx = context.Background()
	}
	m.ctx = ctx

	// An explicit Connect supersedes any pending retry.
	m.stopRetryLocked()

	if err := m.dialLocked(); err != nil {
		m.lastErr = err.Error()
		m.scheduleReconnectLocked()
		return fmt.Errorf("dial feed: %w", err)
	}
	return nil
}

func (m *manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.stopRetryLocked()
	m.gen++ // invalidate any in-flight read loop

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	if m.connected {
		m.logger.Info("feed disconnected")
	}
	m.connected = false
	return nil
}

func (m *manager) Send(payload any) bool {
	m.mu.Lock()
	client := m.client
	connected := m.connected
	m.mu.Unlock()

	if !connected || client == nil {
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("failed to serialize outbound message", "error", err)
		return false
	}
	if err := client.Send(data); err != nil {
		m.logger.Warn("failed to send message", "error", err)
		return false
	}
	return true
}

func (m *manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connected:         m.connected,
		LastMessage:       m.lastMsg,
		Err:               m.lastErr,
		ReconnectAttempts: m.attempts,
	}
}

func (m *manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// dialLocked opens a new connection and sends the subscribe frame.
// Caller holds m.mu. On success the attempt counter and stored error are
// reset and a read loop for the new generation is started.
func (m *manager) dialLocked() error {
	// At most one live handle: drop any previous client first.
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	client := m.newClient(ClientConfig{
		URL:          m.cfg.Endpoint,
		APIKey:       m.cfg.APIKey,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.logger)

	if err := client.Connect(m.ctx); err != nil {
		return err
	}

	// Subscription goes out before any other outbound frame.
	frame, err := json.Marshal(subscribeFrame{Type: "subscribe", Channels: m.cfg.Channels})
	if err == nil {
		err = client.Send(frame)
	}
	if err != nil {
		client.Close()
		return fmt.Errorf("send subscribe: %w", err)
	}

	m.gen++
	m.client = client
	m.connected = true
	m.lastErr = ""
	m.attempts = 0

	m.statsMu.Lock()
	m.stats.Connects++
	m.statsMu.Unlock()

	m.logger.Info("feed connected",
		"endpoint", m.cfg.Endpoint,
		"channels", m.cfg.Channels,
	)

	go m.readLoop(client, m.gen)
	return nil
}

// readLoop consumes one connection's frames until it dies or is superseded.
func (m *manager) readLoop(client Client, gen int) {
	for {
		select {
		case <-client.Done():
			return
		case err := <-client.Errors():
			m.handleClose(gen, err)
			return
		case msg, ok := <-client.Messages():
			if !ok {
				m.handleClose(gen, nil)
				return
			}
			m.dispatch(msg)
		}
	}
}

// handleClose reacts to a connection loss for the given generation.
func (m *manager) handleClose(gen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return // stale loop, a newer connection owns the state
	}

	m.connected = false
	if err != nil {
		m.lastErr = err.Error()
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	m.logger.Warn("feed connection lost", "error", err)

	if m.enabled {
		m.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms the retry timer for the next attempt, or
// gives up once the ceiling is reached. Caller holds m.mu.
func (m *manager) scheduleReconnectLocked() {
	if m.cfg.MaxReconnectAttempts == 0 {
		m.logger.Debug("reconnects disabled, feed stays down")
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Warn("reconnect attempts exhausted, feed stays down",
			"attempts", m.attempts,
		)
		return
	}

	m.attempts++
	delay := reconnectDelay(m.cfg.ReconnectBaseDelay, m.attempts)

	m.logger.Info("scheduling reconnect",
		"attempt", m.attempts,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"delay", delay,
	)

	m.retryTimer = time.AfterFunc(delay, m.retry)
}

// stopRetryLocked cancels a pending reconnect. Caller holds m.mu.
func (m *manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// retry runs when the reconnect timer fires.
func (m *manager) retry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryTimer = nil
	if !m.enabled || m.connected {
		return
	}

	m.statsMu.Lock()
	m.stats.Reconnects++
	m.statsMu.Unlock()

	if err := m.dialLocked(); err != nil {
		m.lastErr = err.Error()
		m.logger.Warn("reconnect failed",
			"attempt", m.attempts,
			"error", err,
		)
		m.scheduleReconnectLocked()
	}
}
