package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentra-labs/riskfeed/internal/model"
)

// Defaults for alert fields the wire may omit.
const (
	defaultAlertTitle       = "Risk alert"
	defaultAlertDescription = "No description provided"
)

// alertWire is the data payload of alert-producing frames. All fields
// are optional on the wire.
type alertWire struct {
	AlertID     string         `json:"alert_id"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

// dispatch interprets one inbound frame and routes it. A frame that does
// not parse as an envelope is logged and dropped without touching
// connection state. Parsed frames are always recorded as the last
// message, even when no handler is registered.
func (m *manager) dispatch(msg TimestampedMessage) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		m.logger.Warn("malformed frame, dropping", "error", err)
		m.statsMu.Lock()
		m.stats.ParseErrors++
		m.statsMu.Unlock()
		return
	}

	m.mu.Lock()
	m.lastMsg = &env
	m.mu.Unlock()

	m.statsMu.Lock()
	m.stats.MessagesSeen++
	m.statsMu.Unlock()

	switch model.KindOf(env.Type) {
	case model.KindAlert:
		alert := normalizeAlert(env, msg.ReceivedAt)
		if h := m.handlers.OnAlert; h != nil {
			h(alert)
			m.countDispatch(&m.stats.AlertsSent)
		} else {
			m.countDispatch(&m.stats.Dropped)
		}

	case model.KindUpdate:
		if h := m.handlers.OnUpdate; h != nil {
			h(env)
			m.countDispatch(&m.stats.UpdatesSent)
		} else {
			m.countDispatch(&m.stats.Dropped)
		}

	default:
		m.logger.Warn("unknown message type, dropping", "type", env.Type)
		m.countDispatch(&m.stats.UnknownTypes)
	}
}

func (m *manager) countDispatch(counter *int64) {
	m.statsMu.Lock()
	*counter++
	m.statsMu.Unlock()
}

// normalizeAlert builds the normalized alert record from an alert frame,
// defaulting fields the wire omitted.
func normalizeAlert(env Envelope, receivedAt time.Time) model.Alert {
	var wire alertWire
	if len(env.Data) > 0 {
		// Best-effort: a partially valid data object still normalizes,
		// absent fields take defaults.
		json.Unmarshal(env.Data, &wire)
	}

	alert := model.Alert{
		ID:          wire.AlertID,
		Type:        model.AlertTypeFor(env.Type),
		Severity:    model.NormalizeSeverity(wire.Severity),
		Title:       wire.Title,
		Description: wire.Description,
		CreatedAt:   env.Timestamp,
		Metadata:    wire.Metadata,
	}

	if alert.ID == "" {
		alert.ID = syntheticAlertID(receivedAt)
	}
	if alert.Title == "" {
		alert.Title = defaultAlertTitle
	}
	if alert.Description == "" {
		alert.Description = defaultAlertDescription
	}
	if alert.CreatedAt == "" {
		alert.CreatedAt = receivedAt.UTC().Format(time.RFC3339)
	}
	return alert
}

// syntheticAlertID derives an id for alerts the wire did not identify.
func syntheticAlertID(receivedAt time.Time) string {
	return fmt.Sprintf("alert-%d", receivedAt.UnixMilli())
}
