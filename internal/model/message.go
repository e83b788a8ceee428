package model

import (
	"encoding/json"
	"time"
)

// MessageKind classifies inbound frame types into a closed set, so the
// dispatcher switch is exhaustive. Unknown is an explicit variant.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindAlert
	KindUpdate
)

// Wire type tags that produce normalized alerts.
const (
	TypeFraudAlert      = "fraud_alert"
	TypeComplianceAlert = "compliance_alert"
	TypeKYCAlert        = "kyc_alert"
)

// Wire type tags passed through as data updates.
const (
	TypeMarketUpdate        = "market_update"
	TypePerformanceUpdate   = "performance_update"
	TypeSystemHealth        = "system_health"
	TypeBusinessValueUpdate = "business_value_update"
	TypeDemoProgress        = "demo_progress"
)

// KindOf classifies a wire type tag.
func KindOf(typ string) MessageKind {
	switch typ {
	case TypeFraudAlert, TypeComplianceAlert, TypeKYCAlert:
		return KindAlert
	case TypeMarketUpdate, TypePerformanceUpdate, TypeSystemHealth,
		TypeBusinessValueUpdate, TypeDemoProgress:
		return KindUpdate
	default:
		return KindUnknown
	}
}

// AlertTypeFor maps an alert wire tag to its normalized alert type.
// Returns "" for tags that are not alert-producing.
func AlertTypeFor(typ string) string {
	switch typ {
	case TypeFraudAlert:
		return AlertFraudDetection
	case TypeComplianceAlert:
		return AlertComplianceViolation
	case TypeKYCAlert:
		return AlertKYCReview
	default:
		return ""
	}
}

// Channel is a logical topic the feed can subscribe to (e.g. "fraud_alerts").
type Channel struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// UpdateRecord is a data update as persisted by the collector.
// Payload is the envelope's data object, unmodified.
type UpdateRecord struct {
	Kind       string          // Wire type tag (TypeMarketUpdate, ...)
	Payload    json.RawMessage // May be nil when the envelope carried no data
	EventTime  string          // Envelope timestamp, may be empty
	ReceivedAt time.Time       // Local receive time
}
