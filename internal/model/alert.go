package model

// Severity classifies alert urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NormalizeSeverity maps a wire severity string onto the closed set.
// Anything missing or unrecognized becomes medium.
func NormalizeSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityMedium
	}
}

// Normalized alert types produced by the feed dispatcher.
const (
	AlertFraudDetection      = "fraud_detection"
	AlertComplianceViolation = "compliance_violation"
	AlertKYCReview           = "kyc_review"
)

// Alert is the normalized alert record handed to consumers. It is built
// per message and not retained by the feed layer.
type Alert struct {
	ID          string         // Synthetic when the wire omits alert_id
	Type        string         // AlertFraudDetection, AlertComplianceViolation, AlertKYCReview
	Severity    Severity       // Defaults to medium
	Title       string
	Description string
	CreatedAt   string         // RFC 3339, taken from the envelope timestamp
	Metadata    map[string]any // Passed through unmodified, may be nil
}
