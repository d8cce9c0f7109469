package entity

import "time"

// HoldReason explains internally why a transaction was held
type HoldReason string

const (
	HoldFraudBlock           HoldReason = "FRAUD_BLOCK"
	HoldUpstreamUnavailable  HoldReason = "UPSTREAM_UNAVAILABLE"
	HoldMissingConfiguration HoldReason = "MISSING_CONFIGURATION"
)

// PublicHoldStatus is the only status held transactions expose to requesters
const PublicHoldStatus = "under_review"

// TransactionHold records a transaction halted pending manual investigation
type TransactionHold struct {
	ID               string     `json:"id"`
	TransactionID    string     `json:"transaction_id"`
	Reason           HoldReason `json:"reason"`
	Detail           string     `json:"detail,omitempty"`
	RiskAssessmentID string     `json:"risk_assessment_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
