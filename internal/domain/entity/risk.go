package entity

import "time"

// RiskFactor is one contribution to a risk score
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// RiskAssessment is computed once per transaction and never edited
type RiskAssessment struct {
	ID            string       `json:"id"`
	TransactionID string       `json:"transaction_id"`
	Score         float64      `json:"score"`
	FraudBlock    bool         `json:"fraud_block"`
	Factors       []RiskFactor `json:"factors,omitempty"`
	Source        string       `json:"source"`
	AssessedAt    time.Time    `json:"assessed_at"`
}
