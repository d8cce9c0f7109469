package entity

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/apperr"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Transaction is the financial transaction submitted for authorization
type Transaction struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Amount         float64           `json:"amount"`
	Currency       string            `json:"currency"`
	RequesterID    string            `json:"requester_id"`
	RequesterRoles []string          `json:"requester_roles,omitempty"`
	Location       string            `json:"location,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate rejects malformed transactions before any evaluation happens
func (t Transaction) Validate() error {
	const op = "transaction.validate"
	if strings.TrimSpace(t.ID) == "" {
		return apperr.Validation(op, "transaction id is required")
	}
	if strings.TrimSpace(t.Type) == "" {
		return apperr.Validation(op, "transaction type is required")
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount <= 0 {
		return apperr.Validation(op, "amount must be positive and finite, got %v", t.Amount)
	}
	if !currencyPattern.MatchString(t.Currency) {
		return apperr.Validation(op, "currency must be a 3-letter upper-case code, got %q", t.Currency)
	}
	if strings.TrimSpace(t.RequesterID) == "" {
		return apperr.Validation(op, "requester id is required")
	}
	return nil
}

// EffectiveTime returns the instant rule conditions are evaluated against
func (t Transaction) EffectiveTime(now time.Time) time.Time {
	if t.OccurredAt.IsZero() {
		return now
	}
	return t.OccurredAt
}
