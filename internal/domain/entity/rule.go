package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Wildcard matches any transaction type or currency in a rule
const Wildcard = "*"

// ApprovalRule is a configuration template mapping a bracket of transactions to a level plan
type ApprovalRule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	TransactionType string          `json:"transaction_type"`
	Currency        string          `json:"currency"`
	Threshold       float64         `json:"threshold"`
	Levels          []RuleLevel     `json:"levels"`
	Conditions      *RuleConditions `json:"conditions,omitempty"`
	Active          bool            `json:"active"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RuleLevel is one level of a rule's plan template
type RuleLevel struct {
	Roles      []string `json:"roles"`
	RequireAll bool     `json:"require_all,omitempty"`
}

// RuleConditions narrows a rule by when and where the transaction happened
type RuleConditions struct {
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	FromHour  int            `json:"from_hour"`
	ToHour    int            `json:"to_hour"`
	Locations []string       `json:"locations,omitempty"`
	Timezone  string         `json:"timezone,omitempty"`
}

// Scope returns how specific the rule's matching criteria are; higher is more specific
func (r ApprovalRule) Scope() int {
	score := 0
	if r.TransactionType != Wildcard {
		score += 2
	}
	if r.Currency != Wildcard {
		score++
	}
	return score
}

// Covers reports whether the rule's type and currency criteria include the transaction
func (r ApprovalRule) Covers(txType, currency string) bool {
	return (r.TransactionType == Wildcard || strings.EqualFold(r.TransactionType, txType)) &&
		(r.Currency == Wildcard || strings.EqualFold(r.Currency, currency))
}

// Validate checks the rule template is usable
func (r ApprovalRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.TransactionType == "" || r.Currency == "" {
		return fmt.Errorf("rule %s: transaction type and currency are required (use %q for any)", r.ID, Wildcard)
	}
	if r.Threshold < 0 {
		return fmt.Errorf("rule %s: threshold must not be negative", r.ID)
	}
	if len(r.Levels) < 1 || len(r.Levels) > workflow.MaxRuleLevels {
		return fmt.Errorf("rule %s: needs 1-%d levels, has %d", r.ID, workflow.MaxRuleLevels, len(r.Levels))
	}
	for i, l := range r.Levels {
		if len(l.Roles) == 0 {
			return fmt.Errorf("rule %s: level %d has no roles", r.ID, i+1)
		}
	}
	if c := r.Conditions; c != nil {
		if c.FromHour < 0 || c.FromHour > 24 || c.ToHour < 0 || c.ToHour > 24 {
			return fmt.Errorf("rule %s: hours must be within 0-24", r.ID)
		}
		if c.Timezone != "" {
			if _, err := time.LoadLocation(c.Timezone); err != nil {
				return fmt.Errorf("rule %s: invalid timezone %q: %w", r.ID, c.Timezone, err)
			}
		}
	}
	return nil
}

// ConditionsHold evaluates the optional time and location conditions against the transaction
func (r ApprovalRule) ConditionsHold(tx Transaction, now time.Time) bool {
	c := r.Conditions
	if c == nil {
		return true
	}

	at := tx.EffectiveTime(now)
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			at = at.In(loc)
		}
	}

	if len(c.Weekdays) > 0 {
		found := false
		for _, d := range c.Weekdays {
			if d == at.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// An equal from/to means the whole day
	if c.FromHour != c.ToHour {
		h := at.Hour()
		if c.FromHour < c.ToHour {
			if h < c.FromHour || h >= c.ToHour {
				return false
			}
		} else if h < c.FromHour && h >= c.ToHour {
			// Window wraps past midnight
			return false
		}
	}

	if len(c.Locations) > 0 {
		found := false
		for _, l := range c.Locations {
			if strings.EqualFold(l, tx.Location) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// PlanLevels materializes the rule template into concrete numbered plan levels
func (r ApprovalRule) PlanLevels() []workflow.Level {
	levels := make([]workflow.Level, len(r.Levels))
	for i, l := range r.Levels {
		mode := workflow.ModeOR
		if l.RequireAll {
			mode = workflow.ModeAND
		}
		levels[i] = workflow.Level{
			Number: i + 1,
			Roles:  append([]string(nil), l.Roles...),
			Mode:   mode,
		}
	}
	return levels
}
