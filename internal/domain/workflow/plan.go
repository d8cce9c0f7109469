package workflow

import (
	"fmt"
	"strings"
)

// Mode decides how many qualifying approvals a level needs
type Mode string

const (
	// ModeOR advances on the first qualifying approval
	ModeOR Mode = "OR"
	// ModeAND advances once every qualifying role has been covered
	ModeAND Mode = "AND"
)

// IsValid returns true for a known mode
func (m Mode) IsValid() bool {
	return m == ModeOR || m == ModeAND
}

// MaxRuleLevels is the number of levels a rule template may declare.
// Risk escalation may append one more.
const MaxRuleLevels = 5

// Level is one stage of required approval
type Level struct {
	Number int      `json:"number"`
	Roles  []string `json:"roles"`
	Mode   Mode     `json:"mode"`
	// RiskReview marks the level appended by risk escalation
	RiskReview bool `json:"risk_review,omitempty"`
}

// Policy carries the role policy that applies to a workflow for its whole lifetime
type Policy struct {
	OverrideRole    string   `json:"override_role"`
	SchedulerRole   string   `json:"scheduler_role,omitempty"`
	EscalationTiers []string `json:"escalation_tiers,omitempty"`
}

// LevelPlan is the ordered, immutable plan a workflow is created with
type LevelPlan struct {
	RuleID        string  `json:"rule_id,omitempty"`
	Levels        []Level `json:"levels"`
	RiskEscalated bool    `json:"risk_escalated,omitempty"`
	Policy        Policy  `json:"policy"`
}

// TotalLevels returns the number of levels in the plan
func (p LevelPlan) TotalLevels() int {
	return len(p.Levels)
}

// Level returns the 1-based level n
func (p LevelPlan) Level(n int) (Level, bool) {
	if n < 1 || n > len(p.Levels) {
		return Level{}, false
	}
	return p.Levels[n-1], true
}

// Roles returns every role that can qualify anywhere in the plan, including escalation tiers
// and the policy roles, in first-seen order.
func (p LevelPlan) Roles() []string {
	seen := make(map[string]bool)
	var roles []string
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	for _, l := range p.Levels {
		for _, r := range l.Roles {
			add(r)
		}
	}
	for _, r := range p.Policy.EscalationTiers {
		add(r)
	}
	add(p.Policy.OverrideRole)
	add(p.Policy.SchedulerRole)
	return roles
}

// Validate checks the plan is well formed
func (p LevelPlan) Validate() error {
	if len(p.Levels) == 0 {
		return fmt.Errorf("plan has no levels")
	}
	if len(p.Levels) > MaxRuleLevels+1 {
		return fmt.Errorf("plan has %d levels, max %d", len(p.Levels), MaxRuleLevels+1)
	}
	for i, l := range p.Levels {
		if l.Number != i+1 {
			return fmt.Errorf("level %d has number %d", i+1, l.Number)
		}
		if len(l.Roles) == 0 {
			return fmt.Errorf("level %d has no qualifying roles", l.Number)
		}
		for _, r := range l.Roles {
			if strings.TrimSpace(r) == "" {
				return fmt.Errorf("level %d has an empty role", l.Number)
			}
		}
		if !l.Mode.IsValid() {
			return fmt.Errorf("level %d has invalid mode %q", l.Number, l.Mode)
		}
	}
	if p.Policy.OverrideRole == "" {
		return fmt.Errorf("plan has no override role")
	}
	return nil
}
