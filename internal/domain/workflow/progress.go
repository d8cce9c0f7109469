package workflow

// Approval is one recorded approval at a level
type Approval struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
	// Escalated approvals satisfy the whole level
	Escalated bool `json:"escalated,omitempty"`
}

// Delegation hands one actor's pending decision to another
type Delegation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Role string `json:"role"`
}

// LevelProgress is the mutable part of one level
type LevelProgress struct {
	Level          int          `json:"level"`
	EscalatedRoles []string     `json:"escalated_roles,omitempty"`
	Delegations    []Delegation `json:"delegations,omitempty"`
	Revoked        []string     `json:"revoked,omitempty"`
	Approvals      []Approval   `json:"approvals,omitempty"`
}

func (p LevelProgress) clone() LevelProgress {
	return LevelProgress{
		Level:          p.Level,
		EscalatedRoles: cloneStrings(p.EscalatedRoles),
		Delegations:    append([]Delegation(nil), p.Delegations...),
		Revoked:        cloneStrings(p.Revoked),
		Approvals:      append([]Approval(nil), p.Approvals...),
	}
}

func (p LevelProgress) delegationTo(actorID string) (Delegation, bool) {
	for _, d := range p.Delegations {
		if d.To == actorID {
			return d, true
		}
	}
	return Delegation{}, false
}

func (p *LevelProgress) removeDelegationTo(actorID string) {
	kept := p.Delegations[:0]
	for _, d := range p.Delegations {
		if d.To != actorID {
			kept = append(kept, d)
		}
	}
	p.Delegations = kept
	if len(p.Delegations) == 0 {
		p.Delegations = nil
	}
}

func (p LevelProgress) isRevoked(actorID string) bool {
	return containsString(p.Revoked, actorID)
}

func (p *LevelProgress) unrevoke(actorID string) {
	p.Revoked = removeString(p.Revoked, actorID)
}

func (p LevelProgress) approvedBy(actorID string) bool {
	for _, a := range p.Approvals {
		if a.ActorID == actorID {
			return true
		}
	}
	return false
}

func (p LevelProgress) roleCovered(role string) bool {
	for _, a := range p.Approvals {
		if a.Role == role {
			return true
		}
	}
	return false
}

func (p LevelProgress) isEscalatedRole(role string) bool {
	return containsString(p.EscalatedRoles, role)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
