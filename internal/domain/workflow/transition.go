package workflow

import (
	"errors"
	"strings"

	"github.com/garyjia/approval-engine/internal/domain/apperr"
)

// Outcome describes what a transition did to the workflow
type Outcome string

const (
	// OutcomeRecorded: the action was accepted without changing level or status
	OutcomeRecorded Outcome = "recorded"
	// OutcomeAdvanced: the current level was satisfied and the next level is active
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeCompleted: the workflow reached a terminal status
	OutcomeCompleted Outcome = "completed"
	// OutcomeSuperseded: an approval aimed at a level that was already passed
	OutcomeSuperseded Outcome = "superseded"
)

// Effect summarises a single transition
type Effect struct {
	Outcome       Outcome
	FromLevel     int
	ToLevel       int
	Status        Status
	EscalatedRole string
}

// State is the projection of a workflow derived from its plan and ordered actions
type State struct {
	RequesterID       string          `json:"requester_id"`
	Plan              LevelPlan       `json:"plan"`
	Status            Status          `json:"status"`
	CurrentLevel      int             `json:"current_level"`
	Escalated         bool            `json:"escalated,omitempty"`
	EmergencyOverride bool            `json:"emergency_override,omitempty"`
	Progress          []LevelProgress `json:"progress"`
}

// NewState returns the initial state for a plan: PENDING at level 1
func NewState(requesterID string, plan LevelPlan) State {
	progress := make([]LevelProgress, len(plan.Levels))
	for i := range plan.Levels {
		progress[i] = LevelProgress{Level: i + 1}
	}
	return State{
		RequesterID:  requesterID,
		Plan:         plan,
		Status:       StatusPending,
		CurrentLevel: 1,
		Progress:     progress,
	}
}

// TotalLevels returns the number of levels fixed at creation
func (s State) TotalLevels() int {
	return s.Plan.TotalLevels()
}

// Clone returns a deep copy of the mutable parts of the state
func (s State) Clone() State {
	out := s
	out.Progress = make([]LevelProgress, len(s.Progress))
	for i, p := range s.Progress {
		out.Progress[i] = p.clone()
	}
	return out
}

// Qualifies reports whether the actor may act at the given level
func (s State) Qualifies(level int, a Action) bool {
	_, _, ok := s.qualifyingRole(level, a)
	return ok
}

// IsRevoked reports whether the actor delegated their decision away at level
func (s State) IsRevoked(level int, actorID string) bool {
	if level < 1 || level > len(s.Progress) {
		return false
	}
	return s.Progress[level-1].isRevoked(actorID)
}

// qualifyingRole returns the role through which the actor qualifies at level and
// whether that role was added by escalation.
func (s State) qualifyingRole(level int, a Action) (string, bool, bool) {
	lvl, ok := s.Plan.Level(level)
	if !ok {
		return "", false, false
	}
	p := s.Progress[level-1]

	if d, ok := p.delegationTo(a.ActorID); ok {
		return d.Role, p.isEscalatedRole(d.Role), true
	}
	if p.isRevoked(a.ActorID) {
		return "", false, false
	}

	// Prefer a base role that is still outstanding
	for _, r := range lvl.Roles {
		if a.HasRole(r) && !p.roleCovered(r) {
			return r, false, true
		}
	}
	for _, r := range lvl.Roles {
		if a.HasRole(r) {
			return r, false, true
		}
	}
	for _, r := range p.EscalatedRoles {
		if a.HasRole(r) {
			return r, true, true
		}
	}
	return "", false, false
}

// Apply is the single transition function used both for live updates and for replay.
// It never mutates s.
func Apply(s State, a Action) (State, Effect, error) {
	const op = "workflow.apply"

	if !a.Kind.IsValid() {
		return s, Effect{}, apperr.Validation(op, "unknown action kind %q", a.Kind)
	}
	if strings.TrimSpace(a.ActorID) == "" {
		return s, Effect{}, apperr.Validation(op, "actor id is required")
	}
	if s.Status.IsTerminal() {
		return s, Effect{}, apperr.Conflict(op, apperr.ErrWorkflowCompleted, "workflow is %s", s.Status)
	}

	switch a.Kind {
	case ActionOverride:
		return applyOverride(s, a)
	case ActionCancel:
		return applyCancel(s, a)
	}

	target := a.Level
	if target == 0 {
		target = s.CurrentLevel
	}
	if target < 1 || target > s.TotalLevels() {
		return s, Effect{}, apperr.Validation(op, "level %d is outside the plan (1..%d)", target, s.TotalLevels())
	}
	if target > s.CurrentLevel {
		return s, Effect{}, apperr.Conflict(op, nil, "level %d is not active yet (current %d)", target, s.CurrentLevel)
	}
	if target < s.CurrentLevel {
		return applyStale(s, a, target)
	}

	switch a.Kind {
	case ActionApprove:
		return applyApprove(s, a)
	case ActionReject:
		return applyReject(s, a)
	case ActionDelegate:
		return applyDelegate(s, a)
	default:
		return applyEscalate(s, a)
	}
}

func fire(s State, kind ActionKind, finalLevelComplete bool) (Status, error) {
	m := lifecycle(s.Status, func() bool { return finalLevelComplete })
	if err := m.Fire(kind); err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrGuardFailed) {
			return s.Status, apperr.Conflict("workflow.apply", err, "action %s not allowed", kind)
		}
		return s.Status, err
	}
	return m.Status(), nil
}

// applyStale handles an action aimed at a level that has already been passed.
// Approvals from actors who qualified at that level are kept for audit but change nothing.
func applyStale(s State, a Action, level int) (State, Effect, error) {
	const op = "workflow.apply"
	if a.Kind != ActionApprove {
		return s, Effect{}, apperr.Conflict(op, nil, "level %d was already decided (current %d)", level, s.CurrentLevel)
	}
	if !s.Qualifies(level, a) {
		return s, Effect{}, apperr.Authorization(op, "actor %s is not qualified for level %d", a.ActorID, level)
	}
	return s, Effect{
		Outcome:   OutcomeSuperseded,
		FromLevel: s.CurrentLevel,
		ToLevel:   s.CurrentLevel,
		Status:    s.Status,
	}, nil
}

func applyApprove(s State, a Action) (State, Effect, error) {
	const op = "workflow.apply"

	role, escalated, ok := s.qualifyingRole(s.CurrentLevel, a)
	if !ok {
		return s, Effect{}, apperr.Authorization(op, "actor %s is not qualified for level %d", a.ActorID, s.CurrentLevel)
	}

	next := s.Clone()
	p := &next.Progress[s.CurrentLevel-1]
	lvl, _ := s.Plan.Level(s.CurrentLevel)

	if p.approvedBy(a.ActorID) {
		return s, Effect{}, apperr.Conflict(op, nil, "actor %s already approved level %d", a.ActorID, s.CurrentLevel)
	}
	if lvl.Mode == ModeAND && !escalated && p.roleCovered(role) {
		return s, Effect{}, apperr.Conflict(op, nil, "role %s is already satisfied at level %d", role, s.CurrentLevel)
	}
	p.Approvals = append(p.Approvals, Approval{ActorID: a.ActorID, Role: role, Escalated: escalated})

	levelDone := levelSatisfied(lvl, *p)
	final := levelDone && s.CurrentLevel == s.TotalLevels()

	status, err := fire(s, ActionApprove, final)
	if err != nil {
		return s, Effect{}, err
	}
	next.Status = status

	effect := Effect{FromLevel: s.CurrentLevel, ToLevel: s.CurrentLevel, Status: status, Outcome: OutcomeRecorded}
	switch {
	case status.IsTerminal():
		effect.Outcome = OutcomeCompleted
	case levelDone:
		next.CurrentLevel++
		next.Escalated = false
		effect.Outcome = OutcomeAdvanced
		effect.ToLevel = next.CurrentLevel
	}
	return next, effect, nil
}

func levelSatisfied(lvl Level, p LevelProgress) bool {
	if len(p.Approvals) == 0 {
		return false
	}
	if lvl.Mode != ModeAND {
		return true
	}
	for _, a := range p.Approvals {
		if a.Escalated {
			return true
		}
	}
	for _, r := range lvl.Roles {
		if !p.roleCovered(r) {
			return false
		}
	}
	return true
}

func applyReject(s State, a Action) (State, Effect, error) {
	const op = "workflow.apply"

	if !s.Qualifies(s.CurrentLevel, a) {
		return s, Effect{}, apperr.Authorization(op, "actor %s is not qualified for level %d", a.ActorID, s.CurrentLevel)
	}
	if strings.TrimSpace(a.Justification) == "" {
		return s, Effect{}, apperr.Validation(op, "a rejection requires a justification")
	}

	status, err := fire(s, ActionReject, false)
	if err != nil {
		return s, Effect{}, err
	}
	next := s.Clone()
	next.Status = status
	return next, Effect{
		Outcome:   OutcomeCompleted,
		FromLevel: s.CurrentLevel,
		ToLevel:   s.CurrentLevel,
		Status:    status,
	}, nil
}

func applyDelegate(s State, a Action) (State, Effect, error) {
	const op = "workflow.apply"

	role, _, ok := s.qualifyingRole(s.CurrentLevel, a)
	if !ok {
		return s, Effect{}, apperr.Authorization(op, "actor %s is not qualified for level %d", a.ActorID, s.CurrentLevel)
	}
	target := strings.TrimSpace(a.DelegateTo)
	if target == "" {
		return s, Effect{}, apperr.Validation(op, "delegate target is required")
	}
	if target == a.ActorID {
		return s, Effect{}, apperr.Validation(op, "an actor cannot delegate to themselves")
	}

	next := s.Clone()
	p := &next.Progress[s.CurrentLevel-1]
	if _, exists := p.delegationTo(target); exists {
		return s, Effect{}, apperr.Conflict(op, nil, "%s already holds a delegated decision at level %d", target, s.CurrentLevel)
	}

	_, wasDelegate := p.delegationTo(a.ActorID)
	if wasDelegate {
		p.removeDelegationTo(a.ActorID)
	} else {
		p.Revoked = append(p.Revoked, a.ActorID)
	}

	if p.isRevoked(target) {
		// Handing the decision back restores the original holder
		p.unrevoke(target)
	} else {
		p.Delegations = append(p.Delegations, Delegation{From: a.ActorID, To: target, Role: role})
	}

	status, err := fire(s, ActionDelegate, false)
	if err != nil {
		return s, Effect{}, err
	}
	next.Status = status
	return next, Effect{
		Outcome:   OutcomeRecorded,
		FromLevel: s.CurrentLevel,
		ToLevel:   s.CurrentLevel,
		Status:    status,
	}, nil
}

func applyEscalate(s State, a Action) (State, Effect, error) {
	const op = "workflow.apply"

	if !s.Qualifies(s.CurrentLevel, a) && !a.HasRole(s.Plan.Policy.SchedulerRole) {
		return s, Effect{}, apperr.Authorization(op, "actor %s may not escalate level %d", a.ActorID, s.CurrentLevel)
	}

	next := s.Clone()
	p := &next.Progress[s.CurrentLevel-1]
	lvl, _ := s.Plan.Level(s.CurrentLevel)

	tiers := s.Plan.Policy.EscalationTiers
	highest := -1
	for i, tier := range tiers {
		if containsString(lvl.Roles, tier) || p.isEscalatedRole(tier) {
			highest = i
		}
	}

	var added string
	if highest+1 < len(tiers) {
		added = tiers[highest+1]
		p.EscalatedRoles = append(p.EscalatedRoles, added)
	}

	status, err := fire(s, ActionEscalate, false)
	if err != nil {
		return s, Effect{}, err
	}
	next.Status = status
	next.Escalated = true
	return next, Effect{
		Outcome:       OutcomeRecorded,
		FromLevel:     s.CurrentLevel,
		ToLevel:       s.CurrentLevel,
		Status:        status,
		EscalatedRole: added,
	}, nil
}

func applyOverride(s State, a Action) (State, Effect, error) {
	const op = "workflow.apply"

	if !a.HasRole(s.Plan.Policy.OverrideRole) {
		return s, Effect{}, apperr.Authorization(op, "actor %s lacks the override permission", a.ActorID)
	}
	if strings.TrimSpace(a.Justification) == "" {
		return s, Effect{}, apperr.Validation(op, "an emergency override requires a justification")
	}

	status, err := fire(s, ActionOverride, false)
	if err != nil {
		return s, Effect{}, err
	}
	next := s.Clone()
	next.Status = status
	next.EmergencyOverride = true
	return next, Effect{
		Outcome:   OutcomeCompleted,
		FromLevel: s.CurrentLevel,
		ToLevel:   s.CurrentLevel,
		Status:    status,
	}, nil
}

func applyCancel(s State, a Action) (State, Effect, error) {
	const op = "workflow.apply"

	if a.ActorID != s.RequesterID {
		return s, Effect{}, apperr.Authorization(op, "only the requester may cancel")
	}

	status, err := fire(s, ActionCancel, false)
	if err != nil {
		return s, Effect{}, err
	}
	next := s.Clone()
	next.Status = status
	return next, Effect{
		Outcome:   OutcomeCompleted,
		FromLevel: s.CurrentLevel,
		ToLevel:   s.CurrentLevel,
		Status:    status,
	}, nil
}

// Replay folds actions over the initial state. Duplicate action ids are skipped.
func Replay(initial State, actions []Action) (State, error) {
	state := initial.Clone()
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if a.ID != "" {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
		}
		next, _, err := Apply(state, a)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}
