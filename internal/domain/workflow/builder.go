package workflow

import (
	"fmt"
)

// GuardFunc evaluates whether a transition should be allowed
type GuardFunc func() bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a configuration for the given status
	Configure(status Status) StateConfiguration

	// Build creates a new state machine instance with the given initial status
	Build(initial Status) StateMachine
}

// StateConfiguration configures transitions for a specific status
type StateConfiguration interface {
	// Permit allows an action to transition to the target status
	Permit(kind ActionKind, to Status) StateConfiguration

	// PermitIf allows an action to transition to the target status if the guard passes
	PermitIf(kind ActionKind, to Status, guard GuardFunc) StateConfiguration
}

type transition struct {
	to    Status
	guard GuardFunc
}

type stateConfig struct {
	from        Status
	transitions map[ActionKind][]transition
}

type stateMachineBuilder struct {
	configurations map[Status]*stateConfig
}

type stateMachine struct {
	current        Status
	configurations map[Status]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[Status]*stateConfig),
	}
}

func (b *stateMachineBuilder) Configure(status Status) StateConfiguration {
	if !status.IsValid() {
		panic(fmt.Sprintf("invalid status: %s", status))
	}

	config, exists := b.configurations[status]
	if !exists {
		config = &stateConfig{
			from:        status,
			transitions: make(map[ActionKind][]transition),
		}
		b.configurations[status] = config
	}

	return config
}

func (b *stateMachineBuilder) Build(initial Status) StateMachine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial status: %s", initial))
	}

	// Deep copy so machines built from one builder stay independent
	configsCopy := make(map[Status]*stateConfig, len(b.configurations))
	for status, config := range b.configurations {
		transitionsCopy := make(map[ActionKind][]transition, len(config.transitions))
		for kind, ts := range config.transitions {
			transitionsCopy[kind] = append([]transition{}, ts...)
		}
		configsCopy[status] = &stateConfig{
			from:        status,
			transitions: transitionsCopy,
		}
	}

	return &stateMachine{
		current:        initial,
		configurations: configsCopy,
	}
}

func (c *stateConfig) Permit(kind ActionKind, to Status) StateConfiguration {
	return c.PermitIf(kind, to, nil)
}

func (c *stateConfig) PermitIf(kind ActionKind, to Status, guard GuardFunc) StateConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target status: %s", to))
	}

	c.transitions[kind] = append(c.transitions[kind], transition{
		to:    to,
		guard: guard,
	})

	return c
}

func (m *stateMachine) Status() Status {
	return m.current
}

func (m *stateMachine) CanFire(kind ActionKind) bool {
	config, exists := m.configurations[m.current]
	if !exists {
		return false
	}

	ts, exists := config.transitions[kind]
	return exists && len(ts) > 0
}

func (m *stateMachine) Fire(kind ActionKind) error {
	config, exists := m.configurations[m.current]
	if !exists {
		return fmt.Errorf("%w: cannot fire %s from %s (no configuration)", ErrInvalidTransition, kind, m.current)
	}

	ts, exists := config.transitions[kind]
	if !exists || len(ts) == 0 {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, kind, m.current)
	}

	// First transition whose guard passes wins
	for _, t := range ts {
		if t.guard == nil || t.guard() {
			m.current = t.to
			return nil
		}
	}

	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, kind, m.current)
}

func (m *stateMachine) PermittedActions() []ActionKind {
	config, exists := m.configurations[m.current]
	if !exists {
		return []ActionKind{}
	}

	kinds := make([]ActionKind, 0, len(config.transitions))
	for kind := range config.transitions {
		kinds = append(kinds, kind)
	}

	return kinds
}
