package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc decides at fire time whether a guarded transition applies
type GuardFunc func(ctx context.Context) bool

// StateMachine tracks one status and validates the transitions fired against it
type StateMachine interface {
	State() State
	// CanFire reports whether trigger has a configured transition from the current status.
	// Guards are not evaluated.
	CanFire(trigger Trigger) bool
	Fire(ctx context.Context, trigger Trigger) error
	// PermittedTriggers returns the configured triggers of the current status in sorted order
	PermittedTriggers() []Trigger
}

// StateMachineBuilder collects the transition table of a lifecycle
type StateMachineBuilder interface {
	Configure(state State) StateConfiguration
	Build(initialState State) StateMachine
}

// StateConfiguration adds outgoing transitions to one status
type StateConfiguration interface {
	Permit(trigger Trigger, toState State) StateConfiguration
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	to    State
	guard GuardFunc
}

// table maps a status to its outgoing transitions; candidates of one trigger are tried in order
type table map[State]map[Trigger][]transition

func (t table) clone() table {
	out := make(table, len(t))
	for from, byTrigger := range t {
		copied := make(map[Trigger][]transition, len(byTrigger))
		for trig, ts := range byTrigger {
			copied[trig] = append([]transition(nil), ts...)
		}
		out[from] = copied
	}
	return out
}

type builder struct {
	table   table
	configs map[State]*stateConfig
}

type stateConfig struct {
	from State
	b    *builder
}

// NewBuilder creates an empty lifecycle builder. Configure and Build panic on statuses outside the
// START/END/CANCELLED/REJECTED set; lifecycles are static and a bad one is a programming error.
func NewBuilder() StateMachineBuilder {
	return &builder{table: table{}, configs: map[State]*stateConfig{}}
}

func (b *builder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if c, ok := b.configs[state]; ok {
		return c
	}
	c := &stateConfig{from: state, b: b}
	b.configs[state] = c
	b.table[state] = map[Trigger][]transition{}
	return c
}

// Build returns a machine positioned at initialState. Later Configure calls do not affect it.
func (b *builder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}
	return &machine{current: initialState, table: b.table.clone()}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	row := c.b.table[c.from]
	row[trigger] = append(row[trigger], transition{to: toState, guard: guard})
	return c
}

type machine struct {
	current State
	table   table
}

func (m *machine) State() State {
	return m.current
}

func (m *machine) CanFire(trigger Trigger) bool {
	return len(m.table[m.current][trigger]) > 0
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	candidates := m.table[m.current][trigger]
	if len(candidates) == 0 {
		return fmt.Errorf("%w: %s is not allowed from %s", ErrInvalidTransition, trigger, m.current)
	}
	for _, t := range candidates {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}

func (m *machine) PermittedTriggers() []Trigger {
	row := m.table[m.current]
	out := make([]Trigger, 0, len(row))
	for trig, ts := range row {
		if len(ts) > 0 {
			out = append(out, trig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
