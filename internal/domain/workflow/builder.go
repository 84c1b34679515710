package workflow

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// transitions maps a state and trigger to the next state
type transitions map[State]map[Trigger]State

// Builder collects the permitted transitions of a lifecycle
type Builder struct {
	table transitions
}

// StateConfig adds transitions leaving one state
type StateConfig struct {
	from  State
	edges map[Trigger]State
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{table: make(transitions)}
}

// Configure returns the transitions leaving state. Panics on unknown states.
func (b *Builder) Configure(state State) *StateConfig {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	edges, ok := b.table[state]
	if !ok {
		edges = make(map[Trigger]State)
		b.table[state] = edges
	}
	return &StateConfig{from: state, edges: edges}
}

// Permit lets trigger move to target. A trigger leads to one state only.
func (c *StateConfig) Permit(trigger Trigger, target State) *StateConfig {
	if !target.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", target))
	}
	if existing, ok := c.edges[trigger]; ok && existing != target {
		panic(fmt.Sprintf("%s from %s already leads to %s", trigger, c.from, existing))
	}
	c.edges[trigger] = target
	return c
}

// Build returns a machine in initial. Later builder changes are not seen.
func (b *Builder) Build(initial State) StateMachine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initial))
	}
	table := make(transitions, len(b.table))
	for state, edges := range b.table {
		table[state] = maps.Clone(edges)
	}
	return &machine{state: initial, table: table, now: time.Now}
}

type machine struct {
	mu      sync.Mutex
	state   State
	table   transitions
	history []Transition
	now     func() time.Time
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) Fire(trigger Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := m.table[m.state][trigger]
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, m.state)
	}
	m.history = append(m.history, Transition{From: m.state, To: next, Trigger: trigger, At: m.now()})
	m.state = next
	return nil
}

func (m *machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}
