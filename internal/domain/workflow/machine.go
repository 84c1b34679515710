package workflow

import "time"

// Transition records one state change
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Trigger Trigger   `json:"trigger"`
	At      time.Time `json:"at"`
}

// StateMachine tracks the lifecycle of one upload.
// Implementations are safe for concurrent use.
type StateMachine interface {
	State() State
	// Fire moves to the state the trigger leads to, or returns ErrInvalidTransition
	Fire(trigger Trigger) error
	// History returns the transitions taken so far, oldest first
	History() []Transition
}
