package workflow

// State is a step in the lifecycle of one uploaded file
type State string

const (
	StateQueued      State = "QUEUED"
	StateConverting  State = "CONVERTING"
	StateClassifying State = "CLASSIFYING"
	StateExtracting  State = "EXTRACTING"
	StateApplied     State = "APPLIED"
	StateFailed      State = "FAILED"
	StateCancelled   State = "CANCELLED"
)

var validStates = map[State]bool{
	StateQueued:      true,
	StateConverting:  true,
	StateClassifying: true,
	StateExtracting:  true,
	StateApplied:     true,
	StateFailed:      true,
	StateCancelled:   true,
}

var terminalStates = map[State]bool{
	StateApplied:   true,
	StateFailed:    true,
	StateCancelled: true,
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
