package receipt

import "errors"

var (
	// ErrUnknownField is returned when a field name is not part of the receipt schema
	ErrUnknownField = errors.New("unknown receipt field")

	// ErrNotComputable marks a derived value whose inputs are not yet known.
	// It is a normal state, distinct from a value computed as zero.
	ErrNotComputable = errors.New("value not computable")

	// ErrIncomplete is returned when required fields are missing on submission
	ErrIncomplete = errors.New("receipt is incomplete")
)
