package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PartialFieldMap maps field names (canonical or German alias) to
// locale-formatted text. A missing key and an empty value both mean absent.
type PartialFieldMap map[string]string

// UpdateEvent is one discrete input to the reconciliation engine
type UpdateEvent struct {
	ID        string          `json:"id"`
	SourceID  string          `json:"source_id"`
	Kind      Kind            `json:"kind"`
	Fields    PartialFieldMap `json:"fields"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewUpdateEvent creates an update event; the field map is copied
func NewUpdateEvent(sourceID string, kind Kind, fields PartialFieldMap) UpdateEvent {
	copied := make(PartialFieldMap, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return UpdateEvent{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Kind:      kind,
		Fields:    copied,
		Timestamp: time.Now(),
	}
}

// WithField returns a copy of the event with one more field (immutable operation)
func (e UpdateEvent) WithField(name, value string) UpdateEvent {
	fields := make(PartialFieldMap, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[name] = value
	e.Fields = fields
	return e
}

// IsEmpty reports whether the event carries no non-empty value
func (e UpdateEvent) IsEmpty() bool {
	for _, v := range e.Fields {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
