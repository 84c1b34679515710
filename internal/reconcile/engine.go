package reconcile

import (
	"sort"
	"strings"
	"sync"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/dajor/bewirtungsbeleg-sub003/pkg/utils"
	"go.uber.org/zap"
)

// Recorder receives engine measurements
type Recorder interface {
	EventApplied(kind string, fields int)
	FieldRejected(field string)
}

// Change describes the outcome of one Apply or Reset
type Change struct {
	Update   event.UpdateEvent
	State    receipt.FieldSet
	Applied  []receipt.Field
	Rejected []receipt.Field
	Reset    bool
}

// Listener is called after every Apply and Reset, outside the engine lock.
// Calls from concurrent applies may arrive in any order.
type Listener func(change Change)

// Option configures an Engine
type Option func(*Engine)

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithListener adds a change listener
func WithListener(l Listener) Option {
	return func(e *Engine) {
		e.listeners = append(e.listeners, l)
	}
}

// WithDisplayFormat sets the format used by GetField; defaults to the input format
func WithDisplayFormat(f *locale.NumberFormat) Option {
	return func(e *Engine) {
		e.display = f
	}
}

// Engine owns the field set of one receipt and merges every update into it.
// Applies are serialized and never block on I/O.
type Engine struct {
	mu    sync.Mutex
	state receipt.FieldSet

	rules     *derivation.Rules
	input     *locale.NumberFormat
	display   *locale.NumberFormat
	recorder  Recorder
	listeners []Listener
	logger    *zap.Logger
}

// NewEngine creates an engine with an empty field set
func NewEngine(rules *derivation.Rules, input *locale.NumberFormat, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		state:  receipt.Empty(),
		rules:  rules,
		input:  input,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.display == nil {
		e.display = input
	}
	return e
}

// Apply merges one update and recomputes derived fields.
//
// Present values overwrite the field with the event kind as provenance.
// Absent, empty and unparseable values leave the field untouched.
func (e *Engine) Apply(evt event.UpdateEvent) receipt.FieldSet {
	return e.Merge(evt).State
}

// Merge is Apply returning which fields the update set and which values
// could not be parsed. State is the field set right after this update.
func (e *Engine) Merge(evt event.UpdateEvent) Change {
	if !evt.Kind.IsValid() {
		e.logger.Warn("Ignoring update with invalid kind",
			zap.String("event_id", evt.ID),
			zap.String("source_id", evt.SourceID),
			zap.String("kind", evt.Kind.String()))
		return Change{Update: evt, State: e.Snapshot()}
	}

	provenance := provenanceOf(evt.Kind)
	var applied, rejected []receipt.Field

	e.mu.Lock()
	next := e.state
	for _, name := range sortedNames(evt.Fields) {
		raw := strings.TrimSpace(evt.Fields[name])
		if raw == "" {
			continue
		}

		field, ok := receipt.ParseField(name)
		if !ok {
			e.logger.Warn("Ignoring unknown field",
				zap.String("source_id", evt.SourceID),
				zap.String("field", name))
			continue
		}

		value, err := e.normalize(field, raw)
		if err != nil {
			e.logger.Warn("Treating unparseable value as absent",
				zap.String("source_id", evt.SourceID),
				zap.String("field", field.String()),
				zap.String("value", raw),
				zap.Error(err))
			rejected = append(rejected, field)
			continue
		}

		next = next.With(field, value, provenance)
		applied = append(applied, field)
	}
	next = e.rules.DeriveAll(next)
	e.state = next
	listeners := e.listeners
	e.mu.Unlock()

	e.logger.Debug("Update applied",
		zap.String("event_id", evt.ID),
		zap.String("source_id", evt.SourceID),
		zap.String("kind", evt.Kind.String()),
		zap.Int("applied", len(applied)),
		zap.Int("rejected", len(rejected)))

	if e.recorder != nil {
		e.recorder.EventApplied(evt.Kind.String(), len(applied))
		for _, f := range rejected {
			e.recorder.FieldRejected(f.String())
		}
	}

	change := Change{Update: evt, State: next, Applied: applied, Rejected: rejected}
	for _, l := range listeners {
		l(change)
	}

	return change
}

// Reset discards every field
func (e *Engine) Reset() receipt.FieldSet {
	e.mu.Lock()
	e.state = receipt.Empty()
	listeners := e.listeners
	e.mu.Unlock()

	e.logger.Info("Receipt reset")

	for _, l := range listeners {
		l(Change{State: receipt.Empty(), Reset: true})
	}
	return receipt.Empty()
}

// Snapshot returns the current field set
func (e *Engine) Snapshot() receipt.FieldSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// GetField returns the display text and provenance of one field.
// Amounts use the display locale with two fractional digits; unset fields are "".
func (e *Engine) GetField(f receipt.Field) (string, receipt.Provenance) {
	return e.displayValue(e.Snapshot(), f)
}

// FieldView is the rendering of one field
type FieldView struct {
	Field      receipt.Field      `json:"field"`
	Label      string             `json:"label"`
	Display    string             `json:"display"`
	Provenance receipt.Provenance `json:"provenance"`
}

// View renders every field of the current state in canonical order
func (e *Engine) View() []FieldView {
	state := e.Snapshot()
	views := make([]FieldView, 0, len(receipt.AllFields()))
	for _, f := range receipt.AllFields() {
		display, p := e.displayValue(state, f)
		views = append(views, FieldView{Field: f, Label: f.Label(), Display: display, Provenance: p})
	}
	return views
}

// MissingFinancialFields lists core amounts that are still unset or zero
func (e *Engine) MissingFinancialFields() []receipt.Field {
	return receipt.MissingFinancialFields(e.Snapshot())
}

// DisplayFormat returns the number format used for rendering
func (e *Engine) DisplayFormat() *locale.NumberFormat {
	return e.display
}

func (e *Engine) displayValue(state receipt.FieldSet, f receipt.Field) (string, receipt.Provenance) {
	value, p := state.Get(f)
	if !p.IsSet() {
		return "", p
	}
	if f.IsMonetary() {
		return e.display.Format(value.Amount), p
	}
	return value.Text, p
}

func (e *Engine) normalize(f receipt.Field, raw string) (receipt.Value, error) {
	switch {
	case f.IsMonetary():
		d, err := e.input.Parse(raw)
		if err != nil {
			return receipt.Value{}, err
		}
		return receipt.AmountValue(d), nil

	case f == receipt.FieldDate:
		t, err := e.input.ParseDate(raw)
		if err != nil {
			return receipt.Value{}, err
		}
		return receipt.TextValue(locale.FormatDate(t)), nil

	case f == receipt.FieldEntertainmentType:
		kind, ok := receipt.ParseEntertainmentType(raw)
		if !ok {
			return receipt.Value{}, &invalidChoiceError{field: f, value: raw}
		}
		return receipt.TextValue(string(kind)), nil

	case f == receipt.FieldPaymentMethod:
		method, ok := receipt.ParsePaymentMethod(raw)
		if !ok {
			return receipt.Value{}, &invalidChoiceError{field: f, value: raw}
		}
		return receipt.TextValue(string(method)), nil
	}

	text := utils.SanitizeText(raw)
	if text == "" {
		return receipt.Value{}, &invalidChoiceError{field: f, value: raw}
	}
	return receipt.TextValue(text), nil
}

type invalidChoiceError struct {
	field receipt.Field
	value string
}

func (e *invalidChoiceError) Error() string {
	return "invalid value " + strings.TrimSpace(e.value) + " for " + e.field.String()
}

func provenanceOf(kind event.Kind) receipt.Provenance {
	if kind == event.KindUserEdited {
		return receipt.ProvenanceUserEdited
	}
	return receipt.ProvenanceExtracted
}

// sortedNames keeps merges deterministic when an event names a field twice
func sortedNames(fields event.PartialFieldMap) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
