package receipt

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits every amount is kept at
const AmountPlaces = 2

// Value is the payload of one field: an amount for monetary fields, text otherwise
type Value struct {
	Amount decimal.Decimal
	Text   string
}

// AmountValue wraps an amount
func AmountValue(d decimal.Decimal) Value {
	return Value{Amount: d}
}

// TextValue wraps a descriptive value
func TextValue(s string) Value {
	return Value{Text: s}
}

// Entry is one field of a FieldSet as returned by Entries
type Entry struct {
	Field      Field
	Value      Value
	Provenance Provenance
}

type slot struct {
	value      Value
	provenance Provenance
}

// FieldSet is an immutable snapshot of a receipt's fields.
// The zero value is the empty set; every update returns a new instance.
type FieldSet struct {
	slots map[Field]slot
}

// Empty returns a FieldSet where every field is unset
func Empty() FieldSet {
	return FieldSet{}
}

// With returns a copy of s with f set to v under provenance p.
// Passing ProvenanceUnset clears the field. Amounts are rounded half up to
// two fractional digits. It panics on fields outside the schema.
func (s FieldSet) With(f Field, v Value, p Provenance) FieldSet {
	if !f.IsValid() {
		panic(fmt.Sprintf("%v: %s", ErrUnknownField, f))
	}
	if !p.IsValid() {
		panic(fmt.Sprintf("invalid provenance %q for field %s", p, f))
	}

	next := make(map[Field]slot, len(s.slots)+1)
	for k, sl := range s.slots {
		next[k] = sl
	}

	if p == ProvenanceUnset {
		delete(next, f)
		return FieldSet{slots: next}
	}

	if f.IsMonetary() {
		v = Value{Amount: v.Amount.Round(AmountPlaces)}
	} else {
		v = Value{Text: v.Text}
	}
	next[f] = slot{value: v, provenance: p}
	return FieldSet{slots: next}
}

// Clear returns a copy of s with f unset
func (s FieldSet) Clear(f Field) FieldSet {
	if _, ok := s.slots[f]; !ok {
		return s
	}
	return s.With(f, Value{}, ProvenanceUnset)
}

// Get returns the value and provenance of f; unset fields report ProvenanceUnset
func (s FieldSet) Get(f Field) (Value, Provenance) {
	sl, ok := s.slots[f]
	if !ok {
		return Value{}, ProvenanceUnset
	}
	return sl.value, sl.provenance
}

// Provenance returns the provenance of f
func (s FieldSet) Provenance(f Field) Provenance {
	_, p := s.Get(f)
	return p
}

// Amount returns the amount of a monetary field and whether it is set
func (s FieldSet) Amount(f Field) (decimal.Decimal, bool) {
	sl, ok := s.slots[f]
	if !ok || !f.IsMonetary() {
		return decimal.Zero, false
	}
	return sl.value.Amount, true
}

// AuthoritativeAmount is Amount restricted to extracted or user-edited values
func (s FieldSet) AuthoritativeAmount(f Field) (decimal.Decimal, bool) {
	if !s.Provenance(f).IsAuthoritative() {
		return decimal.Zero, false
	}
	return s.Amount(f)
}

// Text returns the value of a descriptive field and whether it is set
func (s FieldSet) Text(f Field) (string, bool) {
	sl, ok := s.slots[f]
	if !ok || f.IsMonetary() {
		return "", false
	}
	return sl.value.Text, true
}

// IsSet reports whether f holds a value of any provenance
func (s FieldSet) IsSet(f Field) bool {
	_, ok := s.slots[f]
	return ok
}

// Len returns the number of set fields
func (s FieldSet) Len() int {
	return len(s.slots)
}

// Entries returns the set fields in canonical order
func (s FieldSet) Entries() []Entry {
	out := make([]Entry, 0, len(s.slots))
	for _, f := range allFields {
		if sl, ok := s.slots[f]; ok {
			out = append(out, Entry{Field: f, Value: sl.value, Provenance: sl.provenance})
		}
	}
	return out
}

// Equal compares values and provenance of every field
func (s FieldSet) Equal(other FieldSet) bool {
	if len(s.slots) != len(other.slots) {
		return false
	}
	for f, a := range s.slots {
		b, ok := other.slots[f]
		if !ok || a.provenance != b.provenance {
			return false
		}
		if f.IsMonetary() {
			if !a.value.Amount.Equal(b.value.Amount) {
				return false
			}
		} else if a.value.Text != b.value.Text {
			return false
		}
	}
	return true
}
