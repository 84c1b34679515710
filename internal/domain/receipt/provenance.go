package receipt

// Provenance records where a field value came from
type Provenance string

const (
	ProvenanceUnset      Provenance = "unset"
	ProvenanceDerived    Provenance = "derived"
	ProvenanceExtracted  Provenance = "extracted"
	ProvenanceUserEdited Provenance = "userEdited"
)

var validProvenances = map[Provenance]bool{
	ProvenanceUnset:      true,
	ProvenanceDerived:    true,
	ProvenanceExtracted:  true,
	ProvenanceUserEdited: true,
}

// String returns the string representation of the provenance
func (p Provenance) String() string {
	return string(p)
}

// IsValid returns true if the provenance is one of the defined constants
func (p Provenance) IsValid() bool {
	return validProvenances[p]
}

// IsAuthoritative is true for values asserted by extraction or by the user.
// Only these are protected by the non-erasure rule.
func (p Provenance) IsAuthoritative() bool {
	return p == ProvenanceExtracted || p == ProvenanceUserEdited
}

// IsSet is false only for unset fields
func (p Provenance) IsSet() bool {
	return p != ProvenanceUnset && p != ""
}
