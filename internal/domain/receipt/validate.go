package receipt

import (
	"fmt"
	"strings"
)

var requiredForSubmission = []Field{
	FieldGrossInvoiceAmount,
	FieldRestaurantName,
	FieldDate,
	FieldParticipants,
	FieldPurpose,
}

var financialFields = []Field{
	FieldGrossInvoiceAmount,
	FieldInvoiceVat,
	FieldInvoiceNet,
	FieldCardOrCashAmount,
}

// MissingFinancialFields lists the core amounts that are unset or zero
func MissingFinancialFields(s FieldSet) []Field {
	var missing []Field
	for _, f := range financialFields {
		amount, ok := s.Amount(f)
		if !ok || amount.IsZero() {
			missing = append(missing, f)
		}
	}
	return missing
}

// ValidateForSubmission returns ErrIncomplete naming every missing required field
func ValidateForSubmission(s FieldSet) error {
	var missing []string
	for _, f := range requiredForSubmission {
		if !s.IsSet(f) {
			missing = append(missing, f.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	return nil
}
