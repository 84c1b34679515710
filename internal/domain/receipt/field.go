package receipt

import "strings"

// Field names one entry of a Bewirtungsbeleg
type Field string

const (
	FieldGrossInvoiceAmount Field = "grossInvoiceAmount"
	FieldInvoiceVat         Field = "invoiceVat"
	FieldInvoiceNet         Field = "invoiceNet"
	FieldCardOrCashAmount   Field = "cardOrCashAmount"
	FieldTipAmount          Field = "tipAmount"
	FieldTipVat             Field = "tipVat"

	FieldRestaurantName    Field = "restaurantName"
	FieldRestaurantAddress Field = "restaurantAddress"
	FieldDate              Field = "date"
	FieldParticipants      Field = "participants"
	FieldPurpose           Field = "purpose"
	FieldEntertainmentType Field = "entertainmentType"
	FieldPaymentMethod     Field = "paymentMethod"
)

// allFields keeps the canonical order used for iteration, export and logging
var allFields = []Field{
	FieldGrossInvoiceAmount,
	FieldInvoiceVat,
	FieldInvoiceNet,
	FieldCardOrCashAmount,
	FieldTipAmount,
	FieldTipVat,
	FieldRestaurantName,
	FieldRestaurantAddress,
	FieldDate,
	FieldParticipants,
	FieldPurpose,
	FieldEntertainmentType,
	FieldPaymentMethod,
}

var monetaryFields = map[Field]bool{
	FieldGrossInvoiceAmount: true,
	FieldInvoiceVat:         true,
	FieldInvoiceNet:         true,
	FieldCardOrCashAmount:   true,
	FieldTipAmount:          true,
	FieldTipVat:             true,
}

// aliases maps the German form and OCR keys onto the canonical names
var aliases = map[string]Field{
	"gesamtbetrag":        FieldGrossInvoiceAmount,
	"brutto":              FieldGrossInvoiceAmount,
	"mwst":                FieldInvoiceVat,
	"gesamtbetragmwst":    FieldInvoiceVat,
	"netto":               FieldInvoiceNet,
	"gesamtbetragnetto":   FieldInvoiceNet,
	"kreditkartenbetrag":  FieldCardOrCashAmount,
	"trinkgeld":           FieldTipAmount,
	"trinkgeldmwst":       FieldTipVat,
	"restaurantanschrift": FieldRestaurantAddress,
	"datum":               FieldDate,
	"teilnehmer":          FieldParticipants,
	"anlass":              FieldPurpose,
	"bewirtungsart":       FieldEntertainmentType,
	"zahlungsart":         FieldPaymentMethod,
}

var byLowerName = func() map[string]Field {
	m := make(map[string]Field, len(allFields)+len(aliases))
	for _, f := range allFields {
		m[strings.ToLower(string(f))] = f
	}
	for alias, f := range aliases {
		m[alias] = f
	}
	return m
}()

// AllFields returns every field in canonical order
func AllFields() []Field {
	out := make([]Field, len(allFields))
	copy(out, allFields)
	return out
}

// MonetaryFields returns the amount fields in canonical order
func MonetaryFields() []Field {
	out := make([]Field, 0, len(monetaryFields))
	for _, f := range allFields {
		if monetaryFields[f] {
			out = append(out, f)
		}
	}
	return out
}

// ParseField resolves a canonical name or a German alias, case-insensitively
func ParseField(name string) (Field, bool) {
	f, ok := byLowerName[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// String returns the canonical field name
func (f Field) String() string {
	return string(f)
}

// IsValid reports whether f is one of the enumerated fields
func (f Field) IsValid() bool {
	for _, known := range allFields {
		if f == known {
			return true
		}
	}
	return false
}

// IsMonetary reports whether the field holds an amount
func (f Field) IsMonetary() bool {
	return monetaryFields[f]
}

// Label returns the German label printed on the receipt
func (f Field) Label() string {
	switch f {
	case FieldGrossInvoiceAmount:
		return "Gesamtbetrag (brutto)"
	case FieldInvoiceVat:
		return "davon MwSt."
	case FieldInvoiceNet:
		return "Nettobetrag"
	case FieldCardOrCashAmount:
		return "Bezahlter Betrag"
	case FieldTipAmount:
		return "Trinkgeld"
	case FieldTipVat:
		return "MwSt. Trinkgeld"
	case FieldRestaurantName:
		return "Restaurant"
	case FieldRestaurantAddress:
		return "Anschrift"
	case FieldDate:
		return "Datum"
	case FieldParticipants:
		return "Teilnehmer"
	case FieldPurpose:
		return "Anlass"
	case FieldEntertainmentType:
		return "Art der Bewirtung"
	case FieldPaymentMethod:
		return "Zahlungsart"
	default:
		return string(f)
	}
}

// EntertainmentType distinguishes customer from employee entertainment
type EntertainmentType string

const (
	EntertainmentCustomers EntertainmentType = "customers"
	EntertainmentEmployees EntertainmentType = "employees"
)

// ParseEntertainmentType accepts the English values and the German form values
func ParseEntertainmentType(s string) (EntertainmentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "customers", "kunden", "kundenbewirtung", "geschäftlich", "geschaeftlich":
		return EntertainmentCustomers, true
	case "employees", "mitarbeiter", "mitarbeiterbewirtung", "betrieblich":
		return EntertainmentEmployees, true
	}
	return "", false
}

// PaymentMethod records who paid the bill
type PaymentMethod string

const (
	PaymentCompany PaymentMethod = "company"
	PaymentPrivate PaymentMethod = "private"
	PaymentCash    PaymentMethod = "cash"
)

// ParsePaymentMethod accepts the English values and the German form values
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "company", "firma", "firmenkarte":
		return PaymentCompany, true
	case "private", "privat":
		return PaymentPrivate, true
	case "cash", "bar":
		return PaymentCash, true
	}
	return "", false
}
