package derivation

import (
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/shopspring/decimal"
)

// customerDeductibleShare is the deductible part of customer entertainment (§4 Abs. 5 Nr. 2 EStG)
var customerDeductibleShare = decimal.RequireFromString("0.7")

// Deduction is the tax split of the total spent, tip included
type Deduction struct {
	Type          receipt.EntertainmentType
	Total         decimal.Decimal
	Deductible    decimal.Decimal
	NonDeductible decimal.Decimal
	DeductibleVat decimal.Decimal
}

// EntertainmentSplit splits the receipt total into deductible and
// non-deductible parts. Customer entertainment is 70% deductible, employee
// entertainment fully. Without a gross amount it returns ErrNotComputable.
func (r *Rules) EntertainmentSplit(fs receipt.FieldSet) (Deduction, error) {
	gross, ok := fs.Amount(receipt.FieldGrossInvoiceAmount)
	if !ok {
		return Deduction{}, receipt.ErrNotComputable
	}

	total := gross
	vat, _ := fs.Amount(receipt.FieldInvoiceVat)
	if tip, ok := fs.Amount(receipt.FieldTipAmount); ok {
		total = total.Add(tip)
		tipVat, _ := fs.Amount(receipt.FieldTipVat)
		vat = vat.Add(tipVat)
	}

	kind := receipt.EntertainmentCustomers
	if text, ok := fs.Text(receipt.FieldEntertainmentType); ok {
		if parsed, ok := receipt.ParseEntertainmentType(text); ok {
			kind = parsed
		}
	}

	d := Deduction{Type: kind, Total: total}
	if kind == receipt.EntertainmentEmployees {
		d.Deductible = total
		d.NonDeductible = decimal.Zero
		d.DeductibleVat = vat
		return d, nil
	}

	d.Deductible = total.Mul(customerDeductibleShare).Round(receipt.AmountPlaces)
	d.NonDeductible = total.Sub(d.Deductible)
	d.DeductibleVat = vat.Mul(customerDeductibleShare).Round(receipt.AmountPlaces)
	return d, nil
}
