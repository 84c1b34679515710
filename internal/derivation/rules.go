package derivation

import (
	"errors"
	"fmt"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/shopspring/decimal"
)

// ErrInvalidRate is returned for VAT rates outside (0, 1)
var ErrInvalidRate = errors.New("vat rate must be greater than 0 and less than 1")

var one = decimal.NewFromInt(1)

// Rules computes the dependent fields of a receipt at a fixed VAT rate.
//
// The VAT contained in a gross amount G is G*r/(1+r). The simplified G*r
// form is not used for invoice amounts. Tip VAT is tip*r.
type Rules struct {
	rate decimal.Decimal
}

// NewRules creates derivation rules for a VAT rate such as 0.19
func NewRules(rate decimal.Decimal) (*Rules, error) {
	if !rate.IsPositive() || rate.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return &Rules{rate: rate}, nil
}

// Rate returns the configured VAT rate
func (r *Rules) Rate() decimal.Decimal {
	return r.rate
}

// SplitGross returns the VAT and net parts of a VAT-inclusive amount
func (r *Rules) SplitGross(gross decimal.Decimal) (vat, net decimal.Decimal) {
	vat = gross.Mul(r.rate).Div(one.Add(r.rate)).Round(receipt.AmountPlaces)
	net = gross.Sub(vat)
	return vat, net
}

// Tip returns card - gross when the card amount exceeds the invoice,
// otherwise receipt.ErrNotComputable.
func (r *Rules) Tip(gross, card decimal.Decimal) (decimal.Decimal, error) {
	tip := card.Sub(gross).Round(receipt.AmountPlaces)
	if !tip.IsPositive() {
		return decimal.Zero, receipt.ErrNotComputable
	}
	return tip, nil
}

// TipVat returns the VAT on a tip
func (r *Rules) TipVat(tip decimal.Decimal) decimal.Decimal {
	return tip.Mul(r.rate).Round(receipt.AmountPlaces)
}

// DeriveAll recomputes every derived field of fs from its authoritative
// fields. Authoritative values are never replaced; derived values whose
// inputs are missing are cleared.
func (r *Rules) DeriveAll(fs receipt.FieldSet) receipt.FieldSet {
	out := fs

	gross, grossKnown := fs.AuthoritativeAmount(receipt.FieldGrossInvoiceAmount)
	vat, vatAuth := fs.AuthoritativeAmount(receipt.FieldInvoiceVat)
	net, netAuth := fs.AuthoritativeAmount(receipt.FieldInvoiceNet)

	if !grossKnown {
		if vatAuth && netAuth {
			gross = vat.Add(net)
			grossKnown = true
			out = setDerived(out, receipt.FieldGrossInvoiceAmount, gross)
		} else {
			out = clearDerived(out, receipt.FieldGrossInvoiceAmount)
		}
	}

	if grossKnown {
		splitVat, splitNet := r.SplitGross(gross)
		switch {
		case vatAuth && !netAuth:
			splitNet = gross.Sub(vat)
		case netAuth && !vatAuth:
			splitVat = gross.Sub(net)
		}
		if !vatAuth {
			out = setOrClear(out, receipt.FieldInvoiceVat, splitVat)
		}
		if !netAuth {
			out = setOrClear(out, receipt.FieldInvoiceNet, splitNet)
		}
	} else {
		out = clearDerived(out, receipt.FieldInvoiceVat)
		out = clearDerived(out, receipt.FieldInvoiceNet)
	}

	tip, tipKnown := fs.AuthoritativeAmount(receipt.FieldTipAmount)
	if !tipKnown {
		card, cardKnown := fs.AuthoritativeAmount(receipt.FieldCardOrCashAmount)
		if grossKnown && cardKnown {
			if t, err := r.Tip(gross, card); err == nil {
				tip, tipKnown = t, true
			}
		}
		if tipKnown {
			out = setDerived(out, receipt.FieldTipAmount, tip)
		} else {
			out = clearDerived(out, receipt.FieldTipAmount)
		}
	}

	if !fs.Provenance(receipt.FieldTipVat).IsAuthoritative() {
		if tipKnown {
			out = setDerived(out, receipt.FieldTipVat, r.TipVat(tip))
		} else {
			out = clearDerived(out, receipt.FieldTipVat)
		}
	}

	return out
}

func setDerived(fs receipt.FieldSet, f receipt.Field, d decimal.Decimal) receipt.FieldSet {
	if fs.Provenance(f).IsAuthoritative() {
		return fs
	}
	return fs.With(f, receipt.AmountValue(d), receipt.ProvenanceDerived)
}

// setOrClear stores d unless it is negative, which happens when an
// authoritative part exceeds the gross amount.
func setOrClear(fs receipt.FieldSet, f receipt.Field, d decimal.Decimal) receipt.FieldSet {
	if d.IsNegative() {
		return clearDerived(fs, f)
	}
	return setDerived(fs, f, d)
}

func clearDerived(fs receipt.FieldSet, f receipt.Field) receipt.FieldSet {
	if fs.Provenance(f) != receipt.ProvenanceDerived {
		return fs
	}
	return fs.Clear(f)
}
