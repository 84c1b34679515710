package locale

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrInvalidNumber is the sentinel wrapped by every ParseError
var ErrInvalidNumber = errors.New("invalid number")

// ParseError reports a text that could not be read as a non-negative amount
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrInvalidNumber
}

// noise is stripped before separator analysis; none of it can be a decimal separator.
var noise = strings.NewReplacer(
	"€", "", "EUR", "", "CHF", "", "USD", "", "GBP", "", "$", "", "£", "",
	" ", "", "\u00a0", "", "\u202f", "", "\t", "", "'", "", "\u2019", "", "+", "",
)

// NumberFormat parses and formats amounts for one locale
type NumberFormat struct {
	locale Locale
}

// NewNumberFormat creates a number format bound to a locale
func NewNumberFormat(l Locale) *NumberFormat {
	return &NumberFormat{locale: l}
}

// Locale returns the locale the format resolves ambiguity with
func (f *NumberFormat) Locale() Locale {
	return f.locale
}

// Parse reads a locale formatted amount.
//
// A separator that occurs exactly once and is followed by one or two digits
// is the decimal separator; earlier occurrences of the other candidate are
// thousands separators. Inputs that fit that rule with both candidates
// present must agree with the locale's decimal separator. Inputs with a
// single candidate that does not fit the rule (e.g. "1.234") are resolved
// with the locale's separators.
func (f *NumberFormat) Parse(text string) (decimal.Decimal, error) {
	cleaned := noise.Replace(strings.TrimSpace(text))
	if cleaned == "" {
		return decimal.Zero, &ParseError{Input: text, Reason: "empty value"}
	}
	if strings.HasPrefix(cleaned, "-") {
		return decimal.Zero, &ParseError{Input: text, Reason: "negative amount"}
	}

	digits := 0
	for _, r := range cleaned {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == ',' || r == '.':
		default:
			return decimal.Zero, &ParseError{Input: text, Reason: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	if digits == 0 {
		return decimal.Zero, &ParseError{Input: text, Reason: "no digits"}
	}

	canonical, reason := f.canonicalize(cleaned)
	if reason != "" {
		return decimal.Zero, &ParseError{Input: text, Reason: reason}
	}

	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, &ParseError{Input: text, Reason: err.Error()}
	}
	return d, nil
}

// canonicalize rewrites s into "1234.56" form, returning a reason on failure
func (f *NumberFormat) canonicalize(s string) (string, string) {
	last := strings.LastIndexAny(s, ",.")
	if last < 0 {
		return s, ""
	}

	sep := rune(s[last])
	other := ','
	if sep == ',' {
		other = '.'
	}
	head, tail := s[:last], s[last+1:]
	occurrences := strings.Count(s, string(sep))
	mixed := strings.ContainsRune(head, other)

	if tail == "" {
		return "", "dangling separator"
	}
	decimalShape := occurrences == 1 && len(tail) <= 2

	if mixed {
		if !decimalShape {
			return "", "ambiguous separators"
		}
		if sep != f.locale.DecimalSeparator {
			return "", fmt.Sprintf("decimal separator %q does not match locale %s", sep, f.locale.Code)
		}
		intPart, ok := stripGroups(head, other)
		if !ok {
			return "", "malformed thousands grouping"
		}
		return intPart + "." + tail, ""
	}

	if decimalShape {
		if head == "" {
			head = "0"
		}
		return head + "." + tail, ""
	}

	switch {
	case sep == f.locale.ThousandSeparator:
		intPart, ok := stripGroups(s, sep)
		if !ok {
			return "", "malformed thousands grouping"
		}
		return intPart, ""
	case sep == f.locale.DecimalSeparator && occurrences == 1 && head != "":
		return head + "." + tail, ""
	default:
		return "", fmt.Sprintf("ambiguous separator %q for locale %s", sep, f.locale.Code)
	}
}

// stripGroups removes sep from s when every group after the first has three digits
func stripGroups(s string, sep rune) (string, bool) {
	groups := strings.Split(s, string(sep))
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return "", false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

// Format renders an amount with two fractional digits and the locale's
// decimal separator, without thousands grouping.
func (f *NumberFormat) Format(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	if f.locale.DecimalSeparator == '.' {
		return fixed
	}
	return strings.Replace(fixed, ".", string(f.locale.DecimalSeparator), 1)
}
