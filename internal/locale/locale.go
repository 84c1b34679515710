package locale

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownLocale is returned when a locale code is not registered
var ErrUnknownLocale = errors.New("unknown locale")

// DefaultCode is the locale used when none is configured
const DefaultCode = "de-DE"

// Locale describes the textual conventions of one receipt locale
type Locale struct {
	Code              string
	Name              string
	DecimalSeparator  rune
	ThousandSeparator rune
	DateLayout        string
	Currency          string
	CurrencySymbol    string
}

var registry = map[string]Locale{
	"de-DE": {Code: "de-DE", Name: "German (Germany)", DecimalSeparator: ',', ThousandSeparator: '.', DateLayout: "02.01.2006", Currency: "EUR", CurrencySymbol: "€"},
	"de-CH": {Code: "de-CH", Name: "German (Switzerland)", DecimalSeparator: '.', ThousandSeparator: '\'', DateLayout: "02.01.2006", Currency: "CHF", CurrencySymbol: "CHF"},
	"fr-FR": {Code: "fr-FR", Name: "French (France)", DecimalSeparator: ',', ThousandSeparator: ' ', DateLayout: "02/01/2006", Currency: "EUR", CurrencySymbol: "€"},
	"it-IT": {Code: "it-IT", Name: "Italian (Italy)", DecimalSeparator: ',', ThousandSeparator: '.', DateLayout: "02/01/2006", Currency: "EUR", CurrencySymbol: "€"},
	"en-US": {Code: "en-US", Name: "English (United States)", DecimalSeparator: '.', ThousandSeparator: ',', DateLayout: "01/02/2006", Currency: "USD", CurrencySymbol: "$"},
	"en-GB": {Code: "en-GB", Name: "English (United Kingdom)", DecimalSeparator: '.', ThousandSeparator: ',', DateLayout: "02/01/2006", Currency: "GBP", CurrencySymbol: "£"},
}

// Lookup returns the registered locale for a code such as "de-DE"
func Lookup(code string) (Locale, error) {
	l, ok := registry[code]
	if !ok {
		return Locale{}, fmt.Errorf("%w: %s", ErrUnknownLocale, code)
	}
	return l, nil
}

// MustLookup is Lookup for codes known at compile time
func MustLookup(code string) Locale {
	l, err := Lookup(code)
	if err != nil {
		panic(err)
	}
	return l
}

// Supported returns all registered locale codes in sorted order
func Supported() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
