package locale

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DisplayDateLayout is the German DD.MM.YYYY form used on the receipt
const DisplayDateLayout = "02.01.2006"

// ErrInvalidDate is returned when a receipt date cannot be read
var ErrInvalidDate = errors.New("invalid date")

// ParseDate reads a receipt date in the locale layout, the German layout
// or ISO 8601. Single digit days and months are accepted.
func (f *NumberFormat) ParseDate(text string) (time.Time, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	layouts := []string{f.locale.DateLayout, DisplayDateLayout, "2.1.2006", "2006-01-02", "02.01.06"}
	for _, layout := range layouts {
		if layout == "" {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
}

// FormatDate renders a date as DD.MM.YYYY
func FormatDate(t time.Time) string {
	return t.Format(DisplayDateLayout)
}
