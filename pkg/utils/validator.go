package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	htmlTags     = regexp.MustCompile(`<[^>]*>`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// ValidateID checks that id is a UUID as generated for sessions, uploads
// and receipts. Page source IDs ("<uuid>#p2") are not accepted.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid id %q: %w", id, err)
	}
	return nil
}

// SanitizeText removes control characters and markup from user or OCR
// text and collapses runs of whitespace to one space
func SanitizeText(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	s = htmlTags.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
