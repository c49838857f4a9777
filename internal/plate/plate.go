// Package plate normalizes Israeli license plate strings and extracts
// plate candidates from free-form OCR text.
package plate

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPlate is returned when a plate does not contain 7 or 8 digits.
var ErrInvalidPlate = errors.New("invalid plate format")

// Old format: XX-XXX-XX (7 digits). New format: XXX-XX-XXX (8 digits).
var (
	oldPattern = regexp.MustCompile(`\b(\d{2})-?(\d{3})-?(\d{2})\b`)
	newPattern = regexp.MustCompile(`\b(\d{3})-?(\d{2})-?(\d{3})\b`)
)

// Confidence constants for Extract. These are fixed heuristics keyed to
// how the candidate was found, not real OCR confidence scores.
const (
	ConfidencePattern  = 0.85
	ConfidenceFallback = 0.4
	ConfidenceWeak     = 0.2
)

// Digits strips every non-digit character from s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize strips non-digit characters and returns the canonical dashed
// form: XX-XXX-XX for 7 digits, XXX-XX-XXX for 8. Any other digit count
// fails with ErrInvalidPlate. Normalize is idempotent.
func Normalize(raw string) (string, error) {
	digits := Digits(raw)
	switch len(digits) {
	case 7:
		return digits[:2] + "-" + digits[2:5] + "-" + digits[5:], nil
	case 8:
		return digits[:3] + "-" + digits[3:5] + "-" + digits[5:], nil
	default:
		return "", ErrInvalidPlate
	}
}

// Extract scans OCR text for a plate candidate. A pattern match yields a
// formatted plate at ConfidencePattern. Otherwise all digits in the text
// are collected: 7 or more yield the first 7 formatted at
// ConfidenceFallback, fewer are returned raw at ConfidenceWeak.
func Extract(text string) (string, float64) {
	for _, pattern := range []*regexp.Regexp{oldPattern, newPattern} {
		match := pattern.FindString(text)
		if match == "" {
			continue
		}
		formatted, err := Normalize(match)
		if err != nil {
			continue
		}
		return formatted, ConfidencePattern
	}

	digits := Digits(text)
	if len(digits) >= 7 {
		return digits[:2] + "-" + digits[2:5] + "-" + digits[5:7], ConfidenceFallback
	}
	return digits, ConfidenceWeak
}
