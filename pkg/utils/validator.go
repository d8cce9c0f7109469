package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxIdentifierLen = 128
	// MaxFreeTextRunes bounds justifications and other free text
	MaxFreeTextRunes = 4000
)

var (
	identifierRegex   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@\-]*$`)
	controlCharsRegex = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateIdentifier checks an externally supplied id (transaction, workflow, actor)
func ValidateIdentifier(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("%s exceeds %d characters", field, maxIdentifierLen)
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters: %q", field, id)
	}
	return nil
}

// ValidateFreeText rejects text that is not UTF-8 or is longer than MaxFreeTextRunes
func ValidateFreeText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s is not valid UTF-8", field)
	}
	if n := utf8.RuneCountInString(s); n > MaxFreeTextRunes {
		return fmt.Errorf("%s has %d characters, at most %d allowed", field, n, MaxFreeTextRunes)
	}
	return nil
}

// SanitizeString removes control characters (newlines and tabs are kept) and
// surrounding whitespace. Length is checked separately by ValidateFreeText.
func SanitizeString(s string) string {
	return strings.TrimSpace(controlCharsRegex.ReplaceAllString(s, ""))
}
