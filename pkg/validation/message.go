package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxMessageLength is the maximum number of characters a chat message may contain
const DefaultMaxMessageLength = 4000

// Reasons returned by MessageValidator.Explain
const (
	ReasonMissing       = "Please enter a message."
	ReasonTooLong       = "Message is too long."
	ReasonWhitespace    = "Message cannot contain only spaces."
	ReasonTooShort      = "Message is too short."
	ReasonNotMeaningful = "Message must contain letters or numbers."
)

// MessageValidator checks user-typed chat text before it is sent anywhere
type MessageValidator struct {
	MaxLength         int
	MinLength         int
	RequireMeaningful bool
}

// NewMessageValidator creates a MessageValidator with the default bounds
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{
		MaxLength:         DefaultMaxMessageLength,
		MinLength:         1,
		RequireMeaningful: true,
	}
}

// IsValid reports whether text can be sent as a chat message
func (v *MessageValidator) IsValid(text string) bool {
	return v.Explain(text) == ""
}

// Explain returns a human-readable reason why text is rejected, or "" if it is valid.
// Checks run in order: missing, too long, whitespace-only, too short, no meaningful content.
func (v *MessageValidator) Explain(text string) string {
	if text == "" {
		return ReasonMissing
	}

	maxLength := v.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	if utf8.RuneCountInString(text) > maxLength {
		return ReasonTooLong
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ReasonWhitespace
	}

	if utf8.RuneCountInString(trimmed) < v.MinLength {
		return ReasonTooShort
	}

	if v.RequireMeaningful && !hasMeaningfulContent(trimmed) {
		return ReasonNotMeaningful
	}

	return ""
}

// thaiText covers Thai consonants, vowels, tone marks and digits but not Thai punctuation
var thaiText = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0E01, Hi: 0x0E3A, Stride: 1},
		{Lo: 0x0E40, Hi: 0x0E4E, Stride: 1},
		{Lo: 0x0E50, Hi: 0x0E59, Stride: 1},
	},
}

// hasMeaningfulContent reports whether s contains at least one letter or digit in any script.
// Thai vowel and tone marks are combining marks, so Thai text is checked explicitly.
func hasMeaningfulContent(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(thaiText, r) {
			return true
		}
	}
	return false
}
