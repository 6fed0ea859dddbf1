// Package clean normalizes free-text member input before it is stored or sent
// to the CRM. Every function is pure and idempotent: f(f(x)) == f(x).
package clean

import (
	"strings"
	"unicode"
)

// Func is a field cleaner.
type Func func(string) string

// Text trims surrounding whitespace and leaves the interior alone, so
// multi-line notes keep their line breaks.
func Text(value string) string {
	return strings.TrimSpace(value)
}

// Collapse trims and reduces every run of whitespace to a single space.
func Collapse(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// Name collapses whitespace and capitalises every word segment. Segments are
// split on spaces, hyphens and apostrophes so "o'brien-smith" becomes
// "O'Brien-Smith". A segment whose remainder is shouted ("DOE") is lowered;
// deliberate mixed case ("McDonald") is kept.
func Name(value string) string {
	value = Collapse(value)
	if value == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(value))
	segment := make([]rune, 0, 16)
	flush := func() {
		if len(segment) == 0 {
			return
		}
		b.WriteString(capitalise(segment))
		segment = segment[:0]
	}
	for _, r := range value {
		if isNameSeparator(r) {
			flush()
			b.WriteRune(r)
			continue
		}
		segment = append(segment, r)
	}
	flush()
	return b.String()
}

func isNameSeparator(r rune) bool {
	return r == ' ' || r == '-' || r == '\''
}

func capitalise(segment []rune) string {
	out := make([]rune, len(segment))
	copy(out, segment)
	out[0] = unicode.ToUpper(out[0])
	rest := out[1:]
	if shouted(rest) {
		for i, r := range rest {
			rest[i] = unicode.ToLower(r)
		}
	}
	return string(out)
}

// shouted reports whether runes contain at least one upper-case letter and no
// lower-case ones.
func shouted(runes []rune) bool {
	upper := false
	for _, r := range runes {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			upper = true
		}
	}
	return upper
}

// Phone formats a number as "(NNN) NNN-NNNN" when it carries exactly ten
// digits. Anything else (extensions, international numbers, partial input) is
// returned unchanged rather than rejected.
func Phone(value string) string {
	digits := Digits(value)
	if len(digits) != 10 {
		return value
	}
	return "(" + digits[0:3] + ") " + digits[3:6] + "-" + digits[6:]
}

// Digits strips every non-digit character.
func Digits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Email trims and lower-cases an address.
func Email(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Code normalizes state, country and blood-type style codes.
func Code(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// PostalCode upper-cases and collapses internal whitespace ("k1a 0b1" -> "K1A 0B1").
func PostalCode(value string) string {
	return strings.ToUpper(Collapse(value))
}
