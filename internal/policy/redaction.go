package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{6,}[0-9]`)
	digitPattern = regexp.MustCompile(`\b[0-9]{6,}\b`)
)

// RedactPII masks emails, phone-like digit runs, and long numeric runs.
// The replacement markers contain no digits or '@', so redaction is
// idempotent: running it over already-redacted text changes nothing.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Phone runs before bare digit runs so spaced/dashed numbers are
	// classified as phones rather than partially masked.
	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	next = digitPattern.ReplaceAllString(out, "[REDACTED_NUMBER]")
	changed = changed || next != out
	out = next

	return out, changed
}
