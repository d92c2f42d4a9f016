// Package policy scrubs sensitive material from query text before it is
// written to logs. Queries often arrive with pasted config snippets, so the
// patterns cover credentials alongside the usual PII.
package policy

import "regexp"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	apiKeyPattern = regexp.MustCompile(`\b(sk|pk|rk)-[a-zA-Z0-9_\-]{16,}\b`)
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[a-zA-Z0-9._\-]{12,}\b`)
)

// RedactQuery masks credentials and common PII patterns in a query so the
// text is safe to log. The original query is never modified; what goes to the
// model and to the conversation cache is untouched.
func RedactQuery(input string) (redacted string, changed bool) {
	out := input

	next := apiKeyPattern.ReplaceAllString(out, "[REDACTED_KEY]")
	changed = changed || next != out
	out = next

	next = bearerPattern.ReplaceAllString(out, "[REDACTED_TOKEN]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card redaction runs before phone so long digit runs are not
	// classified as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}
