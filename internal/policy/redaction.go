// Package policy holds content rules applied before shopper text leaves the
// widget process.
package policy

import "regexp"

type redactionRule struct {
	kind    string
	pattern *regexp.Regexp
	mask    string
}

// Cards run before phones so long digit runs are not masked as phone numbers.
var redactionRules = []redactionRule{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers and phone numbers in transcript text.
func RedactPII(input string) (redacted string, changed bool) {
	out, kinds := Redact(input)
	return out, len(kinds) > 0
}

// Redact is RedactPII plus the kinds of data that were masked, in rule order.
func Redact(input string) (string, []string) {
	out := input
	var kinds []string
	for _, r := range redactionRules {
		next := r.pattern.ReplaceAllString(out, r.mask)
		if next != out {
			kinds = append(kinds, r.kind)
		}
		out = next
	}
	return out, kinds
}
