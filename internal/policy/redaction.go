package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// maxLoggedRunes bounds free text copied into log records.
const maxLoggedRunes = 200

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones, or card numbers get classified as phones.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Redact returns inbound text in a form fit for logs: PII masked and
// truncated to a bounded number of runes.
func Redact(input string) string {
	out, _ := RedactPII(input)
	if utf8.RuneCountInString(out) <= maxLoggedRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxLoggedRunes]) + "…"
}

// MaskUserID keeps a user id correlatable in logs without exposing it.
// Chat ids like "5511999990000@s.whatsapp.net" keep their last four digits
// and their domain.
func MaskUserID(id string) string {
	if id == "" {
		return ""
	}
	local, domain, hasDomain := strings.Cut(id, "@")
	if len(local) > 4 {
		local = strings.Repeat("*", len(local)-4) + local[len(local)-4:]
	} else {
		local = strings.Repeat("*", len(local))
	}
	if hasDomain {
		return local + "@" + domain
	}
	return local
}
