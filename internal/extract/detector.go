// Package extract turns "remember"/"forget" commands found in inbound text
// into preference mutations.
//
// Detection is a plain case-insensitive substring match, not intent
// classification: a trigger embedded in a longer word still fires. The
// Detector interface lets a real classifier replace it without touching
// the store contract.
package extract

import (
	"regexp"
	"strings"
)

// Default trigger keywords, matching the Portuguese-speaking deployment.
var (
	DefaultRememberKeywords = []string{"lembrar"}
	DefaultForgetKeywords   = []string{"esquecer"}
)

// Intent is what a Detector found in one message. Item is empty when a
// remember trigger fired but no usable payload was found.
type Intent struct {
	Remember bool
	Item     string
	Forget   bool
}

// Detector recognizes memory commands in free text.
type Detector interface {
	Detect(text string) Intent
}

// KeywordDetector fires on configured trigger substrings.
type KeywordDetector struct {
	remember []*regexp.Regexp
	forget   []*regexp.Regexp
}

// NewKeywordDetector compiles the trigger lists. Blank keywords are ignored;
// nil lists fall back to the defaults.
func NewKeywordDetector(remember, forget []string) *KeywordDetector {
	if remember == nil {
		remember = DefaultRememberKeywords
	}
	if forget == nil {
		forget = DefaultForgetKeywords
	}
	return &KeywordDetector{
		remember: compileKeywords(remember),
		forget:   compileKeywords(forget),
	}
}

func compileKeywords(keywords []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		out = append(out, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
	}
	return out
}

func (d *KeywordDetector) Detect(text string) Intent {
	var in Intent
	if re := firstMatch(d.remember, text); re != nil {
		in.Remember = true
		in.Item = rememberPayload(re, text)
	}
	in.Forget = firstMatch(d.forget, text) != nil
	return in
}

func firstMatch(res []*regexp.Regexp, text string) *regexp.Regexp {
	for _, re := range res {
		if re.MatchString(text) {
			return re
		}
	}
	return nil
}

// rememberPayload prefers the text after the first colon. Without a colon
// it strips the trigger, and if nothing is left it keeps the whole message.
func rememberPayload(trigger *regexp.Regexp, text string) string {
	if _, after, ok := strings.Cut(text, ":"); ok {
		return strings.TrimSpace(after)
	}
	if item := strings.TrimSpace(trigger.ReplaceAllString(text, "")); item != "" {
		return item
	}
	return strings.TrimSpace(text)
}
