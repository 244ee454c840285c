// ABOUTME: Reset trigger matching on inbound message text
// ABOUTME: Leading mentions and envelope prefixes are stripped before matching

package session

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// leadingNoise matches one mention or bracketed envelope at the start of a message:
// "@bot", "<@U123>", "[Telegram Alice +2m]".
var leadingNoise = regexp.MustCompile(`^(?:<@[^>]*>|@[^\s]+|\[[^\]\n]*\])[\s,:]*`)

// TriggerMatch is the result of matching a message against reset triggers.
type TriggerMatch struct {
	Matched bool
	Trigger string
	// Body is the message with the trigger removed, trimmed.
	Body string
}

// StripStructuralPrefix removes leading mentions and envelope prefixes.
func StripStructuralPrefix(text string) string {
	text = strings.TrimSpace(text)
	for {
		loc := leadingNoise.FindStringIndex(text)
		if loc == nil || loc[1] == 0 {
			return text
		}
		text = strings.TrimSpace(text[loc[1]:])
	}
}

// MatchResetTrigger checks text against triggers. A trigger matches the whole
// message or a "<trigger> " prefix, case-insensitively. Unauthorized senders
// never match.
func MatchResetTrigger(text string, triggers []string, authorized bool) TriggerMatch {
	if !authorized {
		return TriggerMatch{Body: text}
	}

	stripped := StripStructuralPrefix(text)

	for _, trigger := range triggers {
		t := strings.TrimSpace(trigger)
		if t == "" {
			continue
		}
		rest, ok := cutPrefixFold(stripped, t)
		if !ok {
			continue
		}
		if rest == "" {
			return TriggerMatch{Matched: true, Trigger: trigger, Body: ""}
		}
		if rest[0] == ' ' {
			return TriggerMatch{Matched: true, Trigger: trigger, Body: strings.TrimSpace(rest)}
		}
	}

	return TriggerMatch{Body: text}
}

// cutPrefixFold is strings.CutPrefix under Unicode case folding. It walks both
// strings rune by rune, so rest is sliced at a boundary of s itself even when
// folding changes a rune's byte length.
func cutPrefixFold(s, prefix string) (rest string, ok bool) {
	for prefix != "" {
		if s == "" {
			return "", false
		}
		_, sn := utf8.DecodeRuneInString(s)
		_, pn := utf8.DecodeRuneInString(prefix)
		if !strings.EqualFold(s[:sn], prefix[:pn]) {
			return "", false
		}
		s, prefix = s[sn:], prefix[pn:]
	}
	return s, true
}
