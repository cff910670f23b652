package moderation

import (
	"regexp"
	"strings"

	"github.com/kaloslazo/NubuStream/internal/chat"
)

// Spam pattern names reported in Result.Term.
const (
	PatternURL       = "url"
	PatternPhone     = "phone"
	PatternCharFlood = "char_flood"
	PatternWordFlood = "word_flood"
)

const (
	charFloodRun = 5
	wordFloodRun = 3
)

var (
	// Bare domains only count with a path so "v2.0" and "3.14" pass.
	linkRe = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// Must stand alone between whitespace; digits inside words are ignored.
	phoneRe = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// SpamPolicy rejects viewer messages carrying links, phone numbers, a run
// of one repeated character, or one word repeated back to back. Privileged
// roles are not checked. Patterns are tested in that order and the first
// hit is reported as Result.Term.
type SpamPolicy struct{}

// Moderate implements Policy.
func (SpamPolicy) Moderate(content string, role chat.Role) Result {
	if role.Privileged() {
		return Approve()
	}
	if term := spamPattern(content); term != "" {
		return Result{Reason: ReasonSpamPattern, Term: term}
	}
	return Approve()
}

func spamPattern(content string) string {
	switch {
	case linkRe.MatchString(content):
		return PatternURL
	case phoneRe.MatchString(content):
		return PatternPhone
	case longestRun([]rune(content), func(a, b rune) bool { return a == b }) >= charFloodRun:
		return PatternCharFlood
	case longestRun(strings.Fields(content), strings.EqualFold) >= wordFloodRun:
		return PatternWordFlood
	}
	return ""
}

// longestRun reports the length of the longest stretch of adjacent items
// that eq considers equal. RE2 has no backreferences, hence the scan.
func longestRun[T any](items []T, eq func(a, b T) bool) int {
	if len(items) == 0 {
		return 0
	}
	best, run := 1, 1
	for i := 1; i < len(items); i++ {
		if eq(items[i-1], items[i]) {
			run++
			if run > best {
				best = run
			}
			continue
		}
		run = 1
	}
	return best
}
