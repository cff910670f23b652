// Package moderation provides the synchronous content gate that every chat
// message passes before it is relayed. Moderators and streamers are trusted;
// viewer messages are screened against a blocked-word list and, optionally,
// spam patterns.
package moderation

import (
	"strings"

	"github.com/kaloslazo/NubuStream/internal/chat"
)

// DefaultBlockedWords is the blocked-word list used when none is configured.
var DefaultBlockedWords = []string{"spam", "toxic", "hate"}

// KeywordPolicy rejects viewer messages whose lower-cased content contains
// any blocked word as a substring.
type KeywordPolicy struct {
	words []string
}

// NewKeywordPolicy builds a KeywordPolicy from words. Entries are trimmed
// and lower-cased; blanks are dropped.
func NewKeywordPolicy(words []string) *KeywordPolicy {
	p := &KeywordPolicy{words: make([]string, 0, len(words))}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			p.words = append(p.words, w)
		}
	}
	return p
}

// Words returns the normalized blocked words.
func (p *KeywordPolicy) Words() []string {
	return append([]string(nil), p.words...)
}

// Moderate implements Policy.
func (p *KeywordPolicy) Moderate(content string, role chat.Role) Result {
	if role.Privileged() {
		return Approve()
	}

	lower := strings.ToLower(content)
	for _, w := range p.words {
		if strings.Contains(lower, w) {
			return Result{Reason: ReasonBlockedKeyword, Term: w}
		}
	}
	return Approve()
}

// Chain runs policies in order and returns the first rejection. An empty
// chain approves everything.
func Chain(policies ...Policy) Policy {
	return PolicyFunc(func(content string, role chat.Role) Result {
		for _, p := range policies {
			if res := p.Moderate(content, role); !res.Approved {
				return res
			}
		}
		return Approve()
	})
}
