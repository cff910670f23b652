package moderation

import "github.com/kaloslazo/NubuStream/internal/chat"

// Rejection reasons reported in Result.Reason.
const (
	ReasonBlockedKeyword = "blocked_keyword"
	ReasonSpamPattern    = "spam_pattern"
)

// Result is the outcome of moderating one message. Term names the keyword or
// pattern that caused a rejection.
type Result struct {
	Approved bool
	Reason   string
	Term     string
}

// Approve returns an approving Result.
func Approve() Result { return Result{Approved: true} }

// Policy decides whether content from an author with the given role may be
// delivered. Implementations must be pure: no I/O and the same answer for
// the same input.
type Policy interface {
	Moderate(content string, role chat.Role) Result
}

// PolicyFunc adapts a plain function to the Policy interface.
type PolicyFunc func(content string, role chat.Role) Result

// Moderate calls f(content, role).
func (f PolicyFunc) Moderate(content string, role chat.Role) Result {
	return f(content, role)
}
