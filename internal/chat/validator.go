package chat

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Content limits for a single chat message.
const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

var (
	ErrEmptyContent   = errors.New("chat: empty content")
	ErrInvalidUTF8    = errors.New("chat: content is not valid UTF-8")
	ErrContentTooLong = errors.New("chat: content too long")
)

// ValidateMessage reports why content cannot be relayed, or nil. The byte
// cap is checked before decoding so oversized frames are never scanned.
func ValidateMessage(content string) error {
	switch n := len(content); {
	case n == 0:
		return ErrEmptyContent
	case n > MaxMessageBytes:
		return fmt.Errorf("%w: %d bytes, limit %d", ErrContentTooLong, n, MaxMessageBytes)
	}
	if !utf8.ValidString(content) {
		return ErrInvalidUTF8
	}
	if n := utf8.RuneCountInString(content); n > MaxTextChars {
		return fmt.Errorf("%w: %d characters, limit %d", ErrContentTooLong, n, MaxTextChars)
	}
	return nil
}
