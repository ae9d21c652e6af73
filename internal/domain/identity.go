package domain

import (
	"errors"
	"strings"
	"unicode"
)

const (
	MinHandleLen = 2
	MaxHandleLen = 20
)

var (
	ErrHandleEmpty   = errors.New("handle empty")
	ErrHandleInvalid = errors.New("handle invalid")
)

// ValidHandle reports whether a display handle fits the length limits
// after trimming.
func ValidHandle(handle string) bool {
	trimmed := strings.TrimSpace(handle)
	return len(trimmed) >= MinHandleLen && len(trimmed) <= MaxHandleLen
}

// NewHandle trims and validates; keeps raw struct literals out of callers.
func NewHandle(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrHandleEmpty
	}
	if !ValidHandle(trimmed) {
		return "", ErrHandleInvalid
	}
	return trimmed, nil
}

// Initials returns up to two uppercase initials for avatar badges.
// Handles are peer-controlled, so slicing is by rune, never by byte.
func Initials(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) == 0 {
		return "??"
	}
	var initials []rune
	for _, f := range fields {
		for _, r := range f {
			initials = append(initials, unicode.ToUpper(r))
			break
		}
		if len(initials) == 2 {
			break
		}
	}
	return string(initials)
}

// Truncate shortens text for list previews, counting runes.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
