package event

import (
	"fmt"
	"strings"
)

const (
	// Delimiter separates the levels of an event name.
	Delimiter = "."

	// Wildcard matches exactly one level.
	Wildcard = "*"
)

// Pattern is a compiled subscription pattern.
type Pattern struct {
	raw      string
	segments []string
	literal  bool
}

// CompilePattern splits a pattern into its segments.
// Compilation never fails; use ValidatePattern to reject malformed input.
func CompilePattern(pattern string) Pattern {
	segs := strings.Split(pattern, Delimiter)
	literal := true
	for _, s := range segs {
		if s == Wildcard {
			literal = false
			break
		}
	}
	return Pattern{raw: pattern, segments: segs, literal: literal}
}

// ValidatePattern reports patterns that can never match a valid name.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	for _, seg := range strings.Split(pattern, Delimiter) {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPattern, pattern)
		}
		if seg != Wildcard && strings.Contains(seg, Wildcard) {
			return fmt.Errorf("%w: partial wildcard segment %q in %q", ErrInvalidPattern, seg, pattern)
		}
	}
	return nil
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.raw
}

// Matches reports whether name is selected by the pattern.
func (p Pattern) Matches(name string) bool {
	if p.literal {
		return p.raw == name
	}

	// Walk the name without allocating a split slice.
	rest := name
	for i, seg := range p.segments {
		var part string
		if idx := strings.Index(rest, Delimiter); idx >= 0 {
			part, rest = rest[:idx], rest[idx+1:]
		} else {
			if i != len(p.segments)-1 {
				return false
			}
			part, rest = rest, ""
			if seg != Wildcard && seg != part {
				return false
			}
			return part != ""
		}
		if seg != Wildcard && seg != part {
			return false
		}
		if part == "" {
			return false
		}
	}
	// Pattern exhausted but the name still has segments.
	return false
}

// Match reports whether pattern selects name.
func Match(pattern, name string) bool {
	return CompilePattern(pattern).Matches(name)
}
