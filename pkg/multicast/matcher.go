// Package multicast implements the multicast id pattern grammar and the
// pattern-keyed subscriber directory.
//
// multicastId := providerId ( '/' segment )*
// segment     := literal | '+' | '*'     // '*' only allowed in final position
package multicast

import (
	"fmt"
	"strings"
)

const (
	singleWildcard = "+"
	suffixWildcard = "*"
)

// Matcher is a compiled multicast id pattern. Equality and hash are on the
// raw pattern
type Matcher struct {
	raw      string
	segments []string
}

// Compile parses and validates a multicast id pattern. '*' is rejected
// anywhere but the final segment.
func Compile(pattern string) (Matcher, error) {
	if pattern == "" {
		return Matcher{}, fmt.Errorf("multicast: empty pattern")
	}
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if seg == "" {
			return Matcher{}, fmt.Errorf("multicast: empty segment in pattern %q", pattern)
		}
		if seg == suffixWildcard && i != len(segments)-1 {
			return Matcher{}, fmt.Errorf("multicast: %q wildcard only valid as final segment in pattern %q", suffixWildcard, pattern)
		}
	}
	return Matcher{raw: pattern, segments: segments}, nil
}

// Pattern returns the raw pattern this Matcher was compiled from.
func (m Matcher) Pattern() string { return m.raw }

// Equal compares two matchers by their raw pattern.
func (m Matcher) Equal(o Matcher) bool { return m.raw == o.raw }

// Hash derives a hash key from the raw pattern.
func (m Matcher) Hash() string { return m.raw }

// Matches reports whether a concrete multicast id matches this pattern,
// segment-wise, left-to-right: '+' matches exactly one segment, '*'
// matches one or more trailing segments (never zero).
func (m Matcher) Matches(multicastID string) bool {
	idSegments := strings.Split(multicastID, "/")
	return matchSegments(m.segments, idSegments)
}

func matchSegments(pattern, id []string) bool {
	for i, p := range pattern {
		if p == suffixWildcard {
			// '*' is only ever the last pattern segment (enforced at
			// Compile time) and matches one or more trailing segments,
			// but not zero: the prefix before it must still be a strict
			// prefix of id, not the whole of it.
			return i < len(id)
		}
		if i >= len(id) {
			return false
		}
		if p == singleWildcard {
			continue
		}
		if p != id[i] {
			return false
		}
	}
	return len(pattern) == len(id)
}
