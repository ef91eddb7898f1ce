package broker

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentPattern matches one identifier segment: letters/digits/underscore,
// not starting with a digit.
const segmentPattern = `[a-zA-Z_][a-zA-Z0-9_]*`

// uuidPattern matches a canonical hyphenated UUID, case-insensitive.
const uuidPattern = `[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}`

var tagPattern = regexp.MustCompile(
	`^` + segmentPattern + `\.` + segmentPattern + `\.(?:` + segmentPattern + `|` + uuidPattern + `)$`,
)

var patternSegmentPattern = regexp.MustCompile(`^(?:\*|` + segmentPattern + `|` + uuidPattern + `)$`)

// validateTag rejects anything that isn't segment.segment.(segment|uuid).
func validateTag(tag string) error {
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("broker: invalid tag %q, want segment.segment.(segment|uuid)", tag)
	}
	return nil
}

// validatePattern is like validateTag but additionally permits "*" as
// any segment, matching spec.md's wildcard subscription patterns.
func validatePattern(pattern string) error {
	parts := strings.Split(pattern, ".")
	if len(parts) != 3 {
		return fmt.Errorf("broker: invalid pattern %q, want segment.segment.(segment|uuid|*)", pattern)
	}
	for _, part := range parts {
		if !patternSegmentPattern.MatchString(part) {
			return fmt.Errorf("broker: invalid pattern segment %q in %q", part, pattern)
		}
	}
	return nil
}

// matchTag reports whether tag satisfies pattern, segment by segment,
// with "*" matching any single segment.
func matchTag(pattern, tag string) bool {
	pParts := strings.Split(pattern, ".")
	tParts := strings.Split(tag, ".")
	if len(pParts) != len(tParts) {
		return false
	}
	for i, p := range pParts {
		if p == "*" {
			continue
		}
		if p != tParts[i] {
			return false
		}
	}
	return true
}
