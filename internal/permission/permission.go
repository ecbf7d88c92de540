// Package permission implements the colon-segmented permission grammar
// used across the access-control core.
//
// A permission is one to three colon-separated segments in the form
// "domain:resource:action" (e.g. "imaging:study:read"). Any segment may be
// the wildcard "*". Patterns shorter than three segments are implicitly
// right-padded with wildcards, so "user:manage" grants the same access as
// "user:manage:*". A bare "*" matches everything.
package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Permission is a colon-segmented, wildcard-capable capability pattern.
type Permission string

const (
	// Wildcard matches any value at a segment position.
	Wildcard = "*"

	separator   = ":"
	maxSegments = 3
)

// ErrInvalidPattern indicates a malformed permission string.
var ErrInvalidPattern = errors.New("permission: invalid pattern")

// String returns the raw pattern.
func (p Permission) String() string { return string(p) }

// Validate rejects empty patterns, patterns with empty segments (e.g.
// "user::read") and patterns deeper than domain:resource:action.
func Validate(p Permission) error {
	raw := string(p)
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty permission", ErrInvalidPattern)
	}
	segments := strings.Split(raw, separator)
	if len(segments) > maxSegments {
		return fmt.Errorf("%w: %q has more than %d segments", ErrInvalidPattern, raw, maxSegments)
	}
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: %q contains an empty segment", ErrInvalidPattern, raw)
		}
	}
	return nil
}

// ValidateAll validates every pattern in the list, reporting the first
// malformed one.
func ValidateAll(patterns []Permission) error {
	for _, p := range patterns {
		if err := Validate(p); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether the granted pattern covers the requested
// permission. Matching is pure and case-sensitive. The requested
// permission must be well-formed; a malformed request is an error, never a
// silent deny. Granted patterns are assumed validated at registration time.
func Matches(granted, requested Permission) (bool, error) {
	if err := Validate(requested); err != nil {
		return false, err
	}

	// Superuser pattern: a bare "*" covers any request.
	if granted == Wildcard {
		return true, nil
	}

	g := pad(strings.Split(string(granted), separator))
	r := pad(strings.Split(string(requested), separator))
	for i := 0; i < maxSegments; i++ {
		if g[i] == Wildcard {
			continue
		}
		if g[i] != r[i] {
			return false, nil
		}
	}
	return true, nil
}

// MatchAny reports whether any granted pattern covers the requested
// permission (logical OR over the set, order-independent).
func MatchAny(granted []Permission, requested Permission) (bool, error) {
	if err := Validate(requested); err != nil {
		return false, err
	}
	for _, g := range granted {
		ok, err := Matches(g, requested)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// pad right-extends segments to full depth with wildcards.
func pad(segments []string) []string {
	for len(segments) < maxSegments {
		segments = append(segments, Wildcard)
	}
	return segments
}

// Dedupe trims and de-duplicates patterns preserving first-seen order.
func Dedupe(patterns []Permission) []Permission {
	if len(patterns) == 0 {
		return nil
	}
	seen := make(map[Permission]struct{}, len(patterns))
	result := make([]Permission, 0, len(patterns))
	for _, p := range patterns {
		p = Permission(strings.TrimSpace(string(p)))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}
