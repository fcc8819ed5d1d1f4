package models

import "strings"

// ScopeSet is an ordered, duplicate-free set of OAuth scope strings.
type ScopeSet []string

// NewScopeSet trims whitespace, drops blanks and collapses duplicates while
// keeping first-seen order.
func NewScopeSet(scopes ...string) ScopeSet {
	if len(scopes) == 0 {
		return ScopeSet{}
	}
	seen := make(map[string]struct{}, len(scopes))
	out := make(ScopeSet, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ParseScopeSet splits a space-delimited scope string (RFC 6749 §3.3).
func ParseScopeSet(raw string) ScopeSet {
	return NewScopeSet(strings.Fields(raw)...)
}

// Contains reports whether scope is a member of s.
func (s ScopeSet) Contains(scope string) bool {
	for _, have := range s {
		if have == scope {
			return true
		}
	}
	return false
}

// Union returns s followed by the members of other that s lacks.
// Neither operand is modified.
func (s ScopeSet) Union(other ScopeSet) ScopeSet {
	merged := make([]string, 0, len(s)+len(other))
	merged = append(merged, s...)
	merged = append(merged, other...)
	return NewScopeSet(merged...)
}

// Missing returns the members of required that s does not contain.
func (s ScopeSet) Missing(required ScopeSet) ScopeSet {
	var missing ScopeSet
	for _, scope := range required {
		if !s.Contains(scope) {
			missing = append(missing, scope)
		}
	}
	return missing
}

// Equal compares membership, ignoring order.
func (s ScopeSet) Equal(other ScopeSet) bool {
	a, b := NewScopeSet(s...), NewScopeSet(other...)
	if len(a) != len(b) {
		return false
	}
	return len(b.Missing(a)) == 0
}

// String renders the space-delimited wire form.
func (s ScopeSet) String() string {
	return strings.Join(s, " ")
}

// IsSatisfied reports whether every required scope has been granted.
func IsSatisfied(required, granted ScopeSet) bool {
	return len(granted.Missing(required)) == 0
}
