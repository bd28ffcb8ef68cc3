package rbac

import (
	"sort"
	"strings"
)

// PermissionSet is a set of permission codes. Codes are stored lower-cased.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from codes, skipping blanks.
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	set.Add(codes...)
	return set
}

// Add inserts codes into the set.
func (s PermissionSet) Add(codes ...string) {
	for _, code := range codes {
		code = normalizeCode(code)
		if code == "" {
			continue
		}
		s[code] = struct{}{}
	}
}

// Has reports whether code is present.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[normalizeCode(code)]
	return ok
}

// HasAny reports whether at least one of codes is present.
func (s PermissionSet) HasAny(codes ...string) bool {
	for _, code := range codes {
		if s.Has(code) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy. A nil set clones to an empty one.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for code := range s {
		out[code] = struct{}{}
	}
	return out
}

// Sorted returns the codes in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for code := range s {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
