package service

import (
	"encoding/json"
	"sort"
)

// PermissionSet is the result of resolving a user's permissions: either the
// wildcard (superusers — matches every permission, including ones created
// later) or an explicit set of "module:action" names. The wildcard is a
// tagged variant, never a materialized list, so superuser resolution stays
// O(1) and never goes stale.
type PermissionSet struct {
	wildcard bool
	names    map[string]struct{}
}

// WildcardPermissionSet returns the set that matches every permission.
func WildcardPermissionSet() PermissionSet {
	return PermissionSet{wildcard: true}
}

// NewPermissionSet builds an explicit set; duplicates collapse.
func NewPermissionSet(names ...string) PermissionSet {
	set := PermissionSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		set.names[n] = struct{}{}
	}
	return set
}

// IsWildcard reports whether this is the superuser all-permissions set.
func (s PermissionSet) IsWildcard() bool {
	return s.wildcard
}

// Has reports whether the given permission name is granted.
func (s PermissionSet) Has(name string) bool {
	if s.wildcard {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Len returns the number of explicit names (0 for the wildcard set).
func (s PermissionSet) Len() int {
	return len(s.names)
}

// Names returns the explicit permission names sorted for stable output.
// Empty for the wildcard set.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type permissionSetJSON struct {
	Wildcard bool     `json:"wildcard"`
	Names    []string `json:"names,omitempty"`
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(permissionSetJSON{Wildcard: s.wildcard, Names: s.Names()})
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var raw permissionSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Wildcard {
		*s = WildcardPermissionSet()
	} else {
		*s = NewPermissionSet(raw.Names...)
	}
	return nil
}
