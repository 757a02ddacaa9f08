package role

import (
	"fmt"
)

// Definition describes a system role as it appears in the policy document.
type Definition struct {
	Key         string   `yaml:"key" json:"key"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	ScopeLevel  string   `yaml:"scope_level" json:"scope_level"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// BuildSystemRoles turns definitions into system roles, rejecting duplicate keys.
func BuildSystemRoles(defs []Definition) ([]*Role, error) {
	out := make([]*Role, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		r, err := NewSystem(def)
		if err != nil {
			return nil, fmt.Errorf("system role %q: %w", def.Key, err)
		}
		if _, dup := seen[r.Key()]; dup {
			return nil, fmt.Errorf("system role %q: %w", def.Key, ErrRoleKeyExists)
		}
		seen[r.Key()] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}
