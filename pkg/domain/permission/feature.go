package permission

import (
	"fmt"
	"sort"
)

// FeatureMap maps a UI feature key to the permissions that unlock it.
type FeatureMap map[string][]Permission

// ParseFeatureMap validates and normalizes every entry.
func ParseFeatureMap(raw map[string][]string) (FeatureMap, error) {
	out := make(FeatureMap, len(raw))
	for key, perms := range raw {
		parsed, err := ParseList(perms)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", key, err)
		}
		out[key] = parsed
	}
	return out, nil
}

// Declared reports whether key has at least one required permission.
func (m FeatureMap) Declared(key string) bool {
	return len(m[key]) > 0
}

// Allows reports whether held unlocks the feature. A feature that is not
// declared, or declared with no permissions, is allowed.
func (m FeatureMap) Allows(held []Permission, key string) bool {
	required, ok := m[key]
	if !ok || len(required) == 0 {
		return true
	}
	return HasAny(held, required...)
}

// Keys returns the declared feature keys in sorted order.
func (m FeatureMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (m FeatureMap) Clone() FeatureMap {
	out := make(FeatureMap, len(m))
	for k, v := range m {
		out[k] = append([]Permission(nil), v...)
	}
	return out
}
