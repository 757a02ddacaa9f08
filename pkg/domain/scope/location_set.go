package scope

import (
	"encoding/json"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// LocationSet is either every location of an organization or an explicit list.
type LocationSet struct {
	all bool
	ids []shared.ID
}

// All is the "every location" sentinel.
func All() LocationSet {
	return LocationSet{all: true}
}

// Only restricts the set to ids. An empty call yields the empty set.
func Only(ids ...shared.ID) LocationSet {
	return LocationSet{ids: append([]shared.ID(nil), ids...)}
}

// IsAll reports whether the set is unrestricted.
func (s LocationSet) IsAll() bool { return s.all }

// IsEmpty reports whether no location is reachable.
func (s LocationSet) IsEmpty() bool { return !s.all && len(s.ids) == 0 }

// IDs returns the explicit ids, or nil for All.
func (s LocationSet) IDs() []shared.ID {
	if s.all {
		return nil
	}
	return append([]shared.ID(nil), s.ids...)
}

// Contains reports whether locationID is reachable.
func (s LocationSet) Contains(locationID shared.ID) bool {
	if s.all {
		return true
	}
	for _, id := range s.ids {
		if id.Equals(locationID) {
			return true
		}
	}
	return false
}

type locationSetJSON struct {
	All       bool        `json:"all"`
	Locations []shared.ID `json:"locations"`
}

// MarshalJSON renders {"all":true,"locations":null} or the explicit list.
func (s LocationSet) MarshalJSON() ([]byte, error) {
	out := locationSetJSON{All: s.all}
	if !s.all {
		out.Locations = s.ids
		if out.Locations == nil {
			out.Locations = []shared.ID{}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *LocationSet) UnmarshalJSON(data []byte) error {
	var in locationSetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.All {
		*s = All()
		return nil
	}
	*s = Only(in.Locations...)
	return nil
}
