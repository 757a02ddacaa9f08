package shared

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies users, organizations, locations, departments, roles and assignments.
type ID struct {
	value uuid.UUID
}

// NewID creates a new random ID.
func NewID() ID {
	return ID{value: uuid.New()}
}

// IDFromString parses an ID.
func IDFromString(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: invalid id %q", ErrValidation, s)
	}
	return ID{value: parsed}, nil
}

// MustIDFromString parses an ID and panics on error. Intended for tests and fixtures.
func MustIDFromString(s string) ID {
	id, err := IDFromString(s)
	if err != nil {
		panic(err)
	}
	return id
}

// OptionalIDFromString parses s, returning nil for the empty string.
func OptionalIDFromString(s string) (*ID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := IDFromString(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// String returns the canonical form.
func (id ID) String() string {
	return id.value.String()
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// Equals compares two IDs.
func (id ID) Equals(other ID) bool {
	return id.value == other.value
}

// EqualsPtr reports whether a and b are both nil or both set to the same ID.
func EqualsPtr(a, b *ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(*b)
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	return id.value.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		id.value = parsed
	case []byte:
		parsed, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		id.value = parsed
	default:
		return fmt.Errorf("cannot scan type %T into ID", src)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	id.value = parsed
	return nil
}

var systemNamespace = uuid.MustParse("6f1c2a7e-3b1d-4e8a-9c55-0d7a5e2b9f10")

// IDFromName derives a stable ID from a name. Seeded records use it so that
// every deployment agrees on their identifiers.
func IDFromName(name string) ID {
	return ID{value: uuid.NewSHA1(systemNamespace, []byte(name))}
}
