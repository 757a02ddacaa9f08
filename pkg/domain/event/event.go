// Package event defines permission change notifications.
//
// An event is a hint that a user's effective permissions may be stale. It is
// never a patch: receivers refetch instead of applying the payload.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Type is the kind of mutation that produced an event.
type Type string

const (
	TypeRoleUpdated  Type = "role_updated"
	TypeRoleAssigned Type = "role_assigned"
	TypeRoleRevoked  Type = "role_revoked"
	TypeRoleCreated  Type = "role_created"
	TypeRoleDeleted  Type = "role_deleted"
)

// IsValid reports whether t is a known type.
func (t Type) IsValid() bool {
	switch t {
	case TypeRoleUpdated, TypeRoleAssigned, TypeRoleRevoked, TypeRoleCreated, TypeRoleDeleted:
		return true
	}
	return false
}

// PermissionChange is emitted once per committed role or assignment mutation.
type PermissionChange struct {
	Type       Type           `json:"type"`
	UserID     *shared.ID     `json:"userId,omitempty"`
	OrgID      *shared.ID     `json:"orgId,omitempty"`
	ChangeData map[string]any `json:"changeData,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ForUser builds an assignment-level event addressed to one user.
func ForUser(t Type, userID, orgID shared.ID, data map[string]any) PermissionChange {
	return PermissionChange{
		Type:       t,
		UserID:     &userID,
		OrgID:      &orgID,
		ChangeData: data,
		Timestamp:  time.Now().UTC(),
	}
}

// ForOrg builds a role-definition event addressed to an organization.
// affected lists users whose sets may change; it travels in ChangeData.
func ForOrg(t Type, orgID shared.ID, data map[string]any, affected []shared.ID) PermissionChange {
	if data == nil {
		data = make(map[string]any, 1)
	}
	ids := make([]string, len(affected))
	for i, id := range affected {
		ids[i] = id.String()
	}
	data["affectedUserIds"] = ids
	return PermissionChange{
		Type:       t,
		OrgID:      &orgID,
		ChangeData: data,
		Timestamp:  time.Now().UTC(),
	}
}

// Validate checks the event has a known type and a target.
func (e PermissionChange) Validate() error {
	if !e.Type.IsValid() {
		return shared.NewValidationError(fmt.Sprintf("unknown event type %q", e.Type))
	}
	if e.UserID == nil && e.OrgID == nil {
		return shared.NewValidationError("event needs a user or org target")
	}
	return nil
}

// Keys returns the routing keys the event is delivered on. A user-targeted
// event goes to that user only; otherwise it goes to the organization.
func (e PermissionChange) Keys() []string {
	if e.UserID != nil {
		return []string{UserKey(*e.UserID)}
	}
	if e.OrgID != nil {
		return []string{OrgKey(*e.OrgID)}
	}
	return nil
}

// AffectedUserIDs returns the user ids carried by an organization event.
func (e PermissionChange) AffectedUserIDs() []shared.ID {
	raw, ok := e.ChangeData["affectedUserIds"]
	if !ok {
		return nil
	}
	var out []shared.ID
	add := func(s string) {
		if id, err := shared.IDFromString(s); err == nil {
			out = append(out, id)
		}
	}
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		// decoded from JSON
		for _, x := range v {
			if s, ok := x.(string); ok {
				add(s)
			}
		}
	}
	return out
}

const (
	userPrefix = "user:"
	orgPrefix  = "org:"
)

// UserKey is the routing key for a user.
func UserKey(id shared.ID) string { return userPrefix + id.String() }

// OrgKey is the routing key for an organization.
func OrgKey(id shared.ID) string { return orgPrefix + id.String() }

// ParseKey splits a routing key into its kind ("user" or "org") and id.
func ParseKey(key string) (kind string, id shared.ID, err error) {
	kind, rest, ok := strings.Cut(key, ":")
	if !ok || (kind != "user" && kind != "org") {
		return "", shared.ID{}, shared.NewValidationError(fmt.Sprintf("invalid routing key %q", key))
	}
	id, err = shared.IDFromString(rest)
	if err != nil {
		return "", shared.ID{}, err
	}
	return kind, id, nil
}
