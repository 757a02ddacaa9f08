package accesscontrol

// Reason explains a denial.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonOrgMismatch            Reason = "org_mismatch"
	ReasonLocationDenied         Reason = "location_denied"
	ReasonInsufficientPermission Reason = "insufficient_permission"
)

// Message is the user-facing text for a reason.
func (r Reason) Message() string {
	switch r {
	case ReasonOrgMismatch:
		return "not part of this organization"
	case ReasonLocationDenied:
		return "no access to this location"
	case ReasonInsufficientPermission:
		return "missing required permission"
	}
	return ""
}

// Decision is the outcome of an access check. Denials are values, not errors.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

// Allow is the granted decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a denial.
func Deny(reason Reason) Decision { return Decision{Reason: reason} }

// Message returns the reason's user-facing text.
func (d Decision) Message() string { return d.Reason.Message() }
