// Package permission defines permission tokens of the form resource:action[:subAction]
// and the matcher that decides whether a held token satisfies a required one.
package permission

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Wildcard is the segment value that matches any resource, action or sub-action.
const Wildcard = "*"

// Permission is a normalized permission token.
type Permission string

// All grants everything.
const All Permission = "*:*"

// ErrInvalidPermission is returned for malformed tokens.
var ErrInvalidPermission = fmt.Errorf("%w: invalid permission", shared.ErrValidation)

// String returns the token.
func (p Permission) String() string {
	return string(p)
}

// Token is a parsed permission.
type Token struct {
	Resource  string
	Action    string
	SubAction string // empty when absent
}

// HasSubAction reports whether the token carries a third segment.
func (t Token) HasSubAction() bool {
	return t.SubAction != ""
}

// Permission renders the token in canonical form.
func (t Token) Permission() Permission {
	if t.SubAction == "" {
		return Permission(t.Resource + ":" + t.Action)
	}
	return Permission(t.Resource + ":" + t.Action + ":" + t.SubAction)
}

// Normalize lower-cases and trims a raw token without validating it.
func Normalize(raw string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(raw))
}

// Parse validates and normalizes a raw token.
// The bare wildcard "*" is accepted as shorthand for "*:*".
func Parse(raw string) (Token, error) {
	s := Normalize(raw)
	if s == "" {
		return Token{}, fmt.Errorf("%w: empty token", ErrInvalidPermission)
	}
	if s == Wildcard {
		return Token{Resource: Wildcard, Action: Wildcard}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Token{}, fmt.Errorf("%w: %q must be resource:action[:subAction]", ErrInvalidPermission, raw)
	}
	for i, part := range parts {
		if err := validateSegment(part); err != nil {
			return Token{}, fmt.Errorf("%w: %q segment %d: %v", ErrInvalidPermission, raw, i+1, err)
		}
	}

	t := Token{Resource: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		t.SubAction = parts[2]
	}
	return t, nil
}

func validateSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("empty segment")
	}
	if seg == Wildcard {
		return nil
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return fmt.Errorf("illegal character %q", r)
		}
	}
	return nil
}

// New parses raw and returns the canonical Permission.
func New(raw string) (Permission, error) {
	t, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return t.Permission(), nil
}

// MustNew is New for constants and fixtures.
func MustNew(raw string) Permission {
	p, err := New(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseList validates every entry, normalizes it and drops duplicates while keeping order.
func ParseList(raw []string) ([]Permission, error) {
	out := make([]Permission, 0, len(raw))
	seen := make(map[Permission]struct{}, len(raw))
	for _, r := range raw {
		p, err := New(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// Strings converts a permission slice to plain strings.
func Strings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// Matches reports whether the held permission satisfies the required one.
//
// A held token without a sub-action matches any required sub-action. Malformed
// input on either side never matches.
func Matches(held, required Permission) bool {
	h, err := Parse(string(held))
	if err != nil {
		return false
	}
	if h.Resource == Wildcard && h.Action == Wildcard && !h.HasSubAction() {
		return true
	}

	r, err := Parse(string(required))
	if err != nil {
		return false
	}
	return h.covers(r)
}

func (t Token) covers(required Token) bool {
	if t.Resource != Wildcard && t.Resource != required.Resource {
		return false
	}
	if t.Action != Wildcard && t.Action != required.Action {
		return false
	}
	if !required.HasSubAction() {
		return true
	}
	return !t.HasSubAction() || t.SubAction == Wildcard || t.SubAction == required.SubAction
}

// HasPermission reports whether any held permission matches required.
func HasPermission(held []Permission, required Permission) bool {
	for _, h := range held {
		if Matches(h, required) {
			return true
		}
	}
	return false
}

// HasAny reports whether at least one of required is held. An empty list is never satisfied.
func HasAny(held []Permission, required ...Permission) bool {
	for _, r := range required {
		if HasPermission(held, r) {
			return true
		}
	}
	return false
}

// HasAll reports whether every required permission is held.
func HasAll(held []Permission, required ...Permission) bool {
	for _, r := range required {
		if !HasPermission(held, r) {
			return false
		}
	}
	return true
}
