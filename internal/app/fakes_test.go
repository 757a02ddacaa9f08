package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// store is an in-memory role and assignment store shared by both fake repositories.
type store struct {
	mu          sync.Mutex
	roles       map[shared.ID]*role.Role
	assignments map[shared.ID]*assignment.Assignment
	failReads   error
}

func newStore() *store {
	return &store{
		roles:       map[shared.ID]*role.Role{},
		assignments: map[shared.ID]*assignment.Assignment{},
	}
}

func cloneRole(r *role.Role) *role.Role {
	return role.Reconstruct(r.ID(), r.OrgID(), r.Key(), r.Name(), r.Description(), r.ScopeLevel(),
		r.Permissions(), r.Removals(), r.ParentID(), r.IsSystem(), r.IsModified(),
		r.CreatedAt(), r.UpdatedAt(), r.DeletedAt())
}

func cloneAssignment(a *assignment.Assignment) *assignment.Assignment {
	return assignment.Reconstruct(a.ID(), a.UserID(), a.RoleID(), a.OrgID(), a.Scope(),
		a.LocationID(), a.DepartmentID(), a.AssignedBy(), a.AssignedAt(),
		a.ExpiresAt(), a.RevokedAt(), a.RevokedBy())
}

type fakeRoleRepo struct{ s *store }

var _ role.Repository = fakeRoleRepo{}

func (f fakeRoleRepo) GetByID(_ context.Context, id shared.ID) (*role.Role, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.roles[id]
	if !ok {
		return nil, role.ErrRoleNotFound
	}
	return cloneRole(r), nil
}

func (f fakeRoleRepo) GetOverride(_ context.Context, orgID, parentID shared.ID) (*role.Role, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, r := range f.s.roles {
		if r.OrgID() != nil && r.OrgID().Equals(orgID) &&
			r.ParentID() != nil && r.ParentID().Equals(parentID) && !r.IsDeleted() {
			return cloneRole(r), nil
		}
	}
	return nil, role.ErrRoleNotFound
}

func (f fakeRoleRepo) ListByIDs(_ context.Context, ids []shared.ID) ([]*role.Role, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.failReads != nil {
		return nil, f.s.failReads
	}
	var out []*role.Role
	for _, id := range ids {
		if r, ok := f.s.roles[id]; ok {
			out = append(out, cloneRole(r))
		}
	}
	return out, nil
}

func (f fakeRoleRepo) ListForOrg(_ context.Context, orgID shared.ID) ([]*role.Role, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*role.Role
	for _, r := range f.s.roles {
		if !r.IsDeleted() && r.BelongsTo(orgID) {
			out = append(out, cloneRole(r))
		}
	}
	return out, nil
}

func (f fakeRoleRepo) Create(_ context.Context, r *role.Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.roles {
		if existing.Key() == r.Key() && !existing.IsDeleted() && shared.EqualsPtr(existing.OrgID(), r.OrgID()) {
			return role.ErrRoleKeyExists
		}
	}
	f.s.roles[r.ID()] = cloneRole(r)
	return nil
}

func (f fakeRoleRepo) CreateOverride(_ context.Context, r *role.Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.roles[r.ID()] = cloneRole(r)
	for id, a := range f.s.assignments {
		if a.OrgID().Equals(*r.OrgID()) && a.RoleID().Equals(*r.ParentID()) && !a.IsRevoked() {
			f.s.assignments[id] = assignment.Reconstruct(a.ID(), a.UserID(), r.ID(), a.OrgID(), a.Scope(),
				a.LocationID(), a.DepartmentID(), a.AssignedBy(), a.AssignedAt(),
				a.ExpiresAt(), a.RevokedAt(), a.RevokedBy())
		}
	}
	return nil
}

func (f fakeRoleRepo) Update(_ context.Context, r *role.Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.roles[r.ID()]; !ok {
		return role.ErrRoleNotFound
	}
	f.s.roles[r.ID()] = cloneRole(r)
	return nil
}

func (f fakeRoleRepo) Tombstone(ctx context.Context, r *role.Role) error {
	return f.Update(ctx, r)
}

func (f fakeRoleRepo) UpsertSystem(_ context.Context, r *role.Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.roles[r.ID()] = cloneRole(r)
	return nil
}

func (f fakeRoleRepo) CountActiveAssignments(_ context.Context, id shared.ID) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	n := 0
	for _, a := range f.s.assignments {
		if a.RoleID().Equals(id) && a.IsActive(time.Now()) {
			n++
		}
	}
	return n, nil
}

func (f fakeRoleRepo) ListMemberUserIDs(_ context.Context, orgID, id shared.ID) ([]shared.ID, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	seen := map[shared.ID]bool{}
	var out []shared.ID
	for _, a := range f.s.assignments {
		if !a.OrgID().Equals(orgID) || a.IsRevoked() {
			continue
		}
		r := f.s.roles[a.RoleID()]
		if r == nil {
			continue
		}
		if (r.ID().Equals(id) || shared.EqualsPtr(r.ParentID(), &id)) && !seen[a.UserID()] {
			seen[a.UserID()] = true
			out = append(out, a.UserID())
		}
	}
	return out, nil
}

type fakeAssignmentRepo struct{ s *store }

var _ assignment.Repository = fakeAssignmentRepo{}

func (f fakeAssignmentRepo) Create(_ context.Context, a *assignment.Assignment) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.roles[a.RoleID()]; !ok {
		return shared.NewValidationError("unknown role")
	}
	f.s.assignments[a.ID()] = cloneAssignment(a)
	return nil
}

func (f fakeAssignmentRepo) GetByID(_ context.Context, id shared.ID) (*assignment.Assignment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.assignments[id]
	if !ok {
		return nil, assignment.ErrAssignmentNotFound
	}
	return cloneAssignment(a), nil
}

func (f fakeAssignmentRepo) Revoke(_ context.Context, a *assignment.Assignment) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.assignments[a.ID()]
	if !ok {
		return assignment.ErrAssignmentNotFound
	}
	if cur.IsRevoked() {
		return assignment.ErrAlreadyRevoked
	}
	f.s.assignments[a.ID()] = cloneAssignment(a)
	return nil
}

func (f fakeAssignmentRepo) ListForUser(_ context.Context, userID shared.ID) ([]*assignment.Assignment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.failReads != nil {
		return nil, f.s.failReads
	}
	var out []*assignment.Assignment
	for _, a := range f.s.assignments {
		if a.UserID().Equals(userID) && !a.IsRevoked() {
			out = append(out, cloneAssignment(a))
		}
	}
	return out, nil
}

func (f fakeAssignmentRepo) ListExpiredBetween(_ context.Context, from, to time.Time) ([]*assignment.Assignment, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*assignment.Assignment
	for _, a := range f.s.assignments {
		exp := a.ExpiresAt()
		if a.IsRevoked() || exp == nil {
			continue
		}
		if exp.After(from) && !exp.After(to) {
			out = append(out, cloneAssignment(a))
		}
	}
	return out, nil
}

// recorder is an EventPublisher that keeps what it was given.
type recorder struct {
	mu     sync.Mutex
	events []event.PermissionChange
	err    error
}

func (r *recorder) Publish(_ context.Context, e event.PermissionChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []event.PermissionChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.PermissionChange(nil), r.events...)
}

var errStoreDown = errors.New("store unavailable")
