package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

const assignmentColumns = `id, user_id, role_id, org_id, scope_level, location_id, department_id,
	assigned_by, assigned_at, expires_at, revoked_at, revoked_by`

// AssignmentRepository implements assignment.Repository using PostgreSQL.
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

var _ assignment.Repository = (*AssignmentRepository)(nil)

// Create persists a new assignment.
func (r *AssignmentRepository) Create(ctx context.Context, a *assignment.Assignment) error {
	query := `
		INSERT INTO role_assignments (` + assignmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID().String(),
		a.UserID().String(),
		a.RoleID().String(),
		a.OrgID().String(),
		a.Scope().String(),
		nullID(a.LocationID()),
		nullID(a.DepartmentID()),
		nullID(a.AssignedBy()),
		a.AssignedAt(),
		nullTime(a.ExpiresAt()),
		nullTime(a.RevokedAt()),
		nullID(a.RevokedBy()),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: unknown role, location or department", shared.ErrValidation)
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetByID retrieves an assignment.
func (r *AssignmentRepository) GetByID(ctx context.Context, id shared.ID) (*assignment.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments WHERE id = $1`
	a, err := scanAssignment(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, assignment.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// Revoke persists the revocation marker. A row revoked concurrently is
// reported as already revoked.
func (r *AssignmentRepository) Revoke(ctx context.Context, a *assignment.Assignment) error {
	if a.RevokedAt() == nil {
		return shared.NewValidationError("assignment is not revoked")
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE role_assignments SET revoked_at = $2, revoked_by = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, a.ID().String(), *a.RevokedAt(), nullID(a.RevokedBy()))
	if err != nil {
		return fmt.Errorf("failed to revoke assignment: %w", err)
	}
	return expectOneRow(res, assignment.ErrAlreadyRevoked)
}

// ListForUser returns the user's unrevoked assignments, expired ones included.
func (r *AssignmentRepository) ListForUser(ctx context.Context, userID shared.ID) ([]*assignment.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY assigned_at`
	return r.list(ctx, query, userID.String())
}

// ListExpiredBetween returns unrevoked assignments whose expiry falls in (from, to].
func (r *AssignmentRepository) ListExpiredBetween(ctx context.Context, from, to time.Time) ([]*assignment.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments
		WHERE revoked_at IS NULL AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at`
	return r.list(ctx, query, from, to)
}

func (r *AssignmentRepository) list(ctx context.Context, query string, args ...any) ([]*assignment.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*assignment.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row rowScanner) (*assignment.Assignment, error) {
	var (
		id, userID, roleID, orgID, level     string
		locationID, departmentID, assignedBy sql.NullString
		revokedBy                            sql.NullString
		assignedAt                           time.Time
		expiresAt, revokedAt                 sql.NullTime
	)
	err := row.Scan(
		&id, &userID, &roleID, &orgID, &level,
		&locationID, &departmentID, &assignedBy,
		&assignedAt, &expiresAt, &revokedAt, &revokedBy,
	)
	if err != nil {
		return nil, err
	}

	var ids [4]shared.ID
	for i, raw := range []string{id, userID, roleID, orgID} {
		if ids[i], err = shared.IDFromString(raw); err != nil {
			return nil, err
		}
	}
	lvl, err := scope.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	return assignment.Reconstruct(
		ids[0], ids[1], ids[2], ids[3],
		lvl,
		parseNullID(locationID),
		parseNullID(departmentID),
		parseNullID(assignedBy),
		assignedAt.UTC(),
		nullTimeValue(expiresAt),
		nullTimeValue(revokedAt),
		parseNullID(revokedBy),
	), nil
}
