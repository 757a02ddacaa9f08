package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

const roleColumns = `id, org_id, key, name, description, scope_level, permissions, removals,
	parent_id, is_system, is_modified, created_at, updated_at, deleted_at`

// RoleRepository implements role.Repository using PostgreSQL.
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

var _ role.Repository = (*RoleRepository)(nil)

// Create persists a new role.
func (r *RoleRepository) Create(ctx context.Context, ro *role.Role) error {
	return r.insert(ctx, r.db.DB, ro)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *RoleRepository) insert(ctx context.Context, ex execer, ro *role.Role) error {
	query := `
		INSERT INTO roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := ex.ExecContext(ctx, query,
		ro.ID().String(),
		nullID(ro.OrgID()),
		ro.Key(),
		ro.Name(),
		ro.Description(),
		ro.ScopeLevel().String(),
		pq.Array(permission.Strings(ro.Permissions())),
		pq.Array(permission.Strings(ro.Removals())),
		nullID(ro.ParentID()),
		ro.IsSystem(),
		ro.IsModified(),
		ro.CreatedAt(),
		ro.UpdatedAt(),
		nullTime(ro.DeletedAt()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return role.ErrRoleKeyExists
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// CreateOverride inserts an organization's copy of a system role and moves
// the organization's live assignments of the system role onto the copy.
func (r *RoleRepository) CreateOverride(ctx context.Context, ro *role.Role) error {
	if ro.ParentID() == nil || ro.OrgID() == nil {
		return shared.NewValidationError("override needs a parent and an org")
	}
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := r.insert(ctx, tx, ro); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE role_assignments SET role_id = $1
			WHERE org_id = $2 AND role_id = $3 AND revoked_at IS NULL
		`, ro.ID().String(), ro.OrgID().String(), ro.ParentID().String())
		if err != nil {
			return fmt.Errorf("failed to move assignments to override: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a role by its ID, tombstoned or not.
func (r *RoleRepository) GetByID(ctx context.Context, id shared.ID) (*role.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	ro, err := scanRole(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, role.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return ro, nil
}

// GetOverride returns an organization's live override of a system role.
func (r *RoleRepository) GetOverride(ctx context.Context, orgID, parentID shared.ID) (*role.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles
		WHERE org_id = $1 AND parent_id = $2 AND deleted_at IS NULL`
	ro, err := scanRole(r.db.QueryRowContext(ctx, query, orgID.String(), parentID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, role.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role override: %w", err)
	}
	return ro, nil
}

// ListForOrg returns system roles and the organization's live roles.
func (r *RoleRepository) ListForOrg(ctx context.Context, orgID shared.ID) ([]*role.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles
		WHERE (org_id IS NULL OR org_id = $1) AND deleted_at IS NULL
		ORDER BY is_system DESC, key`
	return r.list(ctx, query, orgID.String())
}

// ListByIDs returns roles by ID, including tombstoned ones.
func (r *RoleRepository) ListByIDs(ctx context.Context, ids []shared.ID) ([]*role.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = ANY($1)`
	return r.list(ctx, query, pq.Array(idStrings(ids)))
}

func (r *RoleRepository) list(ctx context.Context, query string, args ...any) ([]*role.Role, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*role.Role
	for rows.Next() {
		ro, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, ro)
	}
	return roles, rows.Err()
}

// Update persists a role's mutable fields.
func (r *RoleRepository) Update(ctx context.Context, ro *role.Role) error {
	query := `
		UPDATE roles
		SET name = $2, description = $3, permissions = $4, removals = $5,
		    is_modified = $6, updated_at = $7
		WHERE id = $1 AND is_system = FALSE AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query,
		ro.ID().String(),
		ro.Name(),
		ro.Description(),
		pq.Array(permission.Strings(ro.Permissions())),
		pq.Array(permission.Strings(ro.Removals())),
		ro.IsModified(),
		ro.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return expectOneRow(res, role.ErrRoleNotFound)
}

// Tombstone persists the deleted marker.
func (r *RoleRepository) Tombstone(ctx context.Context, ro *role.Role) error {
	if ro.DeletedAt() == nil {
		return shared.NewValidationError("role is not tombstoned")
	}
	query := `
		UPDATE roles SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND is_system = FALSE AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, ro.ID().String(), *ro.DeletedAt())
	if err != nil {
		return fmt.Errorf("failed to tombstone role: %w", err)
	}
	return expectOneRow(res, role.ErrRoleNotFound)
}

// UpsertSystem inserts a seeded system role or refreshes its definition.
func (r *RoleRepository) UpsertSystem(ctx context.Context, ro *role.Role) error {
	if !ro.IsSystem() {
		return shared.NewValidationError("only system roles can be seeded")
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO roles (id, org_id, key, name, description, scope_level, permissions,
		                   removals, is_system, created_at, updated_at)
		VALUES ($1, NULL, $2, $3, $4, $5, $6, '{}', TRUE, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    scope_level = EXCLUDED.scope_level,
		    permissions = EXCLUDED.permissions,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		ro.ID().String(),
		ro.Key(),
		ro.Name(),
		ro.Description(),
		ro.ScopeLevel().String(),
		pq.Array(permission.Strings(ro.Permissions())),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert system role %s: %w", ro.Key(), err)
	}
	return nil
}

// CountActiveAssignments counts unrevoked, unexpired assignments of a role.
func (r *RoleRepository) CountActiveAssignments(ctx context.Context, id shared.ID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM role_assignments
		WHERE role_id = $1 AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, id.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count role assignments: %w", err)
	}
	return n, nil
}

// ListMemberUserIDs returns users holding the role, or a role derived from
// it, inside orgID.
func (r *RoleRepository) ListMemberUserIDs(ctx context.Context, orgID, id shared.ID) ([]shared.ID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ra.user_id
		FROM role_assignments ra
		JOIN roles ro ON ro.id = ra.role_id
		WHERE ra.org_id = $1 AND ra.revoked_at IS NULL
		  AND (ro.id = $2 OR ro.parent_id = $2)
	`, orgID.String(), id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}
	defer rows.Close()

	var ids []shared.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}
		uid, err := shared.IDFromString(raw)
		if err != nil {
			continue
		}
		ids = append(ids, uid)
	}
	return ids, rows.Err()
}

func scanRole(row rowScanner) (*role.Role, error) {
	var (
		id, key, name, description, level string
		orgID, parentID                   sql.NullString
		perms, removals                   []string
		isSystem, isModified              bool
		createdAt, updatedAt              time.Time
		deletedAt                         sql.NullTime
	)
	err := row.Scan(
		&id, &orgID, &key, &name, &description, &level,
		pq.Array(&perms), pq.Array(&removals),
		&parentID, &isSystem, &isModified,
		&createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	rid, err := shared.IDFromString(id)
	if err != nil {
		return nil, err
	}
	lvl, err := scope.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	return role.Reconstruct(
		rid,
		parseNullID(orgID),
		key, name, description,
		lvl,
		toPermissions(perms),
		toPermissions(removals),
		parseNullID(parentID),
		isSystem, isModified,
		createdAt.UTC(), updatedAt.UTC(),
		nullTimeValue(deletedAt),
	), nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
