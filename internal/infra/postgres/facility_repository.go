package postgres

import (
	"context"
	"fmt"

	"github.com/ehrconnect/authz/pkg/domain/facility"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// FacilityRepository implements facility.Repository using PostgreSQL.
type FacilityRepository struct {
	db *DB
}

// NewFacilityRepository creates a new FacilityRepository.
func NewFacilityRepository(db *DB) *FacilityRepository {
	return &FacilityRepository{db: db}
}

var _ facility.Repository = (*FacilityRepository)(nil)

// ListLocations returns every location.
func (r *FacilityRepository) ListLocations(ctx context.Context) ([]facility.Location, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, org_id, name FROM locations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var out []facility.Location
	for rows.Next() {
		var id, org, name string
		if err := rows.Scan(&id, &org, &name); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		l := facility.Location{Name: name}
		if l.ID, err = shared.IDFromString(id); err != nil {
			continue
		}
		if l.OrgID, err = shared.IDFromString(org); err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListDepartments returns every department.
func (r *FacilityRepository) ListDepartments(ctx context.Context) ([]facility.Department, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, org_id, location_id, name FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var out []facility.Department
	for rows.Next() {
		var id, org, loc, name string
		if err := rows.Scan(&id, &org, &loc, &name); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		d := facility.Department{Name: name}
		if d.ID, err = shared.IDFromString(id); err != nil {
			continue
		}
		if d.OrgID, err = shared.IDFromString(org); err != nil {
			continue
		}
		if d.LocationID, err = shared.IDFromString(loc); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
