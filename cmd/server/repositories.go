package main

import (
	"github.com/ehrconnect/authz/internal/infra/postgres"
)

// Repositories holds the PostgreSQL repositories.
type Repositories struct {
	Role       *postgres.RoleRepository
	Assignment *postgres.AssignmentRepository
	Facility   *postgres.FacilityRepository
}

// NewRepositories creates all repositories on db.
func NewRepositories(db *postgres.DB) *Repositories {
	return &Repositories{
		Role:       postgres.NewRoleRepository(db),
		Assignment: postgres.NewAssignmentRepository(db),
		Facility:   postgres.NewFacilityRepository(db),
	}
}
