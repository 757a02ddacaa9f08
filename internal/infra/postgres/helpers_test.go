package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/migrations"
)

func TestNullID(t *testing.T) {
	assert.False(t, nullID(nil).Valid)
	zero := shared.ID{}
	assert.False(t, nullID(&zero).Valid)

	id := shared.NewID()
	ns := nullID(&id)
	require.True(t, ns.Valid)
	back := parseNullID(ns)
	require.NotNil(t, back)
	assert.True(t, back.Equals(id))

	assert.Nil(t, parseNullID(sql.NullString{String: "not-a-uuid", Valid: true}))
	assert.Nil(t, parseNullID(sql.NullString{}))
}

func TestNullTime(t *testing.T) {
	assert.False(t, nullTime(nil).Valid)
	assert.Nil(t, nullTimeValue(sql.NullTime{}))

	local := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	got := nullTimeValue(nullTime(&local))
	require.NotNil(t, got)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
}

func TestToPermissions_DropsUnparseable(t *testing.T) {
	got := toPermissions([]string{"patients:view", "garbage", "billing:edit:refund"})
	assert.Equal(t, []permission.Permission{"patients:view", "billing:edit:refund"}, got)
}

func TestConstraintViolations(t *testing.T) {
	unique := fmt.Errorf("insert role: %w", &pq.Error{Code: "23505"})
	fk := &pq.Error{Code: "23503"}

	assert.True(t, isUniqueViolation(unique))
	assert.False(t, isUniqueViolation(fk))
	assert.True(t, isForeignKeyViolation(fk))
	assert.False(t, isForeignKeyViolation(errors.New("boom")))
}

func TestMigrations_Paired(t *testing.T) {
	up, err := migrations.Load(Migrations(), migrations.Up)
	require.NoError(t, err)
	down, err := migrations.Load(Migrations(), migrations.Down)
	require.NoError(t, err)

	require.NotEmpty(t, up)
	assert.Equal(t, migrations.Versions(up), migrations.Versions(down))
}
