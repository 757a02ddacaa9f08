package app

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/internal/infra/redis"
	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/facility"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

var (
	orgG  = shared.MustIDFromString("aaaaaaaa-0000-0000-0000-00000000000a")
	orgH  = shared.MustIDFromString("bbbbbbbb-0000-0000-0000-00000000000b")
	locL1 = shared.MustIDFromString("11111111-0000-0000-0000-000000000001")
	locL2 = shared.MustIDFromString("11111111-0000-0000-0000-000000000002")
	locL3 = shared.MustIDFromString("11111111-0000-0000-0000-000000000003")
	depD1 = shared.MustIDFromString("22222222-0000-0000-0000-000000000001")
)

type fixture struct {
	store   *store
	events  *recorder
	clock   time.Time
	mr      *miniredis.Miniredis
	sync    *PermissionSync
	authz   *AuthorizationService
	roles   *RoleService
	grants  *AssignmentService
	nurse   *role.Role
	admin   *role.Role
	surgeon *role.Role
}

type fixtureOpt func(*fixtureConfig)

type fixtureConfig struct{ redis bool }

func withRedis() fixtureOpt { return func(c *fixtureConfig) { c.redis = true } }

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	var cfg fixtureConfig
	for _, o := range opts {
		o(&cfg)
	}

	log := logger.NewNop()
	f := &fixture{
		store:  newStore(),
		events: &recorder{},
		clock:  time.Now().UTC().Truncate(time.Second),
	}
	now := func() time.Time { return f.clock }

	f.nurse = f.seed(t, "nurse", "LOCATION", "patients:read", "patients:update")
	f.admin = f.seed(t, "org_admin", "ORG", "org:read", "staff:*", "patients:read")
	f.surgeon = f.seed(t, "surgeon", "DEPARTMENT", "procedures:*")

	facilities := facility.NewLive(facility.NewDirectory(
		[]facility.Location{
			{ID: locL1, OrgID: orgG, Name: "North Campus"},
			{ID: locL2, OrgID: orgG, Name: "South Campus"},
			{ID: locL3, OrgID: orgH, Name: "Other Hospital"},
		},
		[]facility.Department{
			{ID: depD1, OrgID: orgG, LocationID: locL1, Name: "Cardiology"},
		},
	))

	var authzOpts []AuthorizationServiceOption
	f.sync = &PermissionSync{}
	if cfg.redis {
		f.mr = miniredis.RunT(t)
		rc := goredis.NewClient(&goredis.Options{Addr: f.mr.Addr()})
		t.Cleanup(func() { _ = rc.Close() })
		client := redis.NewFromClient(rc, log)

		cache, err := NewPermissionCacheService(client, time.Minute, log)
		require.NoError(t, err)
		versions := NewPermissionVersionService(client, log)
		f.sync = &PermissionSync{Cache: cache, Versions: versions}
		authzOpts = append(authzOpts, WithAuthzCache(cache), WithAuthzVersions(versions))
	}

	roleRepo := fakeRoleRepo{f.store}
	assignmentRepo := fakeAssignmentRepo{f.store}
	engine := accesscontrol.NewEngine(
		scope.NewResolver(scope.WithDepartmentDirectory(facilities)),
		accesscontrol.WithClock(now),
	)
	authzOpts = append(authzOpts, WithAuthzLabels(facilities), WithAuthzClock(now))

	f.authz = NewAuthorizationService(assignmentRepo, roleRepo, engine, log, authzOpts...)
	f.roles = NewRoleService(roleRepo, log, WithRoleEvents(f.events), WithRolePermissionSync(f.sync))
	f.roles.now = now
	f.grants = NewAssignmentService(assignmentRepo, roleRepo, log,
		WithAssignmentEvents(f.events),
		WithAssignmentPermissionSync(f.sync),
		WithAssignmentFacilities(facilities),
		WithAssignmentClock(now),
	)
	return f
}

func (f *fixture) seed(t *testing.T, key, level string, perms ...string) *role.Role {
	t.Helper()
	r, err := role.NewSystem(role.Definition{Key: key, Name: key, ScopeLevel: level, Permissions: perms})
	require.NoError(t, err)
	f.store.roles[r.ID()] = r
	return r
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func ptr[T any](v T) *T { return &v }
