package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/internal/policy"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/logger"
)

func TestFeatureService_Refresh(t *testing.T) {
	src := &policy.StaticSource{Doc: &policy.Document{
		Features: permission.FeatureMap{
			"billing_dashboard": {"billing:read"},
			"open_beta":         {},
		},
		Hash: "v1",
	}}
	svc := NewFeatureService(src, logger.NewNop())
	ctx := context.Background()

	// nothing loaded yet: every feature is undeclared
	assert.True(t, svc.Allows(nil, "billing_dashboard"))

	changed, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "v1", svc.Version())

	changed, err = svc.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	tests := []struct {
		name string
		held []permission.Permission
		key  string
		want bool
	}{
		{"declared and held", []permission.Permission{"billing:read"}, "billing_dashboard", true},
		{"declared and held by wildcard", []permission.Permission{"billing:*"}, "billing_dashboard", true},
		{"declared and missing", []permission.Permission{"patients:read"}, "billing_dashboard", false},
		{"declared with no permissions", nil, "open_beta", true},
		{"undeclared", nil, "never_registered", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Allows(tt.held, tt.key))
		})
	}

	src.Err = errors.New("bucket unreachable")
	_, err = svc.Refresh(ctx)
	assert.Error(t, err)
	assert.False(t, svc.Allows(nil, "billing_dashboard"), "previous map is kept")

	// callers get a copy
	m := svc.Features()
	m["billing_dashboard"] = nil
	assert.False(t, svc.Allows(nil, "billing_dashboard"))
}
