package controller

import (
	"context"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/facility"
)

// Defaults used when an interval is not positive.
const (
	DefaultFacilityInterval = 5 * time.Minute
	DefaultPolicyInterval   = 5 * time.Minute
	DefaultKeySetInterval   = time.Hour
)

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// FacilityController reloads the location and department directory used for
// org-membership checks and assignment labels.
type FacilityController struct {
	live     *facility.Live
	repo     facility.Repository
	interval time.Duration
}

// NewFacilityController creates a FacilityController.
func NewFacilityController(live *facility.Live, repo facility.Repository, interval time.Duration) *FacilityController {
	return &FacilityController{
		live:     live,
		repo:     repo,
		interval: orDefault(interval, DefaultFacilityInterval),
	}
}

func (c *FacilityController) Name() string            { return "facility_directory" }
func (c *FacilityController) Interval() time.Duration { return c.interval }

// Reconcile swaps in a fresh directory and returns its size.
func (c *FacilityController) Reconcile(ctx context.Context) (int, error) {
	if err := c.live.Reload(ctx, c.repo); err != nil {
		return 0, err
	}
	return c.live.Snapshot().Size(), nil
}

// PolicyRefresher reloads the policy document. app.FeatureService
// satisfies it.
type PolicyRefresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// PolicyController reloads the feature map from the policy source.
type PolicyController struct {
	refresher PolicyRefresher
	interval  time.Duration
}

// NewPolicyController creates a PolicyController.
func NewPolicyController(r PolicyRefresher, interval time.Duration) *PolicyController {
	return &PolicyController{
		refresher: r,
		interval:  orDefault(interval, DefaultPolicyInterval),
	}
}

func (c *PolicyController) Name() string            { return "policy_document" }
func (c *PolicyController) Interval() time.Duration { return c.interval }

// Reconcile returns 1 when the document changed.
func (c *PolicyController) Reconcile(ctx context.Context) (int, error) {
	changed, err := c.refresher.Refresh(ctx)
	if err != nil || !changed {
		return 0, err
	}
	return 1, nil
}

// KeySetRefresher reloads signing keys. keycloak.Validator satisfies it.
type KeySetRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// KeySetController keeps the identity provider's signing keys current.
type KeySetController struct {
	refresher KeySetRefresher
	interval  time.Duration
}

// NewKeySetController creates a KeySetController.
func NewKeySetController(r KeySetRefresher, interval time.Duration) *KeySetController {
	return &KeySetController{
		refresher: r,
		interval:  orDefault(interval, DefaultKeySetInterval),
	}
}

func (c *KeySetController) Name() string            { return "jwks" }
func (c *KeySetController) Interval() time.Duration { return c.interval }

// Reconcile returns the number of keys loaded.
func (c *KeySetController) Reconcile(ctx context.Context) (int, error) {
	return c.refresher.Refresh(ctx)
}
