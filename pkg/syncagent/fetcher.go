package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Fetcher performs the authoritative reads the agent caches.
type Fetcher interface {
	// FetchPermissions returns the session organization and the caller's
	// effective set inside it.
	FetchPermissions(ctx context.Context) (shared.ID, *accesscontrol.EffectivePermissionSet, error)

	// FetchFeatures returns the feature map and its version.
	FetchFeatures(ctx context.Context) (permission.FeatureMap, string, error)
}

// ErrUnexpectedStatus is returned when the API answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected status")

// HTTPFetcher reads from the authorization API.
type HTTPFetcher struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the API at baseURL.
func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type permissionsPayload struct {
	OrgID shared.ID `json:"org_id"`
	accesscontrol.EffectivePermissionSet
}

type featuresPayload struct {
	Version  string              `json:"version"`
	Features map[string][]string `json:"features"`
}

// FetchPermissions implements Fetcher.
func (f *HTTPFetcher) FetchPermissions(ctx context.Context) (shared.ID, *accesscontrol.EffectivePermissionSet, error) {
	var out permissionsPayload
	if err := f.get(ctx, "/api/v1/me/permissions", &out); err != nil {
		return shared.ID{}, nil, err
	}
	set := out.EffectivePermissionSet
	return out.OrgID, &set, nil
}

// FetchFeatures implements Fetcher.
func (f *HTTPFetcher) FetchFeatures(ctx context.Context) (permission.FeatureMap, string, error) {
	var out featuresPayload
	if err := f.get(ctx, "/api/v1/features", &out); err != nil {
		return nil, "", err
	}
	features, err := permission.ParseFeatureMap(out.Features)
	if err != nil {
		return nil, "", err
	}
	return features, out.Version, nil
}

func (f *HTTPFetcher) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: get %s: %d %s", ErrUnexpectedStatus, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
