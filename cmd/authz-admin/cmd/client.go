package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the authorization API HTTP client.
type Client struct {
	baseURL    string
	token      string
	locationID string
	httpClient *http.Client
	verbose    bool
}

// NewClient creates a new API client. locationID, when set, is sent as the
// request location scope.
func NewClient(baseURL, token, locationID string, verbose bool) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		locationID: locationID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		verbose: verbose,
	}
}

// Do performs an HTTP request and returns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.locationID != "" {
		req.Header.Set("X-Location-ID", c.locationID)
	}

	if c.verbose {
		fmt.Printf(">>> %s %s\n", method, url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if c.verbose {
		fmt.Printf("<<< %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, resp.StatusCode, nil
}

// Get performs a GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	data, _, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return unmarshal(data, out)
}

// Post performs a POST request and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	data, _, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return unmarshal(data, out)
}

// Put performs a PUT request and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	data, _, err := c.Do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	return unmarshal(data, out)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, _, err := c.Do(ctx, http.MethodDelete, path, nil)
	return err
}

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode}

	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}

	if apiErr.Message == "" {
		switch statusCode {
		case http.StatusUnauthorized:
			apiErr.Message = "unauthorized: invalid or expired token"
		case http.StatusForbidden:
			apiErr.Message = "forbidden: insufficient permissions"
		case http.StatusNotFound:
			apiErr.Message = "resource not found"
		case http.StatusConflict:
			apiErr.Message = "conflict: resource already exists"
		default:
			apiErr.Message = fmt.Sprintf("API error: %d %s", statusCode, http.StatusText(statusCode))
		}
	}

	return apiErr
}

// Response types matching server handler structs.

type listResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

type RoleResponse struct {
	ID          string   `json:"id" yaml:"id"`
	OrgID       *string  `json:"org_id,omitempty" yaml:"org_id,omitempty"`
	Key         string   `json:"key" yaml:"key"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	ScopeLevel  string   `json:"scope_level" yaml:"scope_level"`
	IsSystem    bool     `json:"is_system" yaml:"is_system"`
	IsModified  bool     `json:"is_modified" yaml:"is_modified"`
	ParentID    *string  `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Permissions []string `json:"permissions" yaml:"permissions"`
	CreatedAt   string   `json:"created_at" yaml:"created_at"`
	UpdatedAt   string   `json:"updated_at" yaml:"updated_at"`
}

type AssignmentResponse struct {
	ID           string  `json:"id" yaml:"id"`
	UserID       string  `json:"user_id" yaml:"user_id"`
	RoleID       string  `json:"role_id" yaml:"role_id"`
	OrgID        string  `json:"org_id" yaml:"org_id"`
	Scope        string  `json:"scope" yaml:"scope"`
	LocationID   *string `json:"location_id,omitempty" yaml:"location_id,omitempty"`
	DepartmentID *string `json:"department_id,omitempty" yaml:"department_id,omitempty"`
	AssignedBy   *string `json:"assigned_by,omitempty" yaml:"assigned_by,omitempty"`
	AssignedAt   string  `json:"assigned_at" yaml:"assigned_at"`
	ExpiresAt    *string `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	RevokedAt    *string `json:"revoked_at,omitempty" yaml:"revoked_at,omitempty"`
}

type AssignmentSummary struct {
	AssignmentID    string  `json:"assignment_id" yaml:"assignment_id"`
	RoleID          string  `json:"role_id" yaml:"role_id"`
	RoleKey         string  `json:"role_key" yaml:"role_key"`
	RoleName        string  `json:"role_name" yaml:"role_name"`
	Scope           string  `json:"scope" yaml:"scope"`
	LocationID      *string `json:"location_id,omitempty" yaml:"location_id,omitempty"`
	LocationLabel   string  `json:"location_label,omitempty" yaml:"location_label,omitempty"`
	DepartmentID    *string `json:"department_id,omitempty" yaml:"department_id,omitempty"`
	DepartmentLabel string  `json:"department_label,omitempty" yaml:"department_label,omitempty"`
	ExpiresAt       *string `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

type PermissionsResponse struct {
	OrgID       string              `json:"org_id" yaml:"org_id"`
	UserID      string              `json:"user_id" yaml:"user_id"`
	Permissions []string            `json:"permissions" yaml:"permissions"`
	Assignments []AssignmentSummary `json:"assignments" yaml:"assignments"`
	ComputedAt  string              `json:"computed_at" yaml:"computed_at"`
	Generation  int64               `json:"generation" yaml:"generation"`
}

type AuthorizeRequest struct {
	Permission       string  `json:"permission"`
	LocationID       *string `json:"location_id,omitempty"`
	DepartmentID     *string `json:"department_id,omitempty"`
	SkipLocationGate bool    `json:"skip_location_gate,omitempty"`
}

type AuthorizeResponse struct {
	Allowed bool   `json:"allowed" yaml:"allowed"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

type MatrixResponse struct {
	OrgID      string                     `json:"org_id" yaml:"org_id"`
	LocationID *string                    `json:"location_id,omitempty" yaml:"location_id,omitempty"`
	Matrix     map[string]map[string]bool `json:"matrix" yaml:"matrix"`
}

type FeaturesResponse struct {
	Version  string              `json:"version" yaml:"version"`
	Features map[string][]string `json:"features" yaml:"features"`
}
