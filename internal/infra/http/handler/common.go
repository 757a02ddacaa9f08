// Package handler holds the JSON handlers of the authorization API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ehrconnect/authz/internal/infra/http/middleware"
	"github.com/ehrconnect/authz/pkg/apierror"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/validator"
)

// ListResponse represents a list response.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func newListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Total: len(items)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into dst. Unknown fields are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// handleValidationError writes validator failures as a 400 with field details.
func handleValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		apiErrors := make([]apierror.ValidationError, len(validationErrors))
		for i, ve := range validationErrors {
			apiErrors[i] = apierror.ValidationError{
				Field:   ve.Field,
				Message: ve.Message,
			}
		}
		apierror.ValidationFailed("Validation failed", apiErrors).WriteJSON(w)
		return
	}
	apierror.BadRequest("Validation error").WriteJSON(w)
}

// handleServiceError converts service errors to API errors. Server faults
// are logged with the request id; client faults are not.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	apiErr := apierror.FromError(err)
	requestID := middleware.GetRequestID(r.Context())
	if apiErr.Status >= http.StatusInternalServerError {
		log.Error("service error",
			"path", r.URL.Path,
			"request_id", requestID,
			"error", err,
		)
	}
	apiErr.WriteJSONWithRequestID(w, requestID)
}

// pathID parses a UUID path parameter.
func pathID(r *http.Request, key string) (shared.ID, error) {
	id, err := shared.IDFromString(chi.URLParam(r, key))
	if err != nil {
		return shared.ID{}, shared.NewValidationError("invalid " + key)
	}
	return id, nil
}

// optionalID parses an optional UUID field.
func optionalID(raw *string, field string) (*shared.ID, error) {
	if raw == nil {
		return nil, nil
	}
	id, err := shared.OptionalIDFromString(*raw)
	if err != nil {
		return nil, shared.NewValidationError("invalid " + field)
	}
	return id, nil
}

func idString(id *shared.ID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
