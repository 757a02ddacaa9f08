// Package validator provides struct validation utilities with custom validators.
package validator

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
)

// roleKeyRegex validates role keys: snake case, e.g. ward_nurse. Keys are
// matched case-insensitively.
var roleKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("permission", validatePermission)
	_ = v.RegisterValidation("scope_level", validateScopeLevel)
	_ = v.RegisterValidation("assignable_scope", validateAssignableScope)
	_ = v.RegisterValidation("role_key", validateRoleKey)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatErrorMessage(e),
		})
	}
	return result
}

// validatePermission accepts resource:action[:subAction] and the wildcard forms.
func validatePermission(fl validator.FieldLevel) bool {
	_, err := permission.Parse(fl.Field().String())
	return err == nil
}

func validateScopeLevel(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	_, err := scope.ParseLevel(value)
	return err == nil
}

// validateAssignableScope rejects PLATFORM, which only system roles carry.
func validateAssignableScope(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	l, err := scope.ParseLevel(value)
	return err == nil && l.IsAssignable()
}

func validateRoleKey(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return roleKeyRegex.MatchString(strings.ToLower(strings.TrimSpace(value)))
}

// formatErrorMessage converts validation errors to human-readable messages.
func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "permission":
		return "must be resource:action or resource:action:subAction"
	case "scope_level":
		return "must be one of: PLATFORM, ORG, LOCATION, DEPARTMENT"
	case "assignable_scope":
		return "must be one of: ORG, LOCATION, DEPARTMENT"
	case "role_key":
		return "must be a snake case key (e.g. ward_nurse)"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "uuid":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
