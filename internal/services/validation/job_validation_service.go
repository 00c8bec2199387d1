// -----------------------------------------------------------------------
// Package validation checks submitted job configurations before a job exists
// -----------------------------------------------------------------------

package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/ghostrun/internal/models"
)

// FieldError is one entry of the details list returned with 400
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationError carries every problem found in a config
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = d.Field + ": " + d.Message
	}
	return "invalid job configuration: " + strings.Join(parts, "; ")
}

// NewDecodeError reports a body that could not be parsed at all
func NewDecodeError(err error) *ValidationError {
	return &ValidationError{Details: []FieldError{{Field: "body", Tag: "decode", Message: err.Error()}}}
}

// JobValidationService validates job configs using go-playground/validator tags
// plus cross-field rules on each action
type JobValidationService struct {
	validate *validator.Validate
}

// NewJobValidationService creates a validator that reports JSON field names
func NewJobValidationService() *JobValidationService {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterStructValidation(validateActionSpec, models.ActionSpec{})

	return &JobValidationService{validate: validate}
}

// Validate returns nil or a *ValidationError
func (s *JobValidationService) Validate(config *models.JobConfig) error {
	if config == nil {
		return &ValidationError{Details: []FieldError{{Field: "body", Tag: "required", Message: "request body is required"}}}
	}

	err := s.validate.Struct(config)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("failed to validate job configuration: %w", err)
	}

	details := make([]FieldError, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		details = append(details, FieldError{
			Field:   fieldPath(fe),
			Tag:     fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return &ValidationError{Details: details}
}

// validateActionSpec enforces the rules that depend on the action type
func validateActionSpec(sl validator.StructLevel) {
	spec := sl.Current().Interface().(models.ActionSpec)

	switch spec.Type {
	case models.ActionGoto:
		if spec.URL == "" {
			sl.ReportError(spec.URL, "url", "URL", "required_for_goto", "")
		}
	case models.ActionFill:
		if spec.Text == "" {
			sl.ReportError(spec.Text, "text", "Text", "required_for_fill", "")
		}
	case models.ActionExpect:
		if spec.Locator() == nil {
			sl.ReportError(spec.Selector, "selector", "Selector", "locator_required", "")
		}
	}

	// A coordinate needs both axes
	switch {
	case spec.X != nil && spec.Y == nil:
		sl.ReportError(spec.Y, "y", "Y", "point_incomplete", "x")
	case spec.Y != nil && spec.X == nil:
		sl.ReportError(spec.X, "x", "X", "point_incomplete", "y")
	}

	if fields := spec.LocatorFields(); len(fields) > 1 {
		sl.ReportError(spec.Selector, "locator", "Locator", "exclusive_locator", strings.Join(fields, ","))
	}
}

// fieldPath drops the root struct name: "JobConfig.actions[0].url" -> "actions[0].url"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "url":
		return "must be an absolute URL"
	case "required_for_goto":
		return "is required for goto actions"
	case "required_for_fill":
		return "is required for fill actions"
	case "locator_required":
		return "expect actions need one of label, text, name, selector or altText"
	case "point_incomplete":
		return fmt.Sprintf("is required when %s is set", fe.Param())
	case "exclusive_locator":
		return fmt.Sprintf("only one locator may be set, got [%s]", strings.ReplaceAll(fe.Param(), ",", ", "))
	}
	return fmt.Sprintf("failed on '%s' validation", fe.Tag())
}
