package services

import (
	"errors"
	"strings"
)

var (
	// ErrForbidden is returned when a record exists but belongs to another user.
	ErrForbidden = errors.New("forbidden")

	// ErrImageRequired is returned when a classify request carries no image.
	ErrImageRequired = errors.New("image data is required")

	// ErrNoImage is returned when an analysis has no stored photo.
	ErrNoImage = errors.New("analysis has no stored image")
)

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when an assembled analysis fails schema checks.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "invalid analysis data: " + strings.Join(parts, "; ")
}
