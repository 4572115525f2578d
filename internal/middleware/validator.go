package middleware

import (
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	GithubURL string         `json:"githubUrl" validate:"required,max=2048"`
	Options   map[string]any `json:"options,omitempty" validate:"omitempty,max=32"`
}

// Normalize trims and strips control characters from the URL.
func (r *AnalyzeRequest) Normalize() {
	r.GithubURL = SanitizeString(r.GithubURL)
}

// MissingField reports whether err is a "required" failure on field.
func MissingField(err error, field string) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.Field() == field && fe.Tag() == "required" {
			return true
		}
	}
	return false
}

// ValidateStruct runs the struct tags of v.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
