package validation

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/hugh/go-tenant/internal/database/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return IsValidSlug(fl.Field().String())
	})
	_ = v.RegisterValidation("interval", func(fl validator.FieldLevel) bool {
		return models.BillingInterval(fl.Field().String()).Valid()
	})
	return v
}

// Struct validates s against its `validate` tags and returns field errors
// keyed by JSON name. A nil map means s is valid.
func Struct(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"request": err.Error()}
	}

	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fieldPath(fe)] = message(fe)
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters"
	case "alphanum":
		return "must contain only letters and digits"
	case "slug":
		return "must be a lowercase slug"
	case "interval":
		return "must be one of: day week month year"
	case "url":
		return "must be a valid URL"
	}
	return "is invalid"
}

// IsValidSlug reports whether s is a lowercase slug such as "billing-manager".
func IsValidSlug(s string) bool {
	if s == "" || len(s) > 64 || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for _, r := range s {
		if r != '-' && r != '_' && !unicode.IsDigit(r) && !(r >= 'a' && r <= 'z') {
			return false
		}
	}
	return true
}

// ValidatePermissions checks that every feature and action in p is a slug
// and that no action is empty.
func ValidatePermissions(p models.Permissions) map[string]string {
	errs := make(map[string]string)
	for feature, actions := range p {
		if !IsValidSlug(feature) {
			errs["permissions"] = "Invalid feature name: " + feature
			break
		}
		if len(actions) == 0 {
			errs["permissions."+feature] = "must list at least one action"
			continue
		}
		for _, action := range actions {
			if !IsValidSlug(action) {
				errs["permissions."+feature] = "Invalid action: " + action
				break
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// SanitizeString removes potentially dangerous characters for display
func SanitizeString(s string) string {
	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	// Remove control characters except newlines and tabs
	var result strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// TruncateString truncates a string to maxLen characters
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
