package registry

import (
	"fmt"
	"math"
	"regexp"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
)

// ValidateParameters checks a deployment's parameter map against a
// template's parameter schema: every required parameter is present, types
// match, numeric values fall within Min/Max, enum values are one of
// AllowedValues, and strings match Pattern when one is set. It returns the
// first violation found as a *errors.AppError (ErrorTypeParameterInvalid).
func ValidateParameters(schema []domain.ParameterSpec, params map[string]interface{}) error {
	for _, spec := range schema {
		value, present := params[spec.Name]
		if !present {
			if spec.Required {
				return qamerrors.NewParameterInvalid(spec.Name, "required parameter is missing")
			}
			continue
		}
		if err := validateOne(spec, value); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(spec domain.ParameterSpec, value interface{}) error {
	switch spec.Type {
	case domain.ParamInt:
		n, ok := asFloat(value)
		if !ok || n != math.Trunc(n) {
			return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("expected an integer, got %T", value))
		}
		return checkRange(spec, n)
	case domain.ParamFloat:
		n, ok := asFloat(value)
		if !ok {
			return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("expected a number, got %T", value))
		}
		return checkRange(spec, n)
	case domain.ParamBool:
		if _, ok := value.(bool); !ok {
			return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("expected a boolean, got %T", value))
		}
		return nil
	case domain.ParamString:
		s, ok := value.(string)
		if !ok {
			return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("expected a string, got %T", value))
		}
		return checkString(spec, s)
	default:
		return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("unknown parameter type %q", spec.Type))
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func checkRange(spec domain.ParameterSpec, n float64) error {
	if spec.Min != nil && n < *spec.Min {
		return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("%v is below the minimum of %v", n, *spec.Min))
	}
	if spec.Max != nil && n > *spec.Max {
		return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("%v is above the maximum of %v", n, *spec.Max))
	}
	if len(spec.AllowedValues) > 0 && !containsString(spec.AllowedValues, fmt.Sprintf("%v", n)) {
		return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("%v is not one of the allowed values", n))
	}
	return nil
}

func checkString(spec domain.ParameterSpec, s string) error {
	if len(spec.AllowedValues) > 0 && !containsString(spec.AllowedValues, s) {
		return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("%q is not one of the allowed values", s))
	}
	if spec.Pattern != "" {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("invalid validation pattern: %v", err))
		}
		if !re.MatchString(s) {
			return qamerrors.NewParameterInvalid(spec.Name, fmt.Sprintf("%q does not match the required pattern", s))
		}
	}
	return nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
