package toolengine

import (
	"fmt"

	"weave/internal/domain/tool"
	"weave/internal/errors"
)

// ParamIssueKind classifies one parameter validation failure.
type ParamIssueKind string

const (
	IssueMissingRequired  ParamIssueKind = "missing_required"
	IssueTypeMismatch     ParamIssueKind = "type_mismatch"
	IssueInvalidEnumValue ParamIssueKind = "invalid_enum_value"
	IssueUnknownParameter ParamIssueKind = "unknown_parameter"
)

// ParamIssue is one entry in the structured validation error list.
type ParamIssue struct {
	Kind    ParamIssueKind `json:"kind"`
	Param   string         `json:"param"`
	Message string         `json:"message"`
}

// ValidateParams checks params against the tool's declarations and returns
// the effective parameter map with defaults filled for absent optionals.
// Unknown parameters are rejected unless the tool opts into lenient mode.
// Validation on the output of default-filling is a no-op.
func ValidateParams(t *tool.Tool, params map[string]any) (map[string]any, []ParamIssue) {
	var issues []ParamIssue
	effective := make(map[string]any, len(t.Params))

	for i := range t.Params {
		decl := &t.Params[i]
		value, present := params[decl.Name]
		if !present {
			if decl.Required {
				issues = append(issues, ParamIssue{
					Kind:    IssueMissingRequired,
					Param:   decl.Name,
					Message: fmt.Sprintf("required parameter %q is missing", decl.Name),
				})
				continue
			}
			if decl.Default != nil {
				effective[decl.Name] = decl.Default
			}
			continue
		}

		if !typeMatches(decl.Type, value) {
			issues = append(issues, ParamIssue{
				Kind:    IssueTypeMismatch,
				Param:   decl.Name,
				Message: fmt.Sprintf("parameter %q must be %s", decl.Name, decl.Type),
			})
			continue
		}

		if len(decl.Enum) > 0 && !enumContains(decl.Enum, value) {
			issues = append(issues, ParamIssue{
				Kind:    IssueInvalidEnumValue,
				Param:   decl.Name,
				Message: fmt.Sprintf("parameter %q is not one of the allowed values", decl.Name),
			})
			continue
		}

		effective[decl.Name] = value
	}

	if !t.Lenient {
		for name := range params {
			if _, declared := t.Param(name); !declared {
				issues = append(issues, ParamIssue{
					Kind:    IssueUnknownParameter,
					Param:   name,
					Message: fmt.Sprintf("parameter %q is not declared by tool %q", name, t.Name),
				})
			}
		}
	} else {
		for name, value := range params {
			if _, declared := t.Param(name); !declared {
				effective[name] = value
			}
		}
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return effective, nil
}

func typeMatches(declared tool.ParamType, value any) bool {
	switch declared {
	case tool.ParamString:
		_, ok := value.(string)
		return ok
	case tool.ParamNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case tool.ParamBoolean:
		_, ok := value.(bool)
		return ok
	case tool.ParamObject:
		_, ok := value.(map[string]any)
		return ok
	case tool.ParamArray:
		_, ok := value.([]any)
		return ok
	}
	return false
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if equalScalar(candidate, value) {
			return true
		}
	}
	return false
}

// equalScalar compares enum members tolerating the int/float64 split that
// YAML and JSON decoding produce.
func equalScalar(a, b any) bool {
	if a == b {
		return true
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	return aNum && bNum && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// paramsError folds a non-empty issue list into a DomainError.
func paramsError(t *tool.Tool, issues []ParamIssue) error {
	return errors.New(errors.KindInvalidRequest,
		"invalid parameters for tool %q", t.Name).
		WithMeta("issues", issues)
}
