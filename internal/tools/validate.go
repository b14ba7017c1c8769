package tools

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// validateArgs checks required arguments and the declared types of the
// arguments that are present. Unknown arguments are tolerated.
func validateArgs(desc domain.ToolDescriptor, args map[string]any) error {
	for _, name := range desc.Parameters.Required {
		if v, ok := args[name]; !ok || v == nil {
			return &ValidationError{Name: desc.Name, Message: fmt.Sprintf("missing required argument %q", name)}
		}
	}

	for name, prop := range desc.Parameters.Properties {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		if !matchesType(prop.Type, v) {
			return &ValidationError{Name: desc.Name, Message: fmt.Sprintf("argument %q must be of type %s", name, prop.Type)}
		}
		if len(prop.Enum) > 0 {
			s, _ := v.(string)
			if !contains(prop.Enum, s) {
				return &ValidationError{Name: desc.Name, Message: fmt.Sprintf("argument %q must be one of %v", name, prop.Enum)}
			}
		}
	}
	return nil
}

func matchesType(schemaType string, v any) bool {
	switch schemaType {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "integer":
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
