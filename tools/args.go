package tools

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/vinayprograms/mcpbridge/errors"
)

// Args is the argument object of one tool call. Every accessor fails with
// an INVALID_INPUT error naming the argument, so a tool never issues a
// command built from a value of the wrong shape.
type Args map[string]interface{}

// Has reports whether key was supplied, even with an empty value.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// String returns a required, non-empty string.
func (a Args) String(key string) (string, error) {
	s, err := a.OptionalString(key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", missing(key)
	}
	return s, nil
}

// OptionalString returns key as a string, or def when it is absent.
func (a Args) OptionalString(key, def string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", wrongType(key, "a string", v)
	}
	return s, nil
}

// OptionalInt returns key as an integer, or def when it is absent. JSON
// numbers arrive as float64; fractional values are rejected.
func (a Args) OptionalInt(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, wrongType(key, "an integer", v)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, wrongType(key, "an integer", v)
		}
		return int(i), nil
	default:
		return 0, wrongType(key, "an integer", v)
	}
}

// OptionalBool returns key as a boolean, or def when it is absent.
func (a Args) OptionalBool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, wrongType(key, "a boolean", v)
	}
	return b, nil
}

// Strings returns a required list of strings with empty entries dropped.
// A lone string is taken as a one-element list. The result is never empty.
func (a Args) Strings(key string) ([]string, error) {
	var out []string
	switch v := a[key].(type) {
	case nil:
	case string:
		out = []string{v}
	case []string:
		out = v
	case []interface{}:
		out = make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, wrongType(fmt.Sprintf("%s[%d]", key, i), "a string", item)
			}
			out = append(out, s)
		}
	default:
		return nil, wrongType(key, "a string or an array of strings", v)
	}

	out = filterNonEmpty(out)
	if len(out) == 0 {
		return nil, missing(key)
	}
	return out, nil
}

func missing(key string) error {
	return errors.InvalidInput(key + " is required")
}

func wrongType(key, want string, got interface{}) error {
	return errors.InvalidInput(fmt.Sprintf("%s must be %s, got %T", key, want, got))
}

// filterNonEmpty returns a slice with empty strings removed.
func filterNonEmpty(slice []string) []string {
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}
