package interpreter

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/tapforge/tapforge-core/internal/adb"
	"github.com/tapforge/tapforge-core/internal/preset"
)

// varRe matches ${name} template references in string params.
var varRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// substituteVars expands ${name} references from the variable map.
// Unresolved references pass through unchanged.
func substituteVars(s string, vars map[string]any) string {
	return varRe.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := vars[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return ref
	})
}

// stringParam resolves a required string parameter with variable
// substitution applied.
func stringParam(a *preset.Action, key string, vars map[string]any) (string, error) {
	raw, ok := a.Params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s needs %q", ErrMissingParam, a.Type, key)
	}
	return substituteVars(fmt.Sprintf("%v", raw), vars), nil
}

// optionalString resolves a string parameter, returning "" when absent.
func optionalString(a *preset.Action, key string, vars map[string]any) string {
	raw, ok := a.Params[key]
	if !ok {
		return ""
	}
	return substituteVars(fmt.Sprintf("%v", raw), vars)
}

// numberParam resolves a required numeric parameter. JSON numbers
// arrive as float64; strings are substituted then parsed, so a param
// may reference a number variable.
func numberParam(a *preset.Action, key string, vars map[string]any) (float64, error) {
	raw, ok := a.Params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s needs %q", ErrMissingParam, a.Type, key)
	}
	return toNumber(raw, vars)
}

// optionalNumber resolves a numeric parameter with a fallback.
func optionalNumber(a *preset.Action, key string, vars map[string]any, fallback float64) (float64, error) {
	raw, ok := a.Params[key]
	if !ok {
		return fallback, nil
	}
	return toNumber(raw, vars)
}

func toNumber(raw any, vars map[string]any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		resolved := substituteVars(v, vars)
		n, err := strconv.ParseFloat(resolved, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing number %q: %w", resolved, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not a number", raw, raw)
	}
}

// paramKey returns the first of the given keys set on the action, or
// the first key when none are. Lets a parameter keep an older spelling
// alongside its documented name.
func paramKey(a *preset.Action, keys ...string) string {
	for _, k := range keys {
		if _, ok := a.Params[k]; ok {
			return k
		}
	}
	return keys[0]
}

// optionalBool resolves a boolean parameter with a fallback.
func optionalBool(a *preset.Action, key string, fallback bool) bool {
	raw, ok := a.Params[key]
	if !ok {
		return fallback
	}
	if b, isBool := raw.(bool); isBool {
		return b
	}
	return fallback
}

// resolveCoordinate converts a coordinate parameter to absolute pixels.
// Values in (0, 1] are fractions of the screen dimension, rounded to
// the nearest pixel; anything else is taken as an absolute pixel value.
func resolveCoordinate(v float64, dim int) int {
	if v > 0 && v <= 1 {
		return int(math.Round(v * float64(dim)))
	}
	return int(math.Round(v))
}

// selectorFromParams builds an element selector from an action's
// resource_id / text / content_desc params, with variable substitution.
func selectorFromParams(a *preset.Action, vars map[string]any) (adb.Selector, error) {
	sel := adb.Selector{
		ResourceID:  optionalString(a, "resource_id", vars),
		Text:        optionalString(a, "text", vars),
		ContentDesc: optionalString(a, "content_desc", vars),
	}
	if mode := optionalString(a, paramKey(a, "text_match_mode", "match_mode"), vars); mode != "" {
		sel.Mode = adb.MatchMode(mode)
	}
	if sel.Empty() {
		return sel, fmt.Errorf("%w: %s needs a selector", ErrMissingParam, a.Type)
	}
	return sel, nil
}
