package preset

import (
	"fmt"
	"strings"
)

// requiredParams maps each action type to the params it cannot run without.
// Selector nodes are special-cased in validateAction: they need at least
// one of resource_id, text, content_desc rather than a fixed set.
var requiredParams = map[string][]string{
	ActionWait:          {"seconds"},
	ActionLaunchApp:     {"package"},
	ActionOpenDeeplink:  {"uri"},
	ActionStartActivity: {"component"},
	ActionClickCoords:   {"x", "y"},
	ActionTypeText:      {"text"},
	ActionPressBack:     {},
	ActionPressHome:     {},
	ActionSwipe:         {"x1", "y1", "x2", "y2"},
	ActionScreenshot:    {},
	ActionRepeat:        {"count"},
	ActionCallPreset:    {"preset_id"},
}

// selectorActions are the node types that locate an element by selector.
var selectorActions = map[string]bool{
	ActionWaitForElement:     true,
	ActionClickElement:       true,
	ActionIfElementExists:    true,
	ActionIfElementNotExists: true,
}

// Validate checks a preset for structural correctness: non-empty name,
// recognised action types with their required params, and well-formed
// variable declarations.
func Validate(p *Preset) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidName
	}

	for i := range p.Variables {
		if err := validateVariable(&p.Variables[i]); err != nil {
			return err
		}
	}

	return validateActions(p.Actions, "")
}

func validateVariable(v *Variable) error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidVariable)
	}
	switch v.Type {
	case VariableText, VariableNumber, VariableElement:
		return nil
	default:
		return fmt.Errorf("%w: %s has type %q", ErrInvalidVariable, v.Name, v.Type)
	}
}

func validateActions(actions []Action, path string) error {
	for i := range actions {
		nodePath := fmt.Sprintf("%s[%d]", path, i)
		if err := validateAction(&actions[i], nodePath); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(a *Action, path string) error {
	required, selector := requiredParams[a.Type], selectorActions[a.Type]
	if !selector {
		if _, known := requiredParams[a.Type]; !known {
			return fmt.Errorf("%w: %q at %s", ErrUnknownActionType, a.Type, path)
		}
	}

	if selector {
		if !hasAnyParam(a, "resource_id", "text", "content_desc") {
			return fmt.Errorf("%w: %s at %s needs a selector (resource_id, text or content_desc)",
				ErrMissingParam, a.Type, path)
		}
	} else {
		for _, param := range required {
			if !hasParam(a, param) {
				return fmt.Errorf("%w: %s at %s needs %q", ErrMissingParam, a.Type, path, param)
			}
		}
	}

	// Control-flow nodes carry nested lists.
	switch a.Type {
	case ActionRepeat:
		if len(a.Actions) == 0 {
			return fmt.Errorf("%w: repeat at %s needs a nested action list", ErrInvalid, path)
		}
	case ActionIfElementExists, ActionIfElementNotExists:
		if len(a.Actions) == 0 && len(a.ElseActions) == 0 {
			return fmt.Errorf("%w: %s at %s needs actions or else_actions", ErrInvalid, a.Type, path)
		}
	}

	if err := validateActions(a.Actions, path); err != nil {
		return err
	}
	return validateActions(a.ElseActions, path)
}

func hasParam(a *Action, name string) bool {
	if a.Params == nil {
		return false
	}
	_, ok := a.Params[name]
	return ok
}

func hasAnyParam(a *Action, names ...string) bool {
	for _, n := range names {
		if hasParam(a, n) {
			return true
		}
	}
	return false
}
