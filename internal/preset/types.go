package preset

import (
	"time"

	"github.com/google/uuid"
)

// Preset represents a reusable action script for one application.
// The action tree is immutable during a single execution; mutation only
// happens through editing surfaces outside this core.
type Preset struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Target application package (e.g. "com.example.app")
	AppPackage string `json:"app_package"`

	// Ordered action tree
	Actions []Action `json:"actions"`

	// Declared variables available to the action tree
	Variables []Variable `json:"variables,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action is one node of an action tree.
//
// The JSON shape is the stored wire format: existing presets must keep
// working, so field names and defaults are load-bearing. Enabled and
// ContinueOnError are pointers because their absence means true.
type Action struct {
	// Node type (see the Action* constants)
	Type string `json:"type"`

	// Type-specific parameters
	Params map[string]any `json:"params,omitempty"`

	// Skip this node when explicitly false (absent = enabled)
	Enabled *bool `json:"enabled,omitempty"`

	// When absent or true, a failure of this node logs and the sibling
	// sequence continues; only an explicit false aborts the run.
	ContinueOnError *bool `json:"continue_on_error,omitempty"`

	// Nested action lists for control-flow nodes
	Actions     []Action `json:"actions,omitempty"`
	ElseActions []Action `json:"else_actions,omitempty"`
}

// Variable declares a named slot the action tree can reference as ${name}.
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"` // text, number, element
	Value string `json:"value,omitempty"`
}

// Action node types.
const (
	ActionWait               = "wait"
	ActionLaunchApp          = "launch_app"
	ActionOpenDeeplink       = "open_deeplink"
	ActionStartActivity      = "start_activity"
	ActionClickCoords        = "click_coords"
	ActionTypeText           = "type_text"
	ActionPressBack          = "press_back"
	ActionPressHome          = "press_home"
	ActionSwipe              = "swipe"
	ActionScreenshot         = "screenshot"
	ActionWaitForElement     = "wait_for_element"
	ActionClickElement       = "click_element"
	ActionIfElementExists    = "if_element_exists"
	ActionIfElementNotExists = "if_element_not_exists"
	ActionRepeat             = "repeat"
	ActionCallPreset         = "call_preset"
)

// Variable types.
const (
	VariableText    = "text"
	VariableNumber  = "number"
	VariableElement = "element"
)

// IsEnabled reports whether the node should execute. Absent means true.
func (a *Action) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// ContinuesOnError reports whether a failure of this node lets the
// sibling sequence continue. Absent means true.
func (a *Action) ContinuesOnError() bool {
	return a.ContinueOnError == nil || *a.ContinueOnError
}

// TotalActions counts the top-level actions in the preset. Progress is
// tracked against top-level nodes only; nested nodes report through the
// failure path instead.
func (p *Preset) TotalActions() int {
	return len(p.Actions)
}

// DeepCopy creates a complete independent copy of the Preset.
// All nested slices and maps are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (p *Preset) DeepCopy() *Preset {
	if p == nil {
		return nil
	}

	cpy := *p

	if p.Actions != nil {
		cpy.Actions = copyActions(p.Actions)
	}
	if p.Variables != nil {
		cpy.Variables = make([]Variable, len(p.Variables))
		copy(cpy.Variables, p.Variables)
	}
	return &cpy
}

func copyActions(actions []Action) []Action {
	out := make([]Action, len(actions))
	for i := range actions {
		out[i] = actions[i]
		if actions[i].Params != nil {
			params := make(map[string]any, len(actions[i].Params))
			for k, v := range actions[i].Params {
				params[k] = v
			}
			out[i].Params = params
		}
		out[i].Enabled = cloneBoolPtr(actions[i].Enabled)
		out[i].ContinueOnError = cloneBoolPtr(actions[i].ContinueOnError)
		if actions[i].Actions != nil {
			out[i].Actions = copyActions(actions[i].Actions)
		}
		if actions[i].ElseActions != nil {
			out[i].ElseActions = copyActions(actions[i].ElseActions)
		}
	}
	return out
}

func cloneBoolPtr(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// GenerateID creates a new UUID for a preset.
func GenerateID() string {
	return uuid.New().String()
}
