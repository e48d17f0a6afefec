package interpreter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tapforge/tapforge-core/internal/adb"
	"github.com/tapforge/tapforge-core/internal/preset"
)

// Logger defines the logging interface used by the Interpreter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PresetLoader resolves call_preset references. The preset registry
// satisfies it.
type PresetLoader interface {
	GetPreset(ctx context.Context, id string) (*preset.Preset, error)
}

// Defaults for action parameters that are usually omitted.
const (
	defaultWaitTimeout     = 10 * time.Second
	defaultPollInterval    = time.Second
	defaultMaxIterations   = 100
	defaultSwipeDurationMS = 300
)

// Interpreter walks a preset's action tree against a live device
// session. Node failures are recoverable per node via continue_on_error
// (default true); circular preset references are always fatal. The
// context is checked between action boundaries so a cancelled execution
// stops at the next action rather than running the script out.
type Interpreter struct {
	presets PresetLoader
	logger  Logger

	// maxIterations caps repeat counts that omit max_iterations.
	maxIterations int
}

// New creates an interpreter resolving call_preset through the loader.
func New(presets PresetLoader) *Interpreter {
	return &Interpreter{
		presets:       presets,
		logger:        noopLogger{},
		maxIterations: defaultMaxIterations,
	}
}

// SetLogger sets the logger for the interpreter.
func (it *Interpreter) SetLogger(logger Logger) {
	it.logger = logger
}

// Execute runs a preset's action tree to completion. Declared variables
// are installed into the context unless already present (callers inject
// credentials and inherited values before calling). The returned error,
// if any, is an *ActionError locating the failure.
func (it *Interpreter) Execute(ctx context.Context, p *preset.Preset, ectx *Context) error {
	for _, id := range ectx.CallStack {
		if id == p.ID {
			return fmt.Errorf("%w: %s", ErrCircularReference, p.ID)
		}
	}
	ectx.CallStack = append(ectx.CallStack, p.ID)

	if ectx.Variables == nil {
		ectx.Variables = make(map[string]any)
	}
	for _, v := range p.Variables {
		if _, exists := ectx.Variables[v.Name]; !exists {
			ectx.Variables[v.Name] = v.Value
		}
	}

	return it.runList(ctx, p.Actions, ectx, "", 0, true)
}

// runList executes one action list. For the top-level list each action
// carries its own index; nested lists inherit the enclosing top-level
// index for error reporting.
func (it *Interpreter) runList(ctx context.Context, actions []preset.Action, ectx *Context,
	pathPrefix string, topIndex int, topLevel bool) error {

	for i := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}

		a := &actions[i]
		idx := topIndex
		if topLevel {
			idx = i
		}
		path := fmt.Sprintf("%s[%d]", pathPrefix, i)

		if !a.IsEnabled() {
			it.logger.Debug("action disabled, skipping", "type", a.Type, "path", path)
		} else {
			started := time.Now()
			err := it.runAction(ctx, a, ectx, path, idx)
			if ectx.OnAction != nil {
				ectx.OnAction(a.Type, time.Since(started), err == nil)
			}
			if err != nil {
				var actionErr *ActionError
				isAction := errors.As(err, &actionErr)
				if !isAction || actionErr.Fatal() || !a.ContinuesOnError() {
					return err
				}
				it.logger.Warn("action failed, continuing",
					"type", a.Type, "path", path, "error", actionErr.Err)
			}
		}

		if topLevel {
			ectx.completed = i + 1
			if ectx.OnProgress != nil {
				ectx.OnProgress(i + 1)
			}
		}
	}
	return nil
}

// runAction dispatches one node and wraps any failure with its locus.
func (it *Interpreter) runAction(ctx context.Context, a *preset.Action, ectx *Context,
	path string, topIndex int) error {

	err := it.dispatch(ctx, a, ectx, path, topIndex)
	if err == nil {
		return nil
	}

	// Cancellation and already-located failures pass through untouched.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var nested *ActionError
	if errors.As(err, &nested) {
		return err
	}

	return &ActionError{
		Index:  topIndex,
		Type:   a.Type,
		Params: a.Params,
		Path:   path,
		Err:    err,
		fatal:  errors.Is(err, ErrCircularReference),
	}
}

func (it *Interpreter) dispatch(ctx context.Context, a *preset.Action, ectx *Context,
	path string, topIndex int) error {

	switch a.Type {
	case preset.ActionWait:
		seconds, err := numberParam(a, "seconds", ectx.Variables)
		if err != nil {
			return err
		}
		return sleepCtx(ctx, time.Duration(seconds*float64(time.Second)))

	case preset.ActionLaunchApp:
		pkg, err := stringParam(a, "package", ectx.Variables)
		if err != nil {
			return err
		}
		return ectx.Device.LaunchApp(ctx, pkg)

	case preset.ActionOpenDeeplink:
		uri, err := stringParam(a, "uri", ectx.Variables)
		if err != nil {
			return err
		}
		return ectx.Device.OpenDeeplink(ctx, uri)

	case preset.ActionStartActivity:
		component, err := stringParam(a, "component", ectx.Variables)
		if err != nil {
			return err
		}
		return ectx.Device.StartActivity(ctx, component)

	case preset.ActionClickCoords:
		x, y, err := it.resolvePoint(ctx, a, ectx, "x", "y")
		if err != nil {
			return err
		}
		return ectx.Device.Tap(ctx, x, y)

	case preset.ActionTypeText:
		text, err := stringParam(a, "text", ectx.Variables)
		if err != nil {
			return err
		}
		return ectx.Device.InputText(ctx, text)

	case preset.ActionPressBack:
		return ectx.Device.PressBack(ctx)

	case preset.ActionPressHome:
		return ectx.Device.PressHome(ctx)

	case preset.ActionSwipe:
		x1, y1, err := it.resolvePoint(ctx, a, ectx, "x1", "y1")
		if err != nil {
			return err
		}
		x2, y2, err := it.resolvePoint(ctx, a, ectx, "x2", "y2")
		if err != nil {
			return err
		}
		durationMS, err := optionalNumber(a, paramKey(a, "duration_ms", "duration"),
			ectx.Variables, defaultSwipeDurationMS)
		if err != nil {
			return err
		}
		return ectx.Device.Swipe(ctx, x1, y1, x2, y2,
			time.Duration(durationMS)*time.Millisecond)

	case preset.ActionScreenshot:
		data, err := ectx.Device.Screenshot(ctx)
		if err != nil {
			return err
		}
		it.logger.Debug("screenshot captured", "bytes", len(data), "path", path)
		return nil

	case preset.ActionWaitForElement:
		sel, err := selectorFromParams(a, ectx.Variables)
		if err != nil {
			return err
		}
		timeoutSec, err := optionalNumber(a, "timeout", ectx.Variables,
			defaultWaitTimeout.Seconds())
		if err != nil {
			return err
		}
		intervalSec, err := optionalNumber(a, "interval", ectx.Variables,
			defaultPollInterval.Seconds())
		if err != nil {
			return err
		}
		node, err := ectx.Device.WaitFor(ctx, sel,
			time.Duration(timeoutSec*float64(time.Second)),
			time.Duration(intervalSec*float64(time.Second)))
		if err != nil {
			if errors.Is(err, adb.ErrWaitTimeout) && optionalBool(a, "continue_on_timeout", false) {
				it.logger.Debug("element did not appear, continuing",
					"path", path, "selector", sel.String())
				return nil
			}
			return err
		}
		if name := optionalString(a, "store_as", ectx.Variables); name != "" {
			ectx.Variables[name] = node
		}
		return nil

	case preset.ActionClickElement:
		sel, err := selectorFromParams(a, ectx.Variables)
		if err != nil {
			return err
		}
		timeoutSec, err := optionalNumber(a, "timeout", ectx.Variables, 0)
		if err != nil {
			return err
		}
		node, err := it.locate(ctx, ectx, sel, timeoutSec)
		if err != nil {
			return err
		}
		return ectx.Device.TapElement(ctx, node)

	case preset.ActionIfElementExists, preset.ActionIfElementNotExists:
		return it.runBranch(ctx, a, ectx, path, topIndex)

	case preset.ActionRepeat:
		return it.runRepeat(ctx, a, ectx, path, topIndex)

	case preset.ActionCallPreset:
		return it.runCallPreset(ctx, a, ectx, path, topIndex)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownActionType, a.Type)
	}
}

// resolvePoint resolves a coordinate pair, scaling fractional values
// against the cached screen resolution.
func (it *Interpreter) resolvePoint(ctx context.Context, a *preset.Action, ectx *Context,
	xKey, yKey string) (int, int, error) {

	xRaw, err := numberParam(a, xKey, ectx.Variables)
	if err != nil {
		return 0, 0, err
	}
	yRaw, err := numberParam(a, yKey, ectx.Variables)
	if err != nil {
		return 0, 0, err
	}

	fractional := func(v float64) bool { return v > 0 && v <= 1 }
	if !fractional(xRaw) && !fractional(yRaw) {
		return resolveCoordinate(xRaw, 0), resolveCoordinate(yRaw, 0), nil
	}

	w, h, err := ectx.screenSize(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("resolving fractional coordinates: %w", err)
	}
	return resolveCoordinate(xRaw, w), resolveCoordinate(yRaw, h), nil
}

// locate finds an element immediately, or polls when a timeout is set.
func (it *Interpreter) locate(ctx context.Context, ectx *Context,
	sel adb.Selector, timeoutSec float64) (*adb.UINode, error) {

	if timeoutSec > 0 {
		return ectx.Device.WaitFor(ctx, sel,
			time.Duration(timeoutSec*float64(time.Second)), defaultPollInterval)
	}
	return ectx.Device.Find(ctx, sel)
}

// checkResult is the typed outcome of a presence check. Evaluation
// errors are a distinct state so the collapse to a branch condition is
// explicit: a failed check never satisfies either branch node's
// positive condition, and never aborts the run.
type checkResult int

const (
	checkFound checkResult = iota
	checkNotFound
	checkFailed
)

func (it *Interpreter) checkPresence(ctx context.Context, ectx *Context, sel adb.Selector) checkResult {
	_, err := ectx.Device.Find(ctx, sel)
	switch {
	case err == nil:
		return checkFound
	case errors.Is(err, adb.ErrElementNotFound):
		return checkNotFound
	default:
		it.logger.Debug("presence check failed", "selector", sel.String(), "error", err)
		return checkFailed
	}
}

// runBranch evaluates an if_element_exists / if_element_not_exists node
// and walks the matching branch list.
func (it *Interpreter) runBranch(ctx context.Context, a *preset.Action, ectx *Context,
	path string, topIndex int) error {

	sel, err := selectorFromParams(a, ectx.Variables)
	if err != nil {
		return err
	}

	result := it.checkPresence(ctx, ectx, sel)

	var condition bool
	if a.Type == preset.ActionIfElementExists {
		condition = result == checkFound
	} else {
		condition = result == checkNotFound
	}

	branch := a.ElseActions
	if condition {
		branch = a.Actions
	}
	return it.runList(ctx, branch, ectx, path, topIndex, false)
}

// runRepeat executes the nested list count times, capped by
// max_iterations, with a cancellable delay between iterations.
func (it *Interpreter) runRepeat(ctx context.Context, a *preset.Action, ectx *Context,
	path string, topIndex int) error {

	count, err := numberParam(a, "count", ectx.Variables)
	if err != nil {
		return err
	}
	maxIter, err := optionalNumber(a, "max_iterations", ectx.Variables,
		float64(it.maxIterations))
	if err != nil {
		return err
	}
	delaySec, err := optionalNumber(a, paramKey(a, "delay_between", "delay"), ectx.Variables, 0)
	if err != nil {
		return err
	}

	iterations := int(count)
	if limit := int(maxIter); iterations > limit {
		it.logger.Debug("repeat count capped",
			"path", path, "count", iterations, "max_iterations", limit)
		iterations = limit
	}

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && delaySec > 0 {
			if err := sleepCtx(ctx, time.Duration(delaySec*float64(time.Second))); err != nil {
				return err
			}
		}
		if err := it.runList(ctx, a.Actions, ectx, path, topIndex, false); err != nil {
			return err
		}
	}
	return nil
}

// runCallPreset executes another preset inline under the caller's
// context. With inherit_variables (the default) the callee shares the
// caller's variable map, so the caller's values win over the callee's
// declared defaults and assignments made by the callee remain visible
// after it returns. A failure inside the callee is reported against
// the call_preset node's own index and path, with the callee's path
// appended.
func (it *Interpreter) runCallPreset(ctx context.Context, a *preset.Action, ectx *Context,
	path string, topIndex int) error {

	presetID, err := stringParam(a, "preset_id", ectx.Variables)
	if err != nil {
		return err
	}

	for _, id := range ectx.CallStack {
		if id == presetID {
			return fmt.Errorf("%w: %s via %v", ErrCircularReference, presetID, ectx.CallStack)
		}
	}

	callee, err := it.presets.GetPreset(ctx, presetID)
	if err != nil {
		return fmt.Errorf("resolving preset %s: %w", presetID, err)
	}

	childVars := ectx.Variables
	if !optionalBool(a, "inherit_variables", true) {
		childVars = make(map[string]any, len(callee.Variables))
	}

	childCtx := &Context{
		Device:    ectx.Device,
		Variables: childVars,
		CallStack: ectx.CallStack,
		OnAction:  ectx.OnAction,
		screenW:   ectx.screenW,
		screenH:   ectx.screenH,
	}
	if err := it.Execute(ctx, callee, childCtx); err != nil {
		var calleeErr *ActionError
		if errors.As(err, &calleeErr) {
			return &ActionError{
				Index:  topIndex,
				Type:   calleeErr.Type,
				Params: calleeErr.Params,
				Path:   path + calleeErr.Path,
				Err:    calleeErr.Err,
				fatal:  calleeErr.fatal,
			}
		}
		return err
	}
	return nil
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
