package interpreter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tapforge/tapforge-core/internal/adb"
	"github.com/tapforge/tapforge-core/internal/preset"
)

// ═══════════════════════════════════════════════════════════════════════════
// Fakes
// ═══════════════════════════════════════════════════════════════════════════

// fakeDevice records every driver call and answers element lookups from
// a fixed node table keyed by selector string.
type fakeDevice struct {
	ops     []string
	width   int
	height  int
	nodes   map[string]*adb.UINode
	failOps map[string]error

	screenSizeCalls int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		width:   1080,
		height:  2400,
		nodes:   make(map[string]*adb.UINode),
		failOps: make(map[string]error),
	}
}

func (d *fakeDevice) record(op string) error {
	d.ops = append(d.ops, op)
	return d.failOps[op]
}

func (d *fakeDevice) Tap(_ context.Context, x, y int) error {
	return d.record(fmt.Sprintf("tap %d %d", x, y))
}

func (d *fakeDevice) Swipe(_ context.Context, x1, y1, x2, y2 int, dur time.Duration) error {
	return d.record(fmt.Sprintf("swipe %d %d %d %d %dms", x1, y1, x2, y2, dur.Milliseconds()))
}

func (d *fakeDevice) InputText(_ context.Context, text string) error {
	return d.record("text " + text)
}

func (d *fakeDevice) PressBack(_ context.Context) error { return d.record("back") }
func (d *fakeDevice) PressHome(_ context.Context) error { return d.record("home") }

func (d *fakeDevice) LaunchApp(_ context.Context, pkg string) error {
	return d.record("launch " + pkg)
}

func (d *fakeDevice) OpenDeeplink(_ context.Context, uri string) error {
	return d.record("deeplink " + uri)
}

func (d *fakeDevice) StartActivity(_ context.Context, component string) error {
	return d.record("activity " + component)
}

func (d *fakeDevice) Screenshot(_ context.Context) ([]byte, error) {
	return []byte{0x89, 0x50}, d.record("screenshot")
}

func (d *fakeDevice) ScreenSize(_ context.Context) (int, int, error) {
	d.screenSizeCalls++
	return d.width, d.height, nil
}

func (d *fakeDevice) Find(_ context.Context, sel adb.Selector) (*adb.UINode, error) {
	if err := d.failOps["find"]; err != nil {
		return nil, err
	}
	if node, ok := d.nodes[sel.String()]; ok {
		return node, nil
	}
	return nil, adb.ErrElementNotFound
}

func (d *fakeDevice) WaitFor(ctx context.Context, sel adb.Selector, _, _ time.Duration) (*adb.UINode, error) {
	node, err := d.Find(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", adb.ErrWaitTimeout, sel)
	}
	return node, nil
}

func (d *fakeDevice) TapElement(ctx context.Context, n *adb.UINode) error {
	rect, err := n.Rect()
	if err != nil {
		return err
	}
	x, y := rect.Center()
	return d.Tap(ctx, x, y)
}

func (d *fakeDevice) countOps(prefix string) int {
	n := 0
	for _, op := range d.ops {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fakeLoader struct {
	presets map[string]*preset.Preset
}

func (f *fakeLoader) GetPreset(_ context.Context, id string) (*preset.Preset, error) {
	p, ok := f.presets[id]
	if !ok {
		return nil, preset.ErrNotFound
	}
	return p.DeepCopy(), nil
}

func run(t *testing.T, p *preset.Preset, device *fakeDevice, loader *fakeLoader) (*Context, error) {
	t.Helper()
	if loader == nil {
		loader = &fakeLoader{}
	}
	it := New(loader)
	ectx := NewContext(device)
	err := it.Execute(context.Background(), p, ectx)
	return ectx, err
}

func actionsOf(actions ...preset.Action) *preset.Preset {
	return &preset.Preset{ID: "root", Name: "root", Actions: actions}
}

func boolPtr(b bool) *bool { return &b }

// ═══════════════════════════════════════════════════════════════════════════
// Basic node execution
// ═══════════════════════════════════════════════════════════════════════════

func TestExecute_SequentialActions(t *testing.T) {
	device := newFakeDevice()
	p := actionsOf(
		preset.Action{Type: preset.ActionLaunchApp, Params: map[string]any{"package": "com.example"}},
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{Type: preset.ActionPressBack},
	)

	ectx, err := run(t, p, device, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := []string{"launch com.example", "home", "back"}
	if len(device.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", device.ops, want)
	}
	for i := range want {
		if device.ops[i] != want[i] {
			t.Errorf("ops[%d] = %q, want %q", i, device.ops[i], want[i])
		}
	}
	if ectx.Completed() != 3 {
		t.Errorf("Completed() = %d, want 3", ectx.Completed())
	}
}

func TestExecute_DisabledActionSkipped(t *testing.T) {
	device := newFakeDevice()
	p := actionsOf(
		preset.Action{Type: preset.ActionPressHome, Enabled: boolPtr(false)},
		preset.Action{Type: preset.ActionPressBack},
	)

	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.countOps("home") != 0 {
		t.Error("disabled action was executed")
	}
	if device.countOps("back") != 1 {
		t.Error("sibling of disabled action did not run")
	}
}

func TestSwipe_Duration(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{
			name:   "duration_ms",
			params: map[string]any{"x1": 100.0, "y1": 200.0, "x2": 100.0, "y2": 900.0, "duration_ms": 1000.0},
			want:   "swipe 100 200 100 900 1000ms",
		},
		{
			name:   "legacy duration spelling",
			params: map[string]any{"x1": 100.0, "y1": 200.0, "x2": 100.0, "y2": 900.0, "duration": 750.0},
			want:   "swipe 100 200 100 900 750ms",
		},
		{
			name:   "default when omitted",
			params: map[string]any{"x1": 100.0, "y1": 200.0, "x2": 100.0, "y2": 900.0},
			want:   "swipe 100 200 100 900 300ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice()
			p := actionsOf(preset.Action{Type: preset.ActionSwipe, Params: tt.params})

			if _, err := run(t, p, device, nil); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if device.ops[0] != tt.want {
				t.Errorf("ops[0] = %q, want %q", device.ops[0], tt.want)
			}
		})
	}
}

func TestExecute_ProgressCallback(t *testing.T) {
	device := newFakeDevice()
	p := actionsOf(
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{Type: preset.ActionPressBack},
	)

	var progress []int
	it := New(&fakeLoader{})
	ectx := NewContext(device)
	ectx.OnProgress = func(completed int) { progress = append(progress, completed) }

	if err := it.Execute(context.Background(), p, ectx); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(progress) != 2 || progress[0] != 1 || progress[1] != 2 {
		t.Errorf("progress = %v, want [1 2]", progress)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Coordinate resolution
// ═══════════════════════════════════════════════════════════════════════════

func TestExecute_ActionCallback(t *testing.T) {
	device := newFakeDevice()
	device.failOps["back"] = errors.New("input rejected")
	p := actionsOf(
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{Type: preset.ActionScreenshot, Enabled: boolPtr(false)},
		preset.Action{Type: preset.ActionPressBack},
	)

	var reported []string
	it := New(&fakeLoader{})
	ectx := NewContext(device)
	ectx.OnAction = func(actionType string, _ time.Duration, success bool) {
		reported = append(reported, fmt.Sprintf("%s %t", actionType, success))
	}

	if err := it.Execute(context.Background(), p, ectx); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	// The disabled node is not reported; the failing node is, as a
	// failure.
	want := []string{"press_home true", "press_back false"}
	if len(reported) != 2 || reported[0] != want[0] || reported[1] != want[1] {
		t.Errorf("reported = %v, want %v", reported, want)
	}
}

func TestCoordinateResolution(t *testing.T) {
	tests := []struct {
		name    string
		x, y    any
		wantOp  string
		fetches int
	}{
		{"absolute pixels unchanged", float64(540), float64(1200), "tap 540 1200", 0},
		{"fractions scale to screen", 0.5, 0.25, "tap 540 600", 1},
		{"mixed absolute and fraction", float64(540), 0.5, "tap 540 1200", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice()
			p := actionsOf(preset.Action{
				Type:   preset.ActionClickCoords,
				Params: map[string]any{"x": tt.x, "y": tt.y},
			})

			if _, err := run(t, p, device, nil); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if device.countOps(tt.wantOp) != 1 {
				t.Errorf("ops = %v, want %q", device.ops, tt.wantOp)
			}
			if device.screenSizeCalls != tt.fetches {
				t.Errorf("screen size fetches = %d, want %d", device.screenSizeCalls, tt.fetches)
			}
		})
	}
}

func TestCoordinateResolution_ScreenSizeCached(t *testing.T) {
	device := newFakeDevice()
	p := actionsOf(
		preset.Action{Type: preset.ActionClickCoords, Params: map[string]any{"x": 0.5, "y": 0.5}},
		preset.Action{Type: preset.ActionClickCoords, Params: map[string]any{"x": 0.1, "y": 0.9}},
	)

	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.screenSizeCalls != 1 {
		t.Errorf("screen size fetches = %d, want 1 (cached)", device.screenSizeCalls)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Variables
// ═══════════════════════════════════════════════════════════════════════════

func TestVariableSubstitution(t *testing.T) {
	device := newFakeDevice()
	p := &preset.Preset{
		ID:   "p1",
		Name: "vars",
		Variables: []preset.Variable{
			{Name: "username", Type: preset.VariableText, Value: "alice"},
		},
		Actions: []preset.Action{
			{Type: preset.ActionTypeText, Params: map[string]any{"text": "${username}!"}},
			{Type: preset.ActionTypeText, Params: map[string]any{"text": "${undeclared}"}},
		},
	}

	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.ops[0] != "text alice!" {
		t.Errorf("ops[0] = %q, want %q", device.ops[0], "text alice!")
	}
	// Unresolved references pass through unchanged.
	if device.ops[1] != "text ${undeclared}" {
		t.Errorf("ops[1] = %q, want the literal reference", device.ops[1])
	}
}

func TestVariables_InjectedValuesWinOverDeclaredDefaults(t *testing.T) {
	device := newFakeDevice()
	p := &preset.Preset{
		ID:   "p1",
		Name: "vars",
		Variables: []preset.Variable{
			{Name: "account_secret", Type: preset.VariableText, Value: "default"},
		},
		Actions: []preset.Action{
			{Type: preset.ActionTypeText, Params: map[string]any{"text": "${account_secret}"}},
		},
	}

	it := New(&fakeLoader{})
	ectx := NewContext(device)
	ectx.Variables["account_secret"] = "injected"

	if err := it.Execute(context.Background(), p, ectx); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.ops[0] != "text injected" {
		t.Errorf("ops[0] = %q, want injected credential", device.ops[0])
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Failure semantics
// ═══════════════════════════════════════════════════════════════════════════

func TestContinueOnError_DefaultContinues(t *testing.T) {
	device := newFakeDevice()
	device.failOps["home"] = errors.New("input rejected")

	p := actionsOf(
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{Type: preset.ActionPressBack},
	)

	ectx, err := run(t, p, device, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil (default continue_on_error)", err)
	}
	if device.countOps("back") != 1 {
		t.Error("sibling after failing node did not run")
	}
	if ectx.Completed() != 2 {
		t.Errorf("Completed() = %d, want 2", ectx.Completed())
	}
}

func TestContinueOnError_ExplicitFalseAborts(t *testing.T) {
	device := newFakeDevice()
	device.failOps["home"] = errors.New("input rejected")

	p := actionsOf(
		preset.Action{Type: preset.ActionPressBack},
		preset.Action{Type: preset.ActionPressHome, ContinueOnError: boolPtr(false)},
		preset.Action{Type: preset.ActionScreenshot},
	)

	_, err := run(t, p, device, nil)
	if err == nil {
		t.Fatal("Execute() error = nil, want abort")
	}

	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("error = %T, want *ActionError", err)
	}
	if actionErr.Index != 1 {
		t.Errorf("Index = %d, want 1", actionErr.Index)
	}
	if actionErr.Path != "[1]" {
		t.Errorf("Path = %q, want [1]", actionErr.Path)
	}
	if actionErr.Type != preset.ActionPressHome {
		t.Errorf("Type = %q, want press_home", actionErr.Type)
	}
	if device.countOps("screenshot") != 0 {
		t.Error("action after abort still ran")
	}
}

func TestNestedFailureCarriesFullPath(t *testing.T) {
	device := newFakeDevice()
	device.failOps["back"] = errors.New("input rejected")
	device.nodes[(adb.Selector{Text: "Accept"}).String()] = &adb.UINode{Bounds: "[0,0][10,10]"}

	p := actionsOf(
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{
			Type:   preset.ActionIfElementExists,
			Params: map[string]any{"text": "Accept"},
			Actions: []preset.Action{
				{Type: preset.ActionScreenshot},
				{Type: preset.ActionPressBack, ContinueOnError: boolPtr(false)},
			},
		},
	)

	_, err := run(t, p, device, nil)
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("error = %v, want *ActionError", err)
	}
	if actionErr.Path != "[1][1]" {
		t.Errorf("Path = %q, want [1][1]", actionErr.Path)
	}
	if actionErr.Index != 1 {
		t.Errorf("Index = %d, want 1 (enclosing top-level action)", actionErr.Index)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Branch nodes
// ═══════════════════════════════════════════════════════════════════════════

func TestIfElementExists(t *testing.T) {
	popup := (adb.Selector{Text: "Accept"}).String()

	tests := []struct {
		name     string
		nodeType string
		present  bool
		checkErr error
		wantOp   string
	}{
		{"exists and present runs actions", preset.ActionIfElementExists, true, nil, "home"},
		{"exists and absent runs else", preset.ActionIfElementExists, false, nil, "back"},
		{"not_exists and absent runs actions", preset.ActionIfElementNotExists, false, nil, "home"},
		{"not_exists and present runs else", preset.ActionIfElementNotExists, true, nil, "back"},
		{"check failure collapses to false", preset.ActionIfElementExists, false,
			errors.New("dump failed"), "back"},
		{"check failure on not_exists also false", preset.ActionIfElementNotExists, false,
			errors.New("dump failed"), "back"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice()
			if tt.present {
				device.nodes[popup] = &adb.UINode{Bounds: "[0,0][10,10]"}
			}
			if tt.checkErr != nil {
				device.failOps["find"] = tt.checkErr
			}

			p := actionsOf(preset.Action{
				Type:        tt.nodeType,
				Params:      map[string]any{"text": "Accept"},
				Actions:     []preset.Action{{Type: preset.ActionPressHome}},
				ElseActions: []preset.Action{{Type: preset.ActionPressBack}},
			})

			if _, err := run(t, p, device, nil); err != nil {
				t.Fatalf("Execute() error = %v (presence checks must never abort)", err)
			}
			if device.countOps(tt.wantOp) != 1 {
				t.Errorf("ops = %v, want one %q", device.ops, tt.wantOp)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Repeat
// ═══════════════════════════════════════════════════════════════════════════

func TestRepeat_InvokesChildrenCountTimes(t *testing.T) {
	device := newFakeDevice()
	p := actionsOf(preset.Action{
		Type:   preset.ActionRepeat,
		Params: map[string]any{"count": float64(3)},
		Actions: []preset.Action{
			{Type: preset.ActionPressHome},
			{Type: preset.ActionPressBack},
		},
	})

	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := len(device.ops); got != 6 {
		t.Errorf("child invocations = %d, want 6", got)
	}
}

func TestRepeat_MaxIterationsCap(t *testing.T) {
	device := newFakeDevice()
	p := actionsOf(preset.Action{
		Type:    preset.ActionRepeat,
		Params:  map[string]any{"count": float64(500), "max_iterations": float64(100)},
		Actions: []preset.Action{{Type: preset.ActionPressHome}},
	})

	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := device.countOps("home"); got != 100 {
		t.Errorf("iterations = %d, want 100", got)
	}
}

func TestRepeat_DelayBetweenIterations(t *testing.T) {
	device := newFakeDevice()
	p := actionsOf(preset.Action{
		Type:    preset.ActionRepeat,
		Params:  map[string]any{"count": float64(3), "delay_between": 0.02},
		Actions: []preset.Action{{Type: preset.ActionPressHome}},
	})

	start := time.Now()
	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := device.countOps("home"); got != 3 {
		t.Fatalf("iterations = %d, want 3", got)
	}
	// Two inter-iteration pauses of 20ms each.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 40ms of delay_between pauses", elapsed)
	}
}

func TestRepeat_DefaultCap(t *testing.T) {
	device := newFakeDevice()
	p := actionsOf(preset.Action{
		Type:    preset.ActionRepeat,
		Params:  map[string]any{"count": float64(5000)},
		Actions: []preset.Action{{Type: preset.ActionPressHome}},
	})

	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := device.countOps("home"); got != 100 {
		t.Errorf("iterations = %d, want 100 (default cap)", got)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// call_preset
// ═══════════════════════════════════════════════════════════════════════════

func TestCallPreset(t *testing.T) {
	device := newFakeDevice()
	loader := &fakeLoader{presets: map[string]*preset.Preset{
		"sub": {
			ID: "sub", Name: "sub",
			Actions: []preset.Action{{Type: preset.ActionPressBack}},
		},
	}}

	p := actionsOf(
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{Type: preset.ActionCallPreset, Params: map[string]any{"preset_id": "sub"}},
	)

	if _, err := run(t, p, device, loader); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.countOps("back") != 1 {
		t.Error("callee preset did not run")
	}
}

func TestCallPreset_CircularReferenceIsFatal(t *testing.T) {
	device := newFakeDevice()
	loader := &fakeLoader{presets: map[string]*preset.Preset{}}

	// A calls B, B calls A. continue_on_error default (true) must NOT
	// suppress the cycle error.
	loader.presets["A"] = &preset.Preset{
		ID: "A", Name: "A",
		Actions: []preset.Action{
			{Type: preset.ActionPressHome},
			{Type: preset.ActionCallPreset, Params: map[string]any{"preset_id": "B"}},
		},
	}
	loader.presets["B"] = &preset.Preset{
		ID: "B", Name: "B",
		Actions: []preset.Action{
			{Type: preset.ActionCallPreset, Params: map[string]any{"preset_id": "A"}},
		},
	}

	it := New(loader)
	ectx := NewContext(device)
	rootPreset, _ := loader.GetPreset(context.Background(), "A")

	err := it.Execute(context.Background(), rootPreset, ectx)
	if !errors.Is(err, ErrCircularReference) {
		t.Fatalf("Execute() error = %v, want ErrCircularReference", err)
	}
	// A's first action ran once; the cycle was stopped at re-entry, so
	// no second pass over A's actions.
	if device.countOps("home") != 1 {
		t.Errorf("home runs = %d, want 1 (no recursion past the cycle)", device.countOps("home"))
	}
}

func TestCallPreset_InheritsTextAndNumberVariables(t *testing.T) {
	device := newFakeDevice()
	loader := &fakeLoader{presets: map[string]*preset.Preset{
		"sub": {
			ID: "sub", Name: "sub",
			Variables: []preset.Variable{
				{Name: "greeting", Type: preset.VariableText, Value: "default"},
			},
			Actions: []preset.Action{
				{Type: preset.ActionTypeText, Params: map[string]any{"text": "${greeting}"}},
			},
		},
	}}

	p := &preset.Preset{
		ID: "root", Name: "root",
		Variables: []preset.Variable{
			{Name: "greeting", Type: preset.VariableText, Value: "hello"},
		},
		Actions: []preset.Action{
			{Type: preset.ActionCallPreset, Params: map[string]any{"preset_id": "sub"}},
		},
	}

	if _, err := run(t, p, device, loader); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.ops[0] != "text hello" {
		t.Errorf("ops[0] = %q, want inherited value", device.ops[0])
	}
}

func TestCallPreset_NoInheritanceWhenDisabled(t *testing.T) {
	device := newFakeDevice()
	loader := &fakeLoader{presets: map[string]*preset.Preset{
		"sub": {
			ID: "sub", Name: "sub",
			Variables: []preset.Variable{
				{Name: "greeting", Type: preset.VariableText, Value: "default"},
			},
			Actions: []preset.Action{
				{Type: preset.ActionTypeText, Params: map[string]any{"text": "${greeting}"}},
			},
		},
	}}

	p := &preset.Preset{
		ID: "root", Name: "root",
		Variables: []preset.Variable{
			{Name: "greeting", Type: preset.VariableText, Value: "hello"},
		},
		Actions: []preset.Action{
			{Type: preset.ActionCallPreset,
				Params: map[string]any{"preset_id": "sub", "inherit_variables": false}},
		},
	}

	if _, err := run(t, p, device, loader); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.ops[0] != "text default" {
		t.Errorf("ops[0] = %q, want callee default", device.ops[0])
	}
}

func TestCallPreset_CalleeSeesUndeclaredCallerVariables(t *testing.T) {
	device := newFakeDevice()
	loader := &fakeLoader{presets: map[string]*preset.Preset{
		"sub": {
			ID: "sub", Name: "sub",
			Actions: []preset.Action{
				{Type: preset.ActionTypeText, Params: map[string]any{"text": "${user}"}},
			},
		},
	}}

	// The callee never declares "user"; inlining under the caller's
	// context still resolves it from the caller's map.
	p := &preset.Preset{
		ID: "root", Name: "root",
		Variables: []preset.Variable{
			{Name: "user", Type: preset.VariableText, Value: "alice"},
		},
		Actions: []preset.Action{
			{Type: preset.ActionCallPreset, Params: map[string]any{"preset_id": "sub"}},
		},
	}

	if _, err := run(t, p, device, loader); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.ops[0] != "text alice" {
		t.Errorf("ops[0] = %q, want caller variable resolved in callee", device.ops[0])
	}
}

func TestCallPreset_FailureReportsCallSiteIndexAndPath(t *testing.T) {
	device := newFakeDevice()
	device.failOps["launch com.example"] = errors.New("activity crashed")
	loader := &fakeLoader{presets: map[string]*preset.Preset{
		"sub": {
			ID: "sub", Name: "sub",
			Actions: []preset.Action{
				{Type: preset.ActionPressBack},
				{Type: preset.ActionLaunchApp,
					Params:          map[string]any{"package": "com.example"},
					ContinueOnError: boolPtr(false)},
			},
		},
	}}

	p := actionsOf(
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{Type: preset.ActionCallPreset,
			Params:          map[string]any{"preset_id": "sub"},
			ContinueOnError: boolPtr(false)},
	)

	_, err := run(t, p, device, loader)
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("error = %v, want *ActionError", err)
	}
	// The locus is the call site at top level with the callee's path
	// appended, not the callee's own numbering.
	if actionErr.Index != 2 {
		t.Errorf("Index = %d, want 2 (the call_preset node)", actionErr.Index)
	}
	if actionErr.Path != "[2][1]" {
		t.Errorf("Path = %q, want [2][1]", actionErr.Path)
	}
	if actionErr.Type != preset.ActionLaunchApp {
		t.Errorf("Type = %q, want the failing callee action type", actionErr.Type)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Element actions
// ═══════════════════════════════════════════════════════════════════════════

func TestClickElement_TapsCentre(t *testing.T) {
	device := newFakeDevice()
	device.nodes[(adb.Selector{ResourceID: "btn"}).String()] =
		&adb.UINode{Bounds: "[100,200][300,260]"}

	p := actionsOf(preset.Action{
		Type:   preset.ActionClickElement,
		Params: map[string]any{"resource_id": "btn"},
	})

	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.countOps("tap 200 230") != 1 {
		t.Errorf("ops = %v, want tap at centre", device.ops)
	}
}

func TestWaitForElement_StoresNode(t *testing.T) {
	device := newFakeDevice()
	node := &adb.UINode{Bounds: "[0,0][10,10]", Text: "Done"}
	device.nodes[(adb.Selector{Text: "Done"}).String()] = node

	p := actionsOf(preset.Action{
		Type:   preset.ActionWaitForElement,
		Params: map[string]any{"text": "Done", "store_as": "done_btn"},
	})

	ectx, err := run(t, p, device, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, ok := ectx.Variables["done_btn"]; !ok {
		t.Error("element not stored in variables")
	}
}

func TestWaitForElement_ContinueOnTimeout(t *testing.T) {
	// No node configured, so the wait always times out.
	makePreset := func(params map[string]any) *preset.Preset {
		return actionsOf(
			preset.Action{Type: preset.ActionWaitForElement, Params: params,
				ContinueOnError: boolPtr(false)},
			preset.Action{Type: preset.ActionPressHome},
		)
	}

	t.Run("timeout fails by default", func(t *testing.T) {
		device := newFakeDevice()
		p := makePreset(map[string]any{"text": "Done", "timeout": 0.01, "interval": 0.01})

		_, err := run(t, p, device, nil)
		if !errors.Is(err, adb.ErrWaitTimeout) {
			t.Fatalf("Execute() error = %v, want ErrWaitTimeout", err)
		}
		if device.countOps("home") != 0 {
			t.Error("action after failed wait still ran")
		}
	})

	t.Run("continue_on_timeout proceeds", func(t *testing.T) {
		device := newFakeDevice()
		p := makePreset(map[string]any{"text": "Done", "timeout": 0.01, "interval": 0.01,
			"continue_on_timeout": true})

		if _, err := run(t, p, device, nil); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if device.countOps("home") != 1 {
			t.Error("action after tolerated timeout did not run")
		}
	})
}

func TestSelector_TextMatchMode(t *testing.T) {
	device := newFakeDevice()
	device.nodes[(adb.Selector{Text: "Acc", Mode: adb.MatchContains}).String()] =
		&adb.UINode{Bounds: "[100,200][300,260]"}

	p := actionsOf(preset.Action{
		Type:   preset.ActionClickElement,
		Params: map[string]any{"text": "Acc", "text_match_mode": "contains"},
	})

	if _, err := run(t, p, device, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if device.countOps("tap 200 230") != 1 {
		t.Errorf("ops = %v, want tap at centre of the contains-matched node", device.ops)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Cancellation
// ═══════════════════════════════════════════════════════════════════════════

func TestExecute_CancelledBetweenActions(t *testing.T) {
	device := newFakeDevice()
	ctx, cancel := context.WithCancel(context.Background())

	p := actionsOf(
		preset.Action{Type: preset.ActionPressHome},
		preset.Action{Type: preset.ActionPressBack},
	)

	it := New(&fakeLoader{})
	ectx := NewContext(device)
	ectx.OnProgress = func(int) { cancel() }

	err := it.Execute(ctx, p, ectx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if device.countOps("back") != 0 {
		t.Error("action ran after cancellation")
	}
}

func TestWait_Cancellable(t *testing.T) {
	device := newFakeDevice()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	p := actionsOf(preset.Action{
		Type:   preset.ActionWait,
		Params: map[string]any{"seconds": float64(60)},
	})

	it := New(&fakeLoader{})
	start := time.Now()
	err := it.Execute(ctx, p, NewContext(device))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("wait blocked for %s despite cancellation", elapsed)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}
