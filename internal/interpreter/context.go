package interpreter

import (
	"context"
	"time"

	"github.com/tapforge/tapforge-core/internal/adb"
)

// Device is the slice of the adb session the interpreter drives.
// *adb.Session satisfies it; tests substitute a fake.
type Device interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	InputText(ctx context.Context, text string) error
	PressBack(ctx context.Context) error
	PressHome(ctx context.Context) error
	LaunchApp(ctx context.Context, pkg string) error
	OpenDeeplink(ctx context.Context, uri string) error
	StartActivity(ctx context.Context, component string) error
	Screenshot(ctx context.Context) ([]byte, error)
	ScreenSize(ctx context.Context) (width, height int, err error)
	Find(ctx context.Context, sel adb.Selector) (*adb.UINode, error)
	WaitFor(ctx context.Context, sel adb.Selector, timeout, interval time.Duration) (*adb.UINode, error)
	TapElement(ctx context.Context, n *adb.UINode) error
}

// Context carries the per-execution state threaded through the
// recursive walk: the device session, the variable map, and the preset
// call stack guarding against circular references.
type Context struct {
	Device    Device
	Variables map[string]any

	// CallStack holds the preset ids currently being executed, outermost
	// first. call_preset refuses to re-enter an id already on it.
	CallStack []string

	// OnProgress, when set, is invoked after every completed top-level
	// action with the number of actions finished so far.
	OnProgress func(completed int)

	// OnAction, when set, is invoked after every executed node with how
	// long it ran and whether it succeeded. Disabled nodes are not
	// reported; container nodes report the duration of their subtree.
	OnAction func(actionType string, duration time.Duration, success bool)

	completed int

	// Screen resolution, fetched lazily on the first fractional
	// coordinate and cached for the rest of the run.
	screenW, screenH int
}

// NewContext creates an execution context for one device session.
func NewContext(device Device) *Context {
	return &Context{
		Device:    device,
		Variables: make(map[string]any),
	}
}

// Completed returns the number of top-level actions finished so far.
func (c *Context) Completed() int {
	return c.completed
}

// screenSize returns the cached device resolution, fetching it once.
func (c *Context) screenSize(ctx context.Context) (int, int, error) {
	if c.screenW > 0 && c.screenH > 0 {
		return c.screenW, c.screenH, nil
	}
	w, h, err := c.Device.ScreenSize(ctx)
	if err != nil {
		return 0, 0, err
	}
	c.screenW, c.screenH = w, h
	return w, h, nil
}
