package adb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MatchMode controls how a selector value is compared against a node
// attribute.
type MatchMode string

const (
	MatchExact      MatchMode = "exact"
	MatchContains   MatchMode = "contains"
	MatchStartsWith MatchMode = "starts_with"
	MatchEndsWith   MatchMode = "ends_with"
	MatchRegex      MatchMode = "regex"
)

// Selector locates an element by resource id, text or content
// description. At least one criterion must be set; all set criteria
// must match the same node. An empty MatchMode means exact.
type Selector struct {
	ResourceID  string
	Text        string
	ContentDesc string
	Mode        MatchMode
}

// Empty reports whether the selector has no criteria at all.
func (sel Selector) Empty() bool {
	return sel.ResourceID == "" && sel.Text == "" && sel.ContentDesc == ""
}

// String renders the selector for log and error messages.
func (sel Selector) String() string {
	var parts []string
	if sel.ResourceID != "" {
		parts = append(parts, "resource_id="+sel.ResourceID)
	}
	if sel.Text != "" {
		parts = append(parts, "text="+sel.Text)
	}
	if sel.ContentDesc != "" {
		parts = append(parts, "content_desc="+sel.ContentDesc)
	}
	return strings.Join(parts, " ")
}

// Matches reports whether the node satisfies every set criterion.
func (sel Selector) Matches(n *UINode) bool {
	if sel.Empty() {
		return false
	}
	if sel.ResourceID != "" && !matchValue(n.ResourceID, sel.ResourceID, sel.Mode) {
		return false
	}
	if sel.Text != "" && !matchValue(n.Text, sel.Text, sel.Mode) {
		return false
	}
	if sel.ContentDesc != "" && !matchValue(n.ContentDesc, sel.ContentDesc, sel.Mode) {
		return false
	}
	return true
}

func matchValue(attr, want string, mode MatchMode) bool {
	switch mode {
	case MatchContains:
		return strings.Contains(attr, want)
	case MatchStartsWith:
		return strings.HasPrefix(attr, want)
	case MatchEndsWith:
		return strings.HasSuffix(attr, want)
	case MatchRegex:
		re, err := regexp.Compile(want)
		if err != nil {
			return false
		}
		return re.MatchString(attr)
	default:
		return attr == want
	}
}

// defaultPollInterval paces WaitFor hierarchy dumps.
const defaultPollInterval = time.Second

// Find dumps the hierarchy once and returns the first node matching the
// selector, depth-first. Returns ErrElementNotFound when nothing
// matches.
func (s *Session) Find(ctx context.Context, sel Selector) (*UINode, error) {
	if sel.Empty() {
		return nil, ErrInvalidSelector
	}

	root, err := s.DumpUIHierarchy(ctx)
	if err != nil {
		return nil, err
	}

	var found *UINode
	root.Walk(func(n *UINode) bool {
		if sel.Matches(n) {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, sel)
	}
	return found, nil
}

// WaitFor polls the hierarchy until the selector matches or the timeout
// elapses. The inter-poll sleep is cancellable via the context.
func (s *Session) WaitFor(ctx context.Context, sel Selector, timeout, interval time.Duration) (*UINode, error) {
	if sel.Empty() {
		return nil, ErrInvalidSelector
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	for {
		node, err := s.Find(ctx, sel)
		if err == nil {
			return node, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if time.Now().Add(interval).After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, sel, timeout)
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// TapElement taps the centre of the node's bounds.
func (s *Session) TapElement(ctx context.Context, n *UINode) error {
	rect, err := n.Rect()
	if err != nil {
		return err
	}
	x, y := rect.Center()
	return s.Tap(ctx, x, y)
}

// ClickIfFound taps the first matching element if present. The boolean
// reports whether a tap happened; an absent element is not an error.
func (s *Session) ClickIfFound(ctx context.Context, sel Selector) (bool, error) {
	node, err := s.Find(ctx, sel)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	if err := s.TapElement(ctx, node); err != nil {
		return false, err
	}
	return true, nil
}
