package adb

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// UINode is one node of a uiautomator hierarchy dump.
type UINode struct {
	Class       string   `xml:"class,attr"`
	Package     string   `xml:"package,attr"`
	ResourceID  string   `xml:"resource-id,attr"`
	Text        string   `xml:"text,attr"`
	ContentDesc string   `xml:"content-desc,attr"`
	Bounds      string   `xml:"bounds,attr"`
	Clickable   bool     `xml:"clickable,attr"`
	Enabled     bool     `xml:"enabled,attr"`
	Nodes       []UINode `xml:"node"`
}

// hierarchy is the root element of a dump document.
type hierarchy struct {
	XMLName xml.Name `xml:"hierarchy"`
	Nodes   []UINode `xml:"node"`
}

// ParseHierarchy parses raw uiautomator dump output into a node tree.
// The output is trimmed to the XML document and common broken entity
// escapes are repaired before parsing.
func ParseHierarchy(raw string) (*UINode, error) {
	start := strings.Index(raw, "<?xml")
	if start == -1 {
		return nil, fmt.Errorf("%w: no xml document in dump output", ErrDumpFailed)
	}
	raw = raw[start:]
	if end := strings.LastIndex(raw, ">"); end != -1 && end < len(raw)-1 {
		raw = raw[:end+1]
	}

	raw = sanitiseEntities(raw)

	var root hierarchy
	if err := xml.Unmarshal([]byte(raw), &root); err != nil {
		return nil, fmt.Errorf("parsing ui hierarchy: %w", err)
	}

	if len(root.Nodes) == 1 {
		return &root.Nodes[0], nil
	}
	// Multiple top-level windows: wrap them in a synthetic root.
	return &UINode{
		Class:  "android.view.View",
		Bounds: "[0,0][0,0]",
		Nodes:  root.Nodes,
	}, nil
}

// sanitiseEntities repairs bare ampersands that uiautomator emits in
// text attributes without double-escaping entities that are already
// well formed.
func sanitiseEntities(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "&amp;amp;", "&amp;")
	s = strings.ReplaceAll(s, "&amp;lt;", "&lt;")
	s = strings.ReplaceAll(s, "&amp;gt;", "&gt;")
	s = strings.ReplaceAll(s, "&amp;quot;", "&quot;")
	s = strings.ReplaceAll(s, "&amp;apos;", "&apos;")
	s = strings.ReplaceAll(s, "&amp;#", "&#")
	return s
}

// Walk visits every node in the tree depth-first until fn returns false.
func (n *UINode) Walk(fn func(*UINode) bool) {
	if !fn(n) {
		return
	}
	for i := range n.Nodes {
		n.Nodes[i].Walk(fn)
	}
}

// Bounds geometry.

// Rect is a node's on-screen rectangle in pixels.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Center returns the rectangle's centre point, the natural tap target.
func (r Rect) Center() (x, y int) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

var boundsRe = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// ParseBounds parses a uiautomator bounds attribute "[x1,y1][x2,y2]".
func ParseBounds(s string) (Rect, error) {
	m := boundsRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Rect{}, fmt.Errorf("%w: %q", ErrInvalidBounds, s)
	}

	x1, _ := strconv.Atoi(m[1])
	y1, _ := strconv.Atoi(m[2])
	x2, _ := strconv.Atoi(m[3])
	y2, _ := strconv.Atoi(m[4])
	return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}, nil
}

// Rect parses the node's own bounds attribute.
func (n *UINode) Rect() (Rect, error) {
	return ParseBounds(n.Bounds)
}
