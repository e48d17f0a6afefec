package adb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Fake runner
// ═══════════════════════════════════════════════════════════════════════════

// fakeRunner answers adb invocations from a script and records every
// call for assertions.
type fakeRunner struct {
	calls   [][]string
	respond func(args []string) (string, error)
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if f.respond == nil {
		return "", nil
	}
	return f.respond(args)
}

func (f *fakeRunner) lastCall() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func argsContain(args []string, want ...string) bool {
	joined := strings.Join(args, " ")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			return false
		}
	}
	return true
}

// ═══════════════════════════════════════════════════════════════════════════
// Input command tests
// ═══════════════════════════════════════════════════════════════════════════

func TestTap(t *testing.T) {
	runner := &fakeRunner{}
	session := NewSession("emulator-5554", runner)

	if err := session.Tap(context.Background(), 540, 1200); err != nil {
		t.Fatalf("Tap() error = %v", err)
	}

	got := runner.lastCall()
	want := []string{"-s", "emulator-5554", "shell", "input", "tap", "540", "1200"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("adb args = %v, want %v", got, want)
	}
}

func TestSwipe_DefaultDuration(t *testing.T) {
	runner := &fakeRunner{}
	session := NewSession("s1", runner)

	if err := session.Swipe(context.Background(), 100, 200, 300, 400, 0); err != nil {
		t.Fatalf("Swipe() error = %v", err)
	}
	if !argsContain(runner.lastCall(), "input swipe 100 200 300 400 300") {
		t.Errorf("adb args = %v", runner.lastCall())
	}
}

func TestKeyNavigation(t *testing.T) {
	runner := &fakeRunner{}
	session := NewSession("s1", runner)
	ctx := context.Background()

	if err := session.PressBack(ctx); err != nil {
		t.Fatalf("PressBack() error = %v", err)
	}
	if !argsContain(runner.lastCall(), "input keyevent 4") {
		t.Errorf("back args = %v", runner.lastCall())
	}

	if err := session.PressHome(ctx); err != nil {
		t.Fatalf("PressHome() error = %v", err)
	}
	if !argsContain(runner.lastCall(), "input keyevent 3") {
		t.Errorf("home args = %v", runner.lastCall())
	}
}

func TestLaunchApp(t *testing.T) {
	runner := &fakeRunner{}
	session := NewSession("s1", runner)

	if err := session.LaunchApp(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("LaunchApp() error = %v", err)
	}
	if !argsContain(runner.lastCall(), "monkey", "com.example.app", "android.intent.category.LAUNCHER") {
		t.Errorf("launch args = %v", runner.lastCall())
	}
}

func TestOpenDeeplink(t *testing.T) {
	runner := &fakeRunner{}
	session := NewSession("s1", runner)

	if err := session.OpenDeeplink(context.Background(), "app://profile/42"); err != nil {
		t.Fatalf("OpenDeeplink() error = %v", err)
	}
	if !argsContain(runner.lastCall(), "am start", "android.intent.action.VIEW", "app://profile/42") {
		t.Errorf("deeplink args = %v", runner.lastCall())
	}
}

func TestEscapeInputText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"hello world", "hello%sworld"},
		{"a&b", `a\&b`},
		{`say "hi"`, `say%s\"hi\"`},
		{"price$5", `price\$5`},
		{"semi;colon", `semi\;colon`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := escapeInputText(tt.in); got != tt.want {
				t.Errorf("escapeInputText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Screen size tests
// ═══════════════════════════════════════════════════════════════════════════

func TestScreenSize(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantWidth  int
		wantHeight int
		wantErr    bool
	}{
		{
			name:       "physical size",
			output:     "Physical size: 1080x2400\n",
			wantWidth:  1080,
			wantHeight: 2400,
		},
		{
			name:       "override wins over physical",
			output:     "Physical size: 1080x2400\nOverride size: 720x1600\n",
			wantWidth:  720,
			wantHeight: 1600,
		},
		{
			name:    "garbage output",
			output:  "error: device offline\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{respond: func([]string) (string, error) {
				return tt.output, nil
			}}
			session := NewSession("s1", runner)

			w, h, err := session.ScreenSize(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ScreenSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (w != tt.wantWidth || h != tt.wantHeight) {
				t.Errorf("ScreenSize() = %dx%d, want %dx%d", w, h, tt.wantWidth, tt.wantHeight)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Hierarchy dump tests
// ═══════════════════════════════════════════════════════════════════════════

const sampleDump = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" package="com.example.app" bounds="[0,0][1080,2400]">
    <node class="android.widget.Button" resource-id="com.example.app:id/btn_start" text="Start &amp; Go" content-desc="" bounds="[100,200][300,260]" clickable="true" enabled="true"/>
    <node class="android.widget.TextView" resource-id="" text="Tom & Jerry" content-desc="title" bounds="[0,300][1080,360]" clickable="false" enabled="true"/>
  </node>
</hierarchy>`

func TestDumpUIHierarchy_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	runner := &fakeRunner{respond: func(args []string) (string, error) {
		if argsContain(args, "uiautomator dump") {
			attempts++
			if attempts == 1 {
				return "", errors.New("ERROR: could not get idle state")
			}
			return "junk header\n" + sampleDump, nil
		}
		return "", nil
	}}
	session := NewSession("s1", runner)

	root, err := session.DumpUIHierarchy(context.Background())
	if err != nil {
		t.Fatalf("DumpUIHierarchy() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("dump attempts = %d, want 2", attempts)
	}
	if root.Class != "android.widget.FrameLayout" {
		t.Errorf("root class = %q", root.Class)
	}

	// The retry path kills the stuck uiautomator process first.
	killed := false
	for _, call := range runner.calls {
		if argsContain(call, "pkill uiautomator") {
			killed = true
		}
	}
	if !killed {
		t.Error("retry did not pkill uiautomator")
	}
}

func TestDumpUIHierarchy_AllAttemptsFail(t *testing.T) {
	runner := &fakeRunner{respond: func(args []string) (string, error) {
		if argsContain(args, "uiautomator dump") {
			return "", errors.New("device offline")
		}
		return "", nil
	}}
	session := NewSession("s1", runner)

	_, err := session.DumpUIHierarchy(context.Background())
	if !errors.Is(err, ErrDumpFailed) {
		t.Errorf("DumpUIHierarchy() error = %v, want ErrDumpFailed", err)
	}
}

func TestParseHierarchy_RepairsBareAmpersands(t *testing.T) {
	root, err := ParseHierarchy(sampleDump)
	if err != nil {
		t.Fatalf("ParseHierarchy() error = %v", err)
	}

	var texts []string
	root.Walk(func(n *UINode) bool {
		if n.Text != "" {
			texts = append(texts, n.Text)
		}
		return true
	})

	want := map[string]bool{"Start & Go": false, "Tom & Jerry": false}
	for _, text := range texts {
		if _, ok := want[text]; ok {
			want[text] = true
		}
	}
	for text, seen := range want {
		if !seen {
			t.Errorf("text %q not parsed (got %v)", text, texts)
		}
	}
}

func TestParseBounds(t *testing.T) {
	tests := []struct {
		in      string
		want    Rect
		wantErr bool
	}{
		{"[0,0][1080,2400]", Rect{0, 0, 1080, 2400}, false},
		{"[100,200][300,260]", Rect{100, 200, 300, 260}, false},
		{"[-10,-5][10,5]", Rect{-10, -5, 10, 5}, false},
		{"1080x2400", Rect{}, true},
		{"", Rect{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBounds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBounds(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseBounds(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidBounds) {
				t.Errorf("error = %v, want ErrInvalidBounds", err)
			}
		})
	}
}

func TestRectCenter(t *testing.T) {
	rect := Rect{X1: 100, Y1: 200, X2: 300, Y2: 260}
	x, y := rect.Center()
	if x != 200 || y != 230 {
		t.Errorf("Center() = (%d,%d), want (200,230)", x, y)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Element layer tests
// ═══════════════════════════════════════════════════════════════════════════

func dumpRunner(dump string) *fakeRunner {
	return &fakeRunner{respond: func(args []string) (string, error) {
		if argsContain(args, "uiautomator dump") {
			return dump, nil
		}
		return "", nil
	}}
}

func TestSelectorMatches(t *testing.T) {
	node := &UINode{
		ResourceID:  "com.example.app:id/btn_start",
		Text:        "Start & Go",
		ContentDesc: "primary action",
	}

	tests := []struct {
		name string
		sel  Selector
		want bool
	}{
		{"exact resource id", Selector{ResourceID: "com.example.app:id/btn_start"}, true},
		{"exact text mismatch", Selector{Text: "Start"}, false},
		{"contains text", Selector{Text: "Start", Mode: MatchContains}, true},
		{"starts_with", Selector{ResourceID: "com.example.app:id/", Mode: MatchStartsWith}, true},
		{"ends_with", Selector{ResourceID: "btn_start", Mode: MatchEndsWith}, true},
		{"regex", Selector{Text: `^Start.*Go$`, Mode: MatchRegex}, true},
		{"bad regex never matches", Selector{Text: `[`, Mode: MatchRegex}, false},
		{"two criteria both match", Selector{Text: "Start & Go", ContentDesc: "primary action"}, true},
		{"two criteria one fails", Selector{Text: "Start & Go", ContentDesc: "other"}, false},
		{"empty selector", Selector{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.Matches(node); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFind(t *testing.T) {
	session := NewSession("s1", dumpRunner(sampleDump))

	node, err := session.Find(context.Background(),
		Selector{ResourceID: "com.example.app:id/btn_start"})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if node.Bounds != "[100,200][300,260]" {
		t.Errorf("Bounds = %q", node.Bounds)
	}

	_, err = session.Find(context.Background(), Selector{Text: "No Such Element"})
	if !errors.Is(err, ErrElementNotFound) {
		t.Errorf("Find() miss error = %v, want ErrElementNotFound", err)
	}

	_, err = session.Find(context.Background(), Selector{})
	if !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("Find() empty selector error = %v, want ErrInvalidSelector", err)
	}
}

func TestWaitFor_Timeout(t *testing.T) {
	session := NewSession("s1", dumpRunner(sampleDump))

	start := time.Now()
	_, err := session.WaitFor(context.Background(),
		Selector{Text: "Never Appears"}, 50*time.Millisecond, 10*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("WaitFor() error = %v, want ErrWaitTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("WaitFor() blocked for %s", elapsed)
	}
}

func TestWaitFor_Cancelled(t *testing.T) {
	session := NewSession("s1", dumpRunner(sampleDump))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.WaitFor(ctx, Selector{Text: "Never Appears"},
		time.Minute, 10*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitFor() error = %v, want context.Canceled", err)
	}
}

func TestClickIfFound(t *testing.T) {
	runner := dumpRunner(sampleDump)
	session := NewSession("s1", runner)

	// Present: taps the element centre.
	clicked, err := session.ClickIfFound(context.Background(),
		Selector{ResourceID: "com.example.app:id/btn_start"})
	if err != nil {
		t.Fatalf("ClickIfFound() error = %v", err)
	}
	if !clicked {
		t.Fatal("ClickIfFound() = false, want true")
	}
	if !argsContain(runner.lastCall(), "input tap 200 230") {
		t.Errorf("tap args = %v", runner.lastCall())
	}

	// Absent: not an error, no tap.
	before := len(runner.calls)
	clicked, err = session.ClickIfFound(context.Background(),
		Selector{Text: "No Such Element"})
	if err != nil {
		t.Fatalf("ClickIfFound() miss error = %v", err)
	}
	if clicked {
		t.Error("ClickIfFound() = true for absent element")
	}
	for _, call := range runner.calls[before:] {
		if argsContain(call, "input tap") {
			t.Error("absent element was tapped")
		}
	}
}
