package adb

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Logger defines the logging interface used by the driver.
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

// Android keyevent codes used by the driver.
const (
	keyHome = 3
	keyBack = 4
)

// dumpFile is where uiautomator writes the hierarchy on the device.
const dumpFile = "/data/local/tmp/tapforge_view.xml"

// Session is a command channel to one device for the duration of one
// execution. All methods address the device by serial via `adb -s`.
type Session struct {
	serial string
	runner Runner
	logger Logger

	// dumpRetries bounds uiautomator dump attempts; the service often
	// needs a second try after being killed.
	dumpRetries int
}

// NewSession creates a session for the device with the given serial.
func NewSession(serial string, runner Runner) *Session {
	return &Session{
		serial:      serial,
		runner:      runner,
		logger:      noopLogger{},
		dumpRetries: 3,
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// SetDumpRetries overrides how many times a failed UI hierarchy dump is
// retried. Values below 1 are ignored.
func (s *Session) SetDumpRetries(n int) {
	if n >= 1 {
		s.dumpRetries = n
	}
}

// Serial returns the device serial this session is bound to.
func (s *Session) Serial() string {
	return s.serial
}

// Shell runs a shell command on the device.
func (s *Session) Shell(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-s", s.serial, "shell"}, args...)
	return s.runner.Run(ctx, full...)
}

// Tap sends a tap at absolute pixel coordinates.
func (s *Session) Tap(ctx context.Context, x, y int) error {
	_, err := s.Shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

// Swipe drags from (x1,y1) to (x2,y2) over the given duration.
func (s *Session) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	if duration <= 0 {
		duration = 300 * time.Millisecond
	}
	_, err := s.Shell(ctx, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1),
		strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(int(duration.Milliseconds())))
	return err
}

// KeyEvent sends a raw Android keyevent code.
func (s *Session) KeyEvent(ctx context.Context, code int) error {
	_, err := s.Shell(ctx, "input", "keyevent", strconv.Itoa(code))
	return err
}

// PressBack sends the back key.
func (s *Session) PressBack(ctx context.Context) error {
	return s.KeyEvent(ctx, keyBack)
}

// PressHome sends the home key.
func (s *Session) PressHome(ctx context.Context) error {
	return s.KeyEvent(ctx, keyHome)
}

// InputText types text into the focused field. The text is escaped for
// the device shell; spaces become %s per `input text` conventions.
func (s *Session) InputText(ctx context.Context, text string) error {
	_, err := s.Shell(ctx, "input", "text", escapeInputText(text))
	return err
}

// LaunchApp starts an application via the monkey launcher, which needs
// only the package name.
func (s *Session) LaunchApp(ctx context.Context, pkg string) error {
	_, err := s.Shell(ctx, "monkey", "-p", pkg,
		"-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// OpenDeeplink fires a VIEW intent for the given URI.
func (s *Session) OpenDeeplink(ctx context.Context, uri string) error {
	_, err := s.Shell(ctx, "am", "start",
		"-a", "android.intent.action.VIEW", "-d", uri)
	return err
}

// StartActivity starts an explicit component ("pkg/.Activity").
func (s *Session) StartActivity(ctx context.Context, component string) error {
	_, err := s.Shell(ctx, "am", "start", "-n", component)
	return err
}

// Screenshot captures the screen as PNG bytes via exec-out.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	output, err := s.runner.Run(ctx, "-s", s.serial, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	return []byte(output), nil
}

// screenSizeRe matches "Physical size: 1080x2400" or the override line.
var screenSizeRe = regexp.MustCompile(`size:\s*(\d+)x(\d+)`)

// ScreenSize returns the device resolution in pixels.
func (s *Session) ScreenSize(ctx context.Context) (width, height int, err error) {
	output, err := s.Shell(ctx, "wm", "size")
	if err != nil {
		return 0, 0, err
	}

	// Prefer the override size when present; it reflects the effective
	// resolution.
	var match []string
	for _, line := range strings.Split(output, "\n") {
		if m := screenSizeRe.FindStringSubmatch(line); m != nil {
			match = m
			if strings.Contains(line, "Override") {
				break
			}
		}
	}
	if match == nil {
		return 0, 0, fmt.Errorf("parsing wm size output %q", strings.TrimSpace(output))
	}

	width, _ = strconv.Atoi(match[1])
	height, _ = strconv.Atoi(match[2])
	return width, height, nil
}

// DumpUIHierarchy dumps and parses the current UI tree. The dump and
// read happen in one shell invocation; on failure the uiautomator
// process is killed and the dump retried.
func (s *Session) DumpUIHierarchy(ctx context.Context) (*UINode, error) {
	var xmlContent string
	var err error

	for attempt := 0; attempt < s.dumpRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			s.Shell(ctx, "pkill", "uiautomator")
			if sleepErr := sleepCtx(ctx, 500*time.Millisecond); sleepErr != nil {
				return nil, sleepErr
			}
		}

		xmlContent, err = s.Shell(ctx,
			"uiautomator", "dump", dumpFile, "&&", "cat", dumpFile)
		if err == nil && strings.Contains(xmlContent, "<?xml") {
			return ParseHierarchy(xmlContent)
		}

		s.logger.Debug("ui dump retry",
			"serial", s.serial, "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrDumpFailed, s.dumpRetries, err)
}

// escapeInputText prepares a string for `input text`: spaces become %s
// and shell metacharacters are backslash-escaped.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\'', '"', '`', '\\', '&', '|', ';', '$', '(', ')', '<', '>', '*', '~':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
