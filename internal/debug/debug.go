package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (boundaries, bookmarks, warnings)
	LevelLive    = 2 // Live info (moves started/finished, frames shot)
	LevelVerbose = 3 // Verbose (targets, clamping, ramp parameters)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *zap.SugaredLogger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (boundaries, bookmarks, precondition warnings)
// 2 = live info (moves, stops, frames)
// 3 = verbose (targets, clamping, configuration)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logger = nil
	if level > LevelOff {
		logger = newLogger(out)
	}
}

// SetOutput redirects all debug output to w (e.g. stdout tee'd to web clients).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if level > LevelOff {
		logger = newLogger(out)
	}
}

// newLogger builds a console logger in the same readable layout at every level;
// filtering is done by the debug level, not by zap.
func newLogger(w io.Writer) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.CallerKey = ""
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	encCfg.EncodeName = func(s string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%-16s", s))
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core).Named("SlideGo").Sugar()
}

// current returns the active logger if the requested level is enabled.
func current(minLevel int) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel || logger == nil {
		return nil
	}
	return logger
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Named returns a structured logger for a component. It is a no-op logger
// while debug output is off.
func Named(name string) *zap.SugaredLogger {
	if l := current(LevelInfo); l != nil {
		return l.Named(name)
	}
	return zap.NewNop().Sugar()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l := current(LevelInfo); l != nil {
		l.Infof(format, args...)
	}
}

// Warn reports a non-fatal condition such as a missing boundary (level 1).
func Warn(format string, args ...interface{}) {
	if l := current(LevelInfo); l != nil {
		l.Warnf(format, args...)
	}
}

// Summary prints an important summary banner (level 1).
func Summary(title string) {
	if l := current(LevelInfo); l != nil {
		l.Info("═══════════════════════════════════════")
		l.Infof("  %s", title)
		l.Info("═══════════════════════════════════════")
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if l := current(LevelInfo); l != nil {
		l.Infof("  %s = %v", name, value)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l := current(LevelLive); l != nil {
		l.Named("live").Infof(format, args...)
	}
}

// Move prints a carriage movement (level 2).
func Move(from, to int64) {
	if l := current(LevelLive); l != nil {
		l.Named("live").Infof("Carriage: %d -> %d (%+d steps)", from, to, to-from)
	}
}

// Frame prints an interval frame capture (level 2).
func Frame(frame, total int, position int64) {
	if l := current(LevelLive); l != nil {
		l.Named("live").Infof("Frame %d/%d shot at position %d", frame, total, position)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if l := current(LevelVerbose); l != nil {
		l.Debugf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l := current(LevelVerbose); l != nil {
		l.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l := current(LevelVerbose); l != nil {
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		l.Debugf("  %s", name)
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if l := current(LevelVerbose); l != nil {
		l.Debugf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if l := current(LevelTrace); l != nil {
		l.Named("trace").Debugf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if l := current(LevelTrace); l != nil {
		l.Named("gpio").Debugw(operation, "pin", pin, "value", value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if l := current(LevelInfo); l != nil {
		l.Errorf("%v", err)
	}
}
