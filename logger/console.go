package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	Reset       = "\033[0m"
	Green       = "\033[32m"
	Magenta     = "\033[35m"
	Red         = "\033[31m"
	BlueBold    = "\033[34;1m"
	MagentaBold = "\033[35;1m"
	RedBold     = "\033[31;1m"
	YellowBold  = "\033[33;1m"
	WhiteBold   = "\033[37;1m"
	CyanBold    = "\033[36;1m"
	Gray        = "\033[1;90m"
	Purple      = "\u001b[38;5;200m"
)

type levelStyle struct {
	label   string
	level   string
	message string
}

var styles = map[LogLevel]levelStyle{
	LevelTrace: {"TRACE", CyanBold, Gray},
	LevelDebug: {"DEBUG", BlueBold, Green},
	LevelInfo:  {"INFO", YellowBold, WhiteBold},
	LevelWarn:  {"WARN", MagentaBold, Magenta},
	LevelError: {"ERROR", RedBold, Red},
}

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
	out      io.Writer
	mu       *sync.Mutex
}

var _ Logger = (*consoleLogger)(nil)

func (c *consoleLogger) clone() *consoleLogger {
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &consoleLogger{
		prefixes: slices.Clone(c.prefixes),
		metadata: metadata,
		logLevel: c.logLevel,
		out:      c.out,
		mu:       c.mu,
	}
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *consoleLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	if !slices.Contains(clone.prefixes, prefix) {
		clone.prefixes = append(clone.prefixes, prefix)
	}
	return clone
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	return clone
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel && level < LevelNone
}

func (c *consoleLogger) log(level LogLevel, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	style := styles[level]
	var prefix, suffix string
	if len(c.prefixes) > 0 {
		prefix = color(Purple) + strings.Join(c.prefixes, " ") + color(Reset) + " "
	}
	if len(c.metadata) > 0 {
		if buf, err := json.Marshal(c.metadata); err == nil {
			suffix = " " + color(Gray) + string(buf) + color(Reset)
		}
	}
	label := fmt.Sprintf("[%s]%s", style.label, strings.Repeat(" ", 5-len(style.label)))
	line := fmt.Sprintf("%s %s %s%s%s%s\n",
		time.Now().Format(time.RFC3339),
		color(style.level)+label+color(Reset),
		prefix,
		color(style.message), fmt.Sprintf(msg, args...)+color(Reset),
		suffix,
	)
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, line)
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) { c.log(LevelTrace, msg, args...) }

func (c *consoleLogger) Debug(msg string, args ...interface{}) { c.log(LevelDebug, msg, args...) }

func (c *consoleLogger) Info(msg string, args ...interface{}) { c.log(LevelInfo, msg, args...) }

func (c *consoleLogger) Warn(msg string, args ...interface{}) { c.log(LevelWarn, msg, args...) }

func (c *consoleLogger) Error(msg string, args ...interface{}) { c.log(LevelError, msg, args...) }

func (c *consoleLogger) Fatal(msg string, args ...interface{}) {
	c.log(LevelError, msg, args...)
	os.Exit(1)
}

// NewConsoleLogger returns a new Logger instance which will log to stderr.
// With no level the level is read from the environment; LevelNone discards everything.
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return NewConsoleLoggerWithWriter(os.Stderr, level)
}

// NewConsoleLoggerWithWriter returns a console Logger writing to w.
func NewConsoleLoggerWithWriter(w io.Writer, level LogLevel) Logger {
	return &consoleLogger{
		metadata: make(map[string]interface{}),
		logLevel: level,
		out:      w,
		mu:       &sync.Mutex{},
	}
}
