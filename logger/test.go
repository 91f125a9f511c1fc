package logger

import (
	"fmt"
	"os"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// String returns the formatted message.
func (e TestLogEntry) String() string {
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testLogs struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records every entry in memory. Loggers derived through With and
// WithPrefix share the same record.
type TestLogger struct {
	metadata map[string]interface{}
	logs     *testLogs
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c.With(map[string]interface{}{"prefix": prefix})
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{metadata: kv, logs: c.logs}
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return level < LevelNone
}

func (c *TestLogger) Log(level string, msg string, args ...interface{}) {
	c.logs.mu.Lock()
	defer c.logs.mu.Unlock()
	c.logs.entries = append(c.logs.entries, TestLogEntry{level, msg, args, c.metadata})
}

// Logs returns a snapshot of the recorded entries.
func (c *TestLogger) Logs() []TestLogEntry {
	c.logs.mu.Lock()
	defer c.logs.mu.Unlock()
	out := make([]TestLogEntry, len(c.logs.entries))
	copy(out, c.logs.entries)
	return out
}

// Count returns how many entries were recorded at severity.
func (c *TestLogger) Count(severity string) int {
	var n int
	for _, e := range c.Logs() {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

func (c *TestLogger) Trace(msg string, args ...interface{}) { c.Log("TRACE", msg, args...) }

func (c *TestLogger) Debug(msg string, args ...interface{}) { c.Log("DEBUG", msg, args...) }

func (c *TestLogger) Info(msg string, args ...interface{}) { c.Log("INFO", msg, args...) }

func (c *TestLogger) Warn(msg string, args ...interface{}) { c.Log("WARNING", msg, args...) }

func (c *TestLogger) Error(msg string, args ...interface{}) { c.Log("ERROR", msg, args...) }

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.Log("FATAL", msg, args...)
	os.Exit(1)
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{logs: &testLogs{}}
}
