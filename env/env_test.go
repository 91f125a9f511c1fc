package env

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentuity/go-guard/logger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.env")

	tests := []struct {
		name     string
		content  string
		expected []EnvLine
	}{
		{
			name:     "empty file",
			content:  "",
			expected: []EnvLine{},
		},
		{
			name: "valid env file",
			content: `
KEY1=value1
KEY2="value2"
KEY3='value3'
# This is a comment
KEY4=value with spaces
export KEY5=exported
`,
			expected: []EnvLine{
				{Key: "KEY1", Val: "value1"},
				{Key: "KEY2", Val: "value2"},
				{Key: "KEY3", Val: "value3"},
				{Key: "KEY4", Val: "value with spaces"},
				{Key: "KEY5", Val: "exported"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(tmpFile, []byte(tt.content), 0644))
			got, err := ParseEnvFile(tmpFile)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("non-existent file", func(t *testing.T) {
		got, err := ParseEnvFile(filepath.Join(tmpDir, "nonexistent.env"))
		assert.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestParseEnvBufferInterpolation(t *testing.T) {
	t.Setenv("GUARD_TEST_HOST", "redis.internal")
	got, err := ParseEnvBuffer([]byte(`PORT=6379
GUARD_REDIS_URL=redis://${GUARD_TEST_HOST}:${PORT}/0
PREFIX=${MISSING_PREFIX:-blog}
KEEP=${MISSING}
`))
	require.NoError(t, err)
	assert.Equal(t, []EnvLine{
		{Key: "PORT", Val: "6379"},
		{Key: "GUARD_REDIS_URL", Val: "redis://redis.internal:6379/0"},
		{Key: "PREFIX", Val: "blog"},
		{Key: "KEEP", Val: "${MISSING}"},
	}, got)
}

func TestProcessEnvLine(t *testing.T) {
	tests := []struct {
		env      string
		expected EnvLine
	}{
		{"KEY=value", EnvLine{Key: "KEY", Val: "value"}},
		{"KEY=\"value\"", EnvLine{Key: "KEY", Val: "value"}},
		{"KEY='value'", EnvLine{Key: "KEY", Val: "value"}},
		{"KEY=a=b", EnvLine{Key: "KEY", Val: "a=b"}},
		{"KEY", EnvLine{Key: "KEY"}},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			assert.Equal(t, tt.expected, ProcessEnvLine(tt.env))
		})
	}
}

func TestDequote(t *testing.T) {
	assert.Equal(t, "value", dequote("value"))
	assert.Equal(t, "value", dequote(`"value"`))
	assert.Equal(t, "value", dequote("'value'"))
	assert.Equal(t, `"`, dequote(`"`))
	assert.Equal(t, `"value'`, dequote(`"value'`))
}

func TestLoadEnvFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(tmpFile, []byte("GUARD_TEST_A=file\nGUARD_TEST_B=file\n"), 0644))
	t.Setenv("GUARD_TEST_A", "process")
	os.Unsetenv("GUARD_TEST_B")
	defer os.Unsetenv("GUARD_TEST_B")

	n, err := LoadEnvFile(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "process", os.Getenv("GUARD_TEST_A"))
	assert.Equal(t, "file", os.Getenv("GUARD_TEST_B"))
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("test-flag", "", "Test flag")

	cmd.Flags().Set("test-flag", "flag-value")
	assert.Equal(t, "flag-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	cmd.Flags().Set("test-flag", "")
	t.Setenv("TEST_ENV", "env-value")
	assert.Equal(t, "env-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	os.Unsetenv("TEST_ENV")
	assert.Equal(t, "default", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))
}

func TestLogLevel(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "Log level")

	testCases := []struct {
		name      string
		flagValue string
		envValue  string
		expected  logger.LogLevel
	}{
		{"debug level via flag", "debug", "", logger.LevelDebug},
		{"debug level via env", "", "DEBUG", logger.LevelDebug},
		{"warn level via flag", "warn", "", logger.LevelWarn},
		{"error level via env", "", "ERROR", logger.LevelError},
		{"trace level via flag", "trace", "", logger.LevelTrace},
		{"flag wins over env", "error", "DEBUG", logger.LevelError},
		{"default level", "", "", logger.LevelInfo},
		{"unknown level", "loud", "", logger.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd.Flags().Set("log-level", tc.flagValue)
			t.Setenv("GUARD_LOG_LEVEL", tc.envValue)
			if tc.envValue == "" {
				os.Unsetenv("GUARD_LOG_LEVEL")
			}
			assert.Equal(t, tc.expected, LogLevel(cmd))
		})
	}
}

func TestNewTelemetryWithoutURL(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("otlp-url", "", "")
	os.Unsetenv("GUARD_OTLP_URL")
	shutdown, err := NewTelemetry(context.Background(), cmd, "guardctl")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestNewTelemetryInvalidURL(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("otlp-url", "", "")
	cmd.Flags().Set("otlp-url", "://bad")
	_, err := NewTelemetry(context.Background(), cmd, "guardctl")
	assert.Error(t, err)
}
