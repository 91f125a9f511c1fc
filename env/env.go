package env

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file and returns a list of EnvLine structs.
// A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading %s", filename)
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits a KEY=value line and dequotes the value.
func ProcessEnvLine(env string) EnvLine {
	key, val, ok := strings.Cut(env, "=")
	if !ok {
		return EnvLine{Key: env}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

// interpolate expands ${NAME} and ${NAME:-default} from earlier lines, then
// from the process environment. Unresolved references are kept as-is.
func interpolate(val string, vars map[string]string) string {
	if !strings.Contains(val, "${") {
		return val
	}
	return os.Expand(val, func(ref string) string {
		name, def, hasDefault := strings.Cut(ref, ":-")
		if v, ok := vars[name]; ok && v != "" {
			return v
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return "${" + ref + "}"
	})
}

// ParseEnvBuffer parses an environment buffer and returns a list of EnvLine structs.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		env := ProcessEnvLine(line)
		if env.Key == "" {
			continue
		}
		env.Val = interpolate(env.Val, vars)
		vars[env.Key] = env.Val
		envs = append(envs, env)
	}
	return envs, nil
}

// LoadEnvFile sets the variables of filename that are not already set in the
// process environment and returns how many were set.
func LoadEnvFile(filename string) (int, error) {
	envs, err := ParseEnvFile(filename)
	if err != nil {
		return 0, err
	}
	var count int
	for _, env := range envs {
		if _, ok := os.LookupEnv(env.Key); ok {
			continue
		}
		if err := os.Setenv(env.Key, env.Val); err != nil {
			return count, errors.Wrapf(err, "error setting %s", env.Key)
		}
		count++
	}
	return count, nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", "GUARD_LOG_LEVEL", "info"), logger.LevelInfo)
}

// NewLogger returns a console logger by first checking the cobra.Command log-level flag, then use the
// GUARD_LOG_LEVEL environment value and falling back to the info logger level
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	return logger.NewConsoleLogger(LogLevel(cmd))
}

// NewTelemetry installs the OTLP trace exporter when --otlp-url (or
// GUARD_OTLP_URL) is set. The optional --otlp-shared-secret signs the bearer
// token. Without a url tracing stays a no-op.
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string) (telemetry.ShutdownFunc, error) {
	otlpURL := FlagOrEnv(cmd, "otlp-url", "GUARD_OTLP_URL", "")
	if otlpURL == "" {
		return func() {}, nil
	}
	var token string
	if secret := FlagOrEnv(cmd, "otlp-shared-secret", "GUARD_OTLP_SHARED_SECRET", ""); secret != "" {
		t, err := telemetry.GenerateOTLPBearerToken(secret, serviceName)
		if err != nil {
			return nil, err
		}
		token = t
	}
	shutdown, err := telemetry.New(ctx, otlpURL, token, serviceName)
	if err != nil {
		return nil, errors.Wrap(err, "error creating telemetry")
	}
	return shutdown, nil
}
