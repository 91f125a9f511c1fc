package main

import (
	"os"

	"github.com/agentuity/go-guard/config"
	"github.com/agentuity/go-guard/env"
	"github.com/agentuity/go-guard/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "guardctl",
		Short:         "Inspect and exercise the cache, rate limiter and abuse tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML config file (GUARD_CONFIG)")
	flags.String("env-file", "", "environment file loaded before the config (GUARD_ENV_FILE, default .env)")
	flags.String("redis-url", "", "redis url or memory:// for a process-local store, overrides the config (GUARD_REDIS_URL)")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (GUARD_LOG_LEVEL)")
	root.AddCommand(newServeCmd(), newBumpCmd(), newSuspiciousCmd(), newLimitCmd())
	return root
}

// setup loads the env file and the configuration and returns the logger of
// the command.
func setup(cmd *cobra.Command) (config.Config, logger.Logger, error) {
	if _, err := env.LoadEnvFile(env.FlagOrEnv(cmd, "env-file", "GUARD_ENV_FILE", ".env")); err != nil {
		return config.Config{}, nil, err
	}
	log := env.NewLogger(cmd)
	cfg, err := config.Load(env.FlagOrEnv(cmd, "config", "GUARD_CONFIG", ""))
	if err != nil {
		return cfg, log, errors.Wrap(err, "error loading config")
	}
	if url, _ := cmd.Flags().GetString("redis-url"); url != "" {
		cfg.RedisURL = url
	}
	return cfg, log, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.NewConsoleLogger(logger.LevelError).Error("%s", err)
		os.Exit(1)
	}
}
