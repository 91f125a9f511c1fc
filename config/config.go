// Package config loads the guard configuration from an optional YAML file and
// GUARD_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "30d", "1h30m" or a number of seconds.
type Duration time.Duration

// ParseDuration parses s as a Duration.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(n) * time.Second), nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return Duration(d), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return str2duration.String(time.Duration(d))
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// RateRule is a named pair of per-client and global limits sharing a window.
// Fields left at zero take their value from DefaultRule.
type RateRule struct {
	PerClient int64    `yaml:"per_client"`
	Global    int64    `yaml:"global"`
	Window    Duration `yaml:"window"`
}

// BreakerConfig tunes the circuit breaker in front of Redis.
type BreakerConfig struct {
	MaxFailures int      `yaml:"max_failures"`
	Cooldown    Duration `yaml:"cooldown"`
}

// AbuseConfig bounds the suspicious-client leaderboard.
type AbuseConfig struct {
	Cap       int64    `yaml:"cap"`
	DetailTTL Duration `yaml:"detail_ttl"`
	ListMax   int      `yaml:"list_max"`
}

// Config is the full configuration of a guard, loaded from YAML and GUARD_*
// environment variables.
type Config struct {
	RedisURL     string              `yaml:"redis_url"`
	KeyPrefix    string              `yaml:"key_prefix"`
	QueryTimeout Duration            `yaml:"query_timeout"`
	DialTimeout  Duration            `yaml:"dial_timeout"`
	Codec        string              `yaml:"codec"`
	Breaker      BreakerConfig       `yaml:"breaker"`
	Abuse        AbuseConfig         `yaml:"abuse"`
	RateLimits   map[string]RateRule `yaml:"rate_limits"`
	CacheTTLs    map[string]Duration `yaml:"cache_ttls"`
}

// DefaultRule applies to rate limit buckets without a configured rule.
var DefaultRule = RateRule{PerClient: 60, Global: 1200, Window: Duration(time.Minute)}

// Default returns the configuration used when nothing is configured.
func Default() Config {
	return Config{
		QueryTimeout: Duration(500 * time.Millisecond),
		DialTimeout:  Duration(2 * time.Second),
		Codec:        "json",
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Cooldown:    Duration(5 * time.Second),
		},
		Abuse: AbuseConfig{
			Cap:       5000,
			DetailTTL: Duration(30 * 24 * time.Hour),
			ListMax:   1000,
		},
		RateLimits: map[string]RateRule{
			"articles": {PerClient: 30, Global: 600, Window: Duration(time.Minute)},
			"admin":    {PerClient: 10, Global: 100, Window: Duration(time.Minute)},
		},
		CacheTTLs: map[string]Duration{
			"articles": Duration(5 * time.Minute),
		},
	}
}

// Load reads path (skipped when empty) over the defaults and then applies
// GUARD_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "error reading config %s", path)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "error parsing config %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides cfg with the GUARD_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GUARD_REDIS_URL"); ok {
		c.RedisURL = v
	}
	if v, ok := lookup("GUARD_KEY_PREFIX"); ok {
		c.KeyPrefix = v
	}
	if v, ok := lookup("GUARD_CODEC"); ok {
		c.Codec = v
	}
	durations := map[string]*Duration{
		"GUARD_QUERY_TIMEOUT":    &c.QueryTimeout,
		"GUARD_DIAL_TIMEOUT":     &c.DialTimeout,
		"GUARD_BREAKER_COOLDOWN": &c.Breaker.Cooldown,
		"GUARD_ABUSE_DETAIL_TTL": &c.Abuse.DetailTTL,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%s", name)
		}
		*dst = d
	}
	if v, ok := lookup("GUARD_ABUSE_CAP"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "GUARD_ABUSE_CAP")
		}
		c.Abuse.Cap = n
	}
	if v, ok := lookup("GUARD_BREAKER_MAX_FAILURES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "GUARD_BREAKER_MAX_FAILURES")
		}
		c.Breaker.MaxFailures = n
	}
	return nil
}

// Validate rejects negative limits and durations and unknown codecs.
func (c Config) Validate() error {
	if c.QueryTimeout < 0 || c.DialTimeout < 0 || c.Breaker.Cooldown < 0 || c.Abuse.DetailTTL < 0 {
		return errors.New("durations must not be negative")
	}
	if c.Breaker.MaxFailures < 0 || c.Abuse.Cap < 0 || c.Abuse.ListMax < 0 {
		return errors.New("breaker and abuse limits must not be negative")
	}
	switch c.Codec {
	case "", "json", "msgpack":
	default:
		return errors.Newf("unknown codec %q", c.Codec)
	}
	for name, rule := range c.RateLimits {
		if rule.PerClient < 0 || rule.Global < 0 || rule.Window < 0 {
			return errors.Newf("rate limit %q must not be negative", name)
		}
	}
	for name, ttl := range c.CacheTTLs {
		if ttl < 0 {
			return errors.Newf("cache ttl %q must not be negative", name)
		}
	}
	return nil
}

// Rule returns the rate limit rule for name with unset fields taken from
// DefaultRule.
func (c Config) Rule(name string) RateRule {
	rule, ok := c.RateLimits[name]
	if !ok {
		return DefaultRule
	}
	if rule.PerClient <= 0 {
		rule.PerClient = DefaultRule.PerClient
	}
	if rule.Global <= 0 {
		rule.Global = DefaultRule.Global
	}
	if rule.Window <= 0 {
		rule.Window = DefaultRule.Window
	}
	return rule
}

// CacheTTL returns the configured ttl for namespace, or 0 for the cache default.
func (c Config) CacheTTL(namespace string) time.Duration {
	return c.CacheTTLs[namespace].Std()
}
