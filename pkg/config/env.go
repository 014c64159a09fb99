package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "BReact-SDK/pkg/errors"
)

// Environment variables consulted by FromEnv.
const (
	EnvAPIKey         = "BREACT_API_KEY"
	EnvBaseURL        = "BREACT_BASE_URL"
	EnvAPIVersion     = "BREACT_API_VERSION"
	EnvTimeout        = "BREACT_TIMEOUT"
	EnvPollInterval   = "BREACT_POLL_INTERVAL"
	EnvPollTimeout    = "BREACT_POLL_TIMEOUT"
	EnvPollBackoff    = "BREACT_POLL_BACKOFF"
	EnvMaxConcurrency = "BREACT_MAX_CONCURRENCY"
	EnvRateLimit      = "BREACT_RATE_LIMIT"
	EnvLogLevel       = "BREACT_LOG_LEVEL"
	EnvConfigFile     = "BREACT_CONFIG"
)

// Duration is a time.Duration that decodes from Go duration syntax ("1500ms")
// or from a plain number of seconds ("1.5").
type Duration time.Duration

// ParseDuration parses either form accepted by Duration.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return Duration(d), nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return Duration(secs * float64(time.Second)), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv builds a partial Config from environment variables.
func FromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		APIKey:      get(EnvAPIKey),
		BaseURL:     get(EnvBaseURL),
		APIVersion:  get(EnvAPIVersion),
		PollBackoff: strings.ToLower(get(EnvPollBackoff)),
	}
	cfg.Log.Level = get(EnvLogLevel)

	durations := []struct {
		key string
		dst *Duration
	}{
		{EnvTimeout, &cfg.RequestTimeout},
		{EnvPollInterval, &cfg.PollInterval},
		{EnvPollTimeout, &cfg.PollTimeout},
	}
	for _, d := range durations {
		parsed, err := ParseDuration(get(d.key))
		if err != nil {
			return Config{}, xerrors.Wrap(xerrors.CodeConfiguration, err, d.key)
		}
		*d.dst = parsed
	}

	if raw := get(EnvMaxConcurrency); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, xerrors.Wrap(xerrors.CodeConfiguration, err, EnvMaxConcurrency)
		}
		cfg.MaxConcurrency = n
	}
	if raw := get(EnvRateLimit); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, xerrors.Wrap(xerrors.CodeConfiguration, err, EnvRateLimit)
		}
		cfg.RateLimit = rps
	}
	return cfg, nil
}

// ResolveOption customises Resolve.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	lookup LookupFunc
	file   string
}

// WithLookup replaces os.LookupEnv, mainly for tests.
func WithLookup(lookup LookupFunc) ResolveOption {
	return func(o *resolveOptions) { o.lookup = lookup }
}

// WithFile layers the given YAML file under the environment. Without it the
// file named by BREACT_CONFIG is used when set.
func WithFile(path string) ResolveOption {
	return func(o *resolveOptions) { o.file = path }
}

// Resolve layers defaults < YAML file < environment < explicit, then
// validates the result.
func Resolve(explicit Config, opts ...ResolveOption) (Config, error) {
	options := resolveOptions{lookup: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	var cfg Config
	file := options.file
	if file == "" {
		if v, ok := options.lookup(EnvConfigFile); ok {
			file = strings.TrimSpace(v)
		}
	}
	if file != "" {
		fromFile, err := Load(file)
		if err != nil {
			return Config{}, err
		}
		cfg = fromFile
	}

	fromEnv, err := FromEnv(options.lookup)
	if err != nil {
		return Config{}, err
	}
	cfg = Merge(cfg, fromEnv)
	cfg = Merge(cfg, explicit)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
