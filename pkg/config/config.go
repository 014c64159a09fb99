package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "BReact-SDK/pkg/errors"
)

// Defaults applied when neither explicit values, the environment nor the
// config file provide a setting.
const (
	DefaultBaseURL        = "https://api-os.breact.ai"
	DefaultAPIVersion     = "v1"
	DefaultRequestTimeout = 30 * time.Second
	DefaultPollInterval   = time.Second
	DefaultPollTimeout    = 180 * time.Second
	DefaultMaxPollDelay   = 30 * time.Second
	DefaultMaxConcurrency = 8
	DefaultJournalEntries = 1000
	DefaultJournalTTL     = time.Hour
	DefaultLogLevel       = "warn"
)

// Backoff policies understood by the poller.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config is the resolved client configuration. It is treated as immutable once
// a client has been built from it.
type Config struct {
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	APIVersion     string   `yaml:"api_version"`
	RequestTimeout Duration `yaml:"request_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
	PollTimeout    Duration `yaml:"poll_timeout"`
	PollBackoff    string   `yaml:"poll_backoff"`
	MaxPollDelay   Duration `yaml:"max_poll_delay"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
	UserAgent      string   `yaml:"user_agent"`

	Journal JournalConfig `yaml:"journal"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

// JournalConfig selects where submitted jobs and their terminal reports are
// recorded. Driver is one of "memory", "redis", "mysql", "postgres" or "none".
// MaxEntries and TTL bound the memory driver.
type JournalConfig struct {
	Driver     string      `yaml:"driver"`
	DSN        string      `yaml:"dsn"`
	MaxEntries int         `yaml:"max_entries"`
	TTL        Duration    `yaml:"ttl"`
	Redis      RedisConfig `yaml:"redis"`
}

// EventsConfig selects where job lifecycle events are published. Driver is one
// of "none", "memory", "redis" or "rabbitmq".
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig holds connection settings shared by the Redis journal and the
// Redis event publisher.
type RedisConfig struct {
	Address  string   `yaml:"address"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Key      string   `yaml:"key"`
	TTL      Duration `yaml:"ttl"`
}

// RabbitMQConfig holds the AMQP settings of the RabbitMQ event publisher.
type RabbitMQConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// LogConfig mirrors logger.Config in YAML form.
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
	AuditPath   string   `yaml:"audit_path"`
}

// Load parses a YAML configuration file. Unset fields stay zero so the result
// can be layered with Merge.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, xerrors.New(xerrors.CodeConfiguration, "config path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, xerrors.Wrap(xerrors.CodeConfiguration, err, "read config file")
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, xerrors.Wrap(xerrors.CodeConfiguration, err, "parse config file")
	}
	return cfg, nil
}

// Merge returns base with every non-zero field of override applied on top.
func Merge(base, override Config) Config {
	out := base
	setString(&out.BaseURL, override.BaseURL)
	setString(&out.APIKey, override.APIKey)
	setString(&out.APIVersion, override.APIVersion)
	setDuration(&out.RequestTimeout, override.RequestTimeout)
	setDuration(&out.PollInterval, override.PollInterval)
	setDuration(&out.PollTimeout, override.PollTimeout)
	setString(&out.PollBackoff, override.PollBackoff)
	setDuration(&out.MaxPollDelay, override.MaxPollDelay)
	if override.MaxConcurrency > 0 {
		out.MaxConcurrency = override.MaxConcurrency
	}
	if override.RateLimit > 0 {
		out.RateLimit = override.RateLimit
	}
	if override.RateBurst > 0 {
		out.RateBurst = override.RateBurst
	}
	setString(&out.UserAgent, override.UserAgent)

	setString(&out.Journal.Driver, override.Journal.Driver)
	setString(&out.Journal.DSN, override.Journal.DSN)
	if override.Journal.MaxEntries > 0 {
		out.Journal.MaxEntries = override.Journal.MaxEntries
	}
	setDuration(&out.Journal.TTL, override.Journal.TTL)
	out.Journal.Redis = mergeRedis(out.Journal.Redis, override.Journal.Redis)

	setString(&out.Events.Driver, override.Events.Driver)
	if override.Events.Buffer > 0 {
		out.Events.Buffer = override.Events.Buffer
	}
	out.Events.Redis = mergeRedis(out.Events.Redis, override.Events.Redis)
	setString(&out.Events.RabbitMQ.URL, override.Events.RabbitMQ.URL)
	setString(&out.Events.RabbitMQ.Queue, override.Events.RabbitMQ.Queue)
	out.Events.RabbitMQ.Durable = out.Events.RabbitMQ.Durable || override.Events.RabbitMQ.Durable

	setString(&out.Log.Level, override.Log.Level)
	setString(&out.Log.Format, override.Log.Format)
	if len(override.Log.OutputPaths) > 0 {
		out.Log.OutputPaths = append([]string(nil), override.Log.OutputPaths...)
	}
	setString(&out.Log.AuditPath, override.Log.AuditPath)
	return out
}

func mergeRedis(base, override RedisConfig) RedisConfig {
	setString(&base.Address, override.Address)
	setString(&base.Password, override.Password)
	if override.DB > 0 {
		base.DB = override.DB
	}
	setString(&base.Key, override.Key)
	setDuration(&base.TTL, override.TTL)
	return base
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *Duration, v Duration) {
	if v > 0 {
		*dst = v
	}
}

// ApplyDefaults fills every unset field with its documented default.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = Duration(DefaultPollTimeout)
	}
	if c.PollBackoff == "" {
		c.PollBackoff = BackoffFixed
	}
	if c.MaxPollDelay <= 0 {
		c.MaxPollDelay = Duration(DefaultMaxPollDelay)
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Journal.MaxEntries <= 0 {
		c.Journal.MaxEntries = DefaultJournalEntries
	}
	if c.Journal.TTL <= 0 {
		c.Journal.TTL = Duration(DefaultJournalTTL)
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate reports configuration errors. It must be called after
// ApplyDefaults.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "API key must be provided explicitly or through BREACT_API_KEY")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return xerrors.Newf(xerrors.CodeConfiguration, "base URL %q must use http or https", c.BaseURL)
	}
	if u.Host == "" {
		return xerrors.Newf(xerrors.CodeConfiguration, "base URL %q has no host", c.BaseURL)
	}
	switch c.PollBackoff {
	case BackoffFixed, BackoffExponential:
	default:
		return xerrors.Newf(xerrors.CodeConfiguration, "unknown poll backoff %q", c.PollBackoff)
	}
	switch c.Journal.Driver {
	case "none", "memory", "redis", "mysql", "postgres":
	default:
		return xerrors.Newf(xerrors.CodeConfiguration, "unknown journal driver %q", c.Journal.Driver)
	}
	switch c.Events.Driver {
	case "none", "memory", "redis", "rabbitmq":
	default:
		return xerrors.Newf(xerrors.CodeConfiguration, "unknown events driver %q", c.Events.Driver)
	}
	if c.RateLimit < 0 {
		return xerrors.New(xerrors.CodeConfiguration, "rate limit cannot be negative")
	}
	return nil
}

// APIPath joins the versioned API prefix with the given segments.
func (c Config) APIPath(segments ...string) string {
	escaped := make([]string, 0, len(segments)+2)
	escaped = append(escaped, "api", c.APIVersion)
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return "/" + strings.Join(escaped, "/")
}

// String renders the configuration with the API key redacted.
func (c Config) String() string {
	key := "<unset>"
	if c.APIKey != "" {
		key = "<redacted>"
	}
	return fmt.Sprintf("base_url=%s api_version=%s api_key=%s request_timeout=%s poll_interval=%s poll_timeout=%s backoff=%s",
		c.BaseURL, c.APIVersion, key, c.RequestTimeout, c.PollInterval, c.PollTimeout, c.PollBackoff)
}
