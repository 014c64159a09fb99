package breact

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"BReact-SDK/pkg/config"
	"BReact-SDK/pkg/events"
	"BReact-SDK/pkg/journal"
)

// Option configures New.
type Option func(*options)

type options struct {
	explicit   config.Config
	configFile string
	lookup     config.LookupFunc

	httpClient *http.Client
	logger     *slog.Logger
	journal    journal.Store
	publisher  events.Publisher
	registerer prometheus.Registerer
	factories  map[string]ServiceFactory
	lazy       bool
}

func defaultOptions() *options {
	return &options{
		lookup:    os.LookupEnv,
		factories: builtinFactories(),
	}
}

// WithConfig layers cfg over the environment. Zero fields are ignored.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.explicit = config.Merge(o.explicit, cfg) }
}

// WithConfigFile reads a YAML file beneath the environment layer, in place
// of BREACT_CONFIG.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configFile = path }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.explicit.APIKey = key }
}

// WithBaseURL sets the platform base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.explicit.BaseURL = url }
}

// WithPolling sets the poll interval and the completion timeout.
func WithPolling(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.explicit.PollInterval = config.Duration(interval)
		o.explicit.PollTimeout = config.Duration(timeout)
	}
}

// WithEnvLookup replaces os.LookupEnv as the environment source.
func WithEnvLookup(lookup config.LookupFunc) Option {
	return func(o *options) {
		if lookup != nil {
			o.lookup = lookup
		}
	}
}

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger routes SDK logs to l instead of the configured outputs.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithJournal supplies a job journal. The caller keeps ownership.
func WithJournal(s journal.Store) Option {
	return func(o *options) { o.journal = s }
}

// WithPublisher supplies an event publisher. The caller keeps ownership.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithMetrics registers the SDK collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithService binds a custom façade factory to a service id, replacing a
// pre-built one.
func WithService(id string, factory ServiceFactory) Option {
	return func(o *options) {
		if factory == nil {
			delete(o.factories, id)
			return
		}
		o.factories[id] = factory
	}
}

// WithLazyDiscovery skips discovery in New; the catalog is fetched on first
// use.
func WithLazyDiscovery() Option {
	return func(o *options) { o.lazy = true }
}
