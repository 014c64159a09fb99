package breact

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"BReact-SDK/pkg/config"
	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/events"
	"BReact-SDK/pkg/job"
	"BReact-SDK/pkg/journal"
	"BReact-SDK/pkg/logger"
	"BReact-SDK/pkg/metrics"
	"BReact-SDK/pkg/transport"
)

// sideEffectTimeout bounds journal writes and event publication, which run
// detached from the caller's context.
const sideEffectTimeout = 5 * time.Second

// Client is the entry point of the SDK. It owns the transport, the service
// catalog and the façade registry for its lifetime. A Client is safe for
// concurrent use.
type Client struct {
	cfg       config.Config
	transport *transport.Transport
	poller    *job.Poller
	journal   journal.Store
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *logger.Logger
	log       *slog.Logger

	catalog atomic.Pointer[catalog]

	mu        sync.Mutex
	factories map[string]ServiceFactory
	services  map[string]Service

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	closers   []func() error
}

// New resolves the configuration, builds the transport and backends,
// registers the pre-built façades and, unless WithLazyDiscovery is given,
// fetches the service catalog. Everything built is released on failure.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	cfg, err := config.Resolve(o.explicit, config.WithLookup(o.lookup), config.WithFile(o.configFile))
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		factories: o.factories,
		services:  make(map[string]Service),
	}
	if err := c.init(ctx, o); err != nil {
		_ = c.Close()
		return nil, err
	}
	if !o.lazy {
		if _, err := c.FetchServices(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	c.log.Debug("client ready", slog.String("config", cfg.String()))
	return c, nil
}

func (c *Client) init(ctx context.Context, o *options) error {
	if o.logger != nil {
		c.logger = logger.Wrap(o.logger)
	} else {
		lg, err := logger.New(logger.Config{
			Level:       c.cfg.Log.Level,
			Format:      c.cfg.Log.Format,
			OutputPaths: c.cfg.Log.OutputPaths,
			Audit: logger.AuditConfig{
				Enabled: c.cfg.Log.AuditPath != "",
				Path:    c.cfg.Log.AuditPath,
			},
		})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeConfiguration, err, "build logger")
		}
		c.logger = lg
	}
	c.log = c.logger.Named("client")

	collector, err := metrics.NewCollector(o.registerer)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "register metrics")
	}
	c.metrics = collector

	tr, err := transport.New(transport.Config{
		BaseURL:    c.cfg.BaseURL,
		APIKey:     c.cfg.APIKey,
		Timeout:    c.cfg.RequestTimeout.Std(),
		UserAgent:  c.cfg.UserAgent,
		RateLimit:  c.cfg.RateLimit,
		RateBurst:  c.cfg.RateBurst,
		HTTPClient: o.httpClient,
		Logger:     c.logger.Named("transport"),
		Metrics:    c.metrics,
	})
	if err != nil {
		return err
	}
	c.transport = tr
	c.closers = append(c.closers, tr.Close)

	if o.journal != nil {
		c.journal = o.journal
	} else {
		store, err := openJournal(ctx, c.cfg.Journal)
		if err != nil {
			return err
		}
		c.journal = store
		if store != nil {
			c.closers = append(c.closers, store.Close)
		}
	}

	if o.publisher != nil {
		c.publisher = o.publisher
	} else {
		pub, err := openPublisher(ctx, c.cfg.Events)
		if err != nil {
			return err
		}
		c.publisher = pub
		c.closers = append(c.closers, pub.Close)
	}

	c.poller = job.NewPoller(c.queryStatus,
		job.WithInterval(c.cfg.PollInterval.Std()),
		job.WithTimeout(c.cfg.PollTimeout.Std()),
		job.WithBackoff(backoffFor(c.cfg)),
		job.WithLogger(c.logger.Named("poller")),
		job.WithShutdown(tr.Done()),
		job.WithMetrics(c.metrics),
	)
	return nil
}

func backoffFor(cfg config.Config) job.Backoff {
	if cfg.PollBackoff == config.BackoffExponential {
		return job.ExponentialBackoff{Factor: 2, Max: cfg.MaxPollDelay.Std()}
	}
	return job.FixedBackoff{}
}

// Config returns the resolved configuration.
func (c *Client) Config() config.Config { return c.cfg }

// Journal returns the job journal, or nil when journaling is disabled.
func (c *Client) Journal() journal.Store { return c.journal }

// Publisher returns the event publisher.
func (c *Client) Publisher() events.Publisher { return c.publisher }

func (c *Client) ensureOpen() error {
	if c.closed.Load() {
		return xerrors.New(xerrors.CodeClientClosed, "client is closed")
	}
	return nil
}

// FetchServices discovers the service catalog and swaps it in atomically.
// Concurrent readers see either the previous or the new catalog.
func (c *Client) FetchServices(ctx context.Context) (map[string]ServiceDescriptor, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	resp, err := c.transport.Send(ctx, transport.Request{
		Method: http.MethodGet,
		Route:  "services.list",
		Path:   c.cfg.APIPath("services"),
	})
	if err != nil {
		return nil, err
	}
	services, err := decodeCatalog(resp.Body)
	if err != nil {
		return nil, err
	}
	next := &catalog{services: services, fetchedAt: time.Now()}
	c.catalog.Store(next)
	c.metrics.ObserveCatalog(len(services))
	c.log.Info("service catalog refreshed", slog.Int("services", len(services)))
	return next.snapshot(), nil
}

// Services returns the cached catalog without a network call.
func (c *Client) Services() map[string]ServiceDescriptor {
	return c.catalog.Load().snapshot()
}

// GetService returns the façade for id, building it on first use. The
// catalog is fetched when it is empty; an id absent from it fails with
// SERVICE_NOT_FOUND.
func (c *Client) GetService(ctx context.Context, id string) (Service, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	svc, ok := c.services[id]
	c.mu.Unlock()
	if ok {
		return svc, nil
	}

	cat := c.catalog.Load()
	if cat.empty() {
		if _, err := c.FetchServices(ctx); err != nil {
			return nil, err
		}
		cat = c.catalog.Load()
	}
	desc, ok := cat.lookup(id)
	if !ok {
		return nil, xerrors.New(xerrors.CodeServiceNotFound, "service "+id+" is not in the catalog",
			xerrors.WithMetadata("service_id", id))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.services[id]; ok {
		return svc, nil
	}
	base := &BaseService{id: id, bound: desc, client: c}
	svc = base
	if factory := c.factories[id]; factory != nil {
		svc = factory(base)
	}
	c.services[id] = svc
	return svc, nil
}

// RegisterService binds factory to id, replacing any earlier binding. A
// façade already built for id is dropped and rebuilt on next use.
func (c *Client) RegisterService(id string, factory ServiceFactory) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if id == "" || factory == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "service id and factory are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[id] = factory
	delete(c.services, id)
	return nil
}

// ExecuteService runs endpoint of service id to completion.
func (c *Client) ExecuteService(ctx context.Context, id, endpoint string, params map[string]any) (job.Result, error) {
	svc, err := c.GetService(ctx, id)
	if err != nil {
		return job.Result{}, err
	}
	return svc.Execute(ctx, endpoint, params)
}

// Status performs one status query. Once a job has been seen in a terminal
// state the journaled report is returned and the platform is not asked
// again.
func (c *Client) Status(ctx context.Context, h job.Handle) (job.Report, error) {
	if err := c.ensureOpen(); err != nil {
		return job.Report{}, err
	}
	if err := h.Validate(); err != nil {
		return job.Report{}, err
	}
	if entry, ok := c.journaled(ctx, h); ok && entry.Terminal() {
		return entry.Report(), nil
	}
	report, err := c.queryStatus(ctx, h)
	if err != nil {
		return job.Report{}, err
	}
	if report.Status.Terminal() && c.journal != nil {
		entry := journal.Entry{
			Handle:    h,
			ServiceID: report.Service,
			Endpoint:  report.Endpoint,
			Status:    report.Status,
			Result:    report.Result,
		}
		if report.Status == job.StatusFailed {
			entry.Error = report.FailureMessage()
		}
		stored, err := c.journal.Finish(ctx, entry)
		if err != nil {
			c.log.Warn("journal finish failed", slog.String("process_id", h.ProcessID), slog.Any("error", err))
			return report, nil
		}
		return stored.Report(), nil
	}
	return report, nil
}

// Resume continues polling a job submitted earlier, possibly by another
// process. Jobs already journaled as terminal return without polling.
func (c *Client) Resume(ctx context.Context, h job.Handle) (job.Result, error) {
	if err := c.ensureOpen(); err != nil {
		return job.Result{}, err
	}
	if err := h.Validate(); err != nil {
		return job.Result{}, err
	}
	var serviceID, endpoint string
	if entry, ok := c.journaled(ctx, h); ok {
		serviceID, endpoint = entry.ServiceID, entry.Endpoint
		switch entry.Status {
		case job.StatusCompleted:
			return job.Result{Handle: h, Data: entry.Result}, nil
		case job.StatusFailed:
			return job.Result{Handle: h}, entry.Report().Err(h)
		}
	}
	return c.observed(ctx, serviceID, endpoint).Resume(ctx, h)
}

// journaled returns the journal entry for h when its access token matches.
// Callers holding another token get nothing and fall back to the platform,
// which checks the token itself.
func (c *Client) journaled(ctx context.Context, h job.Handle) (journal.Entry, bool) {
	if c.journal == nil {
		return journal.Entry{}, false
	}
	entry, err := c.journal.Get(ctx, h.ProcessID)
	if err != nil || subtle.ConstantTimeCompare([]byte(entry.Handle.AccessToken), []byte(h.AccessToken)) != 1 {
		return journal.Entry{}, false
	}
	return entry, true
}

// Close releases the transport, backends built from configuration and log
// outputs. Pending polls return CLIENT_CLOSED. Close is idempotent; later
// calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		var err error
		for _, closeFn := range c.closers {
			err = errors.Join(err, closeFn())
		}
		if c.logger != nil {
			err = errors.Join(err, c.logger.Close())
		}
		c.closeErr = err
	})
	return c.closeErr
}

func (c *Client) execute(ctx context.Context, serviceID, endpoint string, params map[string]any) (job.Result, error) {
	if err := c.ensureOpen(); err != nil {
		return job.Result{}, err
	}
	if params == nil {
		params = map[string]any{}
	}
	return c.observed(ctx, serviceID, endpoint).RunToCompletion(ctx, func(ctx context.Context) (job.Handle, error) {
		return c.submit(ctx, serviceID, endpoint, params)
	})
}

func (c *Client) submit(ctx context.Context, serviceID, endpoint string, params map[string]any) (job.Handle, error) {
	resp, err := c.transport.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Route:  "services.submit",
		Path:   c.cfg.APIPath("services", serviceID, endpoint),
		Body:   params,
	})
	if err != nil {
		return job.Handle{}, err
	}
	var h job.Handle
	if err := resp.Decode(&h); err != nil {
		return job.Handle{}, err
	}
	return h, nil
}

func (c *Client) queryStatus(ctx context.Context, h job.Handle) (job.Report, error) {
	resp, err := c.transport.Send(ctx, transport.Request{
		Method: http.MethodGet,
		Route:  "services.result",
		Path:   c.cfg.APIPath("services", "result", h.ProcessID),
		Query:  url.Values{"access_token": {h.AccessToken}},
	})
	if err != nil {
		return job.Report{}, err
	}
	var report job.Report
	if err := resp.Decode(&report); err != nil {
		return job.Report{}, err
	}
	return report, nil
}

// observed returns a poller whose hooks feed the journal, events, metrics
// and audit log for one job.
func (c *Client) observed(ctx context.Context, serviceID, endpoint string) *job.Poller {
	start := time.Now()
	return c.poller.Observe(job.Hooks{
		OnSubmitted: func(h job.Handle) {
			c.onSubmitted(ctx, h, serviceID, endpoint)
		},
		OnStatus: func(h job.Handle, r job.Report) {
			c.log.Debug("job status",
				slog.String("process_id", h.ProcessID),
				slog.String("status", string(r.Status)))
		},
		OnFinished: func(h job.Handle, res job.Result, err error) {
			c.onFinished(ctx, h, serviceID, endpoint, res, err, time.Since(start))
		},
	})
}

func (c *Client) onSubmitted(ctx context.Context, h job.Handle, serviceID, endpoint string) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	c.logger.Audit().Info("job submitted",
		slog.String("process_id", h.ProcessID),
		slog.String("service_id", serviceID),
		slog.String("endpoint", endpoint))
	if c.journal != nil {
		err := c.journal.Record(sctx, journal.Entry{Handle: h, ServiceID: serviceID, Endpoint: endpoint})
		if err != nil {
			c.log.Warn("journal record failed", slog.String("process_id", h.ProcessID), slog.Any("error", err))
		}
	}
	c.publish(sctx, events.New(events.TypeSubmitted, h.ProcessID, serviceID, endpoint))
}

func (c *Client) onFinished(ctx context.Context, h job.Handle, serviceID, endpoint string, res job.Result, err error, elapsed time.Duration) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	outcome := "ok"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
	}
	c.metrics.ObserveJob(serviceID, endpoint, outcome, elapsed)
	c.logger.Audit().Info("job finished",
		slog.String("process_id", h.ProcessID),
		slog.String("service_id", serviceID),
		slog.String("endpoint", endpoint),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed))

	var (
		entry journal.Entry
		typ   events.Type
	)
	switch {
	case err == nil:
		entry = journal.Entry{Handle: h, ServiceID: serviceID, Endpoint: endpoint, Status: job.StatusCompleted, Result: res.Data}
		typ = events.TypeCompleted
	case xerrors.IsCode(err, xerrors.CodeServiceExecution):
		msg := err.Error()
		if e, ok := xerrors.From(err); ok {
			msg = e.Message()
		}
		entry = journal.Entry{Handle: h, ServiceID: serviceID, Endpoint: endpoint, Status: job.StatusFailed, Error: msg}
		typ = events.TypeFailed
	case xerrors.IsCode(err, xerrors.CodePollTimeout):
		c.publish(sctx, events.New(events.TypePollTimeout, h.ProcessID, serviceID, endpoint).WithError(err))
		return
	default:
		return
	}

	if c.journal != nil {
		if _, jerr := c.journal.Finish(sctx, entry); jerr != nil {
			c.log.Warn("journal finish failed", slog.String("process_id", h.ProcessID), slog.Any("error", jerr))
		}
	}
	c.publish(sctx, events.New(typ, h.ProcessID, serviceID, endpoint).WithError(err))
}

func (c *Client) publish(ctx context.Context, ev events.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.log.Warn("publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("process_id", ev.ProcessID),
			slog.Any("error", err))
	}
}
