package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/metrics"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 180 * time.Second
)

// SubmitFunc starts a remote job and returns its handle.
type SubmitFunc func(ctx context.Context) (Handle, error)

// StatusFunc performs a single status query.
type StatusFunc func(ctx context.Context, h Handle) (Report, error)

// Hooks observe a job's progress. Any field may be nil.
type Hooks struct {
	OnSubmitted func(h Handle)
	OnStatus    func(h Handle, r Report)
	OnFinished  func(h Handle, res Result, err error)
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the base wait between status queries.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout bounds the time from submission to a terminal status.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithBackoff replaces the fixed interval policy.
func WithBackoff(b Backoff) Option {
	return func(p *Poller) {
		if b != nil {
			p.backoff = b
		}
	}
}

// WithLogger sets the logger used for transient misses and unknown statuses.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHooks registers lifecycle observers.
func WithHooks(h Hooks) Option {
	return func(p *Poller) { p.hooks = h }
}

// WithShutdown makes pending waits return CLIENT_CLOSED once done is closed.
func WithShutdown(done <-chan struct{}) Option {
	return func(p *Poller) { p.shutdown = done }
}

// WithMetrics records every status query outcome.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Poller) { p.metrics = c }
}

// Poller drives submitted jobs to a terminal status. A Poller holds no
// per-job state and may be shared.
type Poller struct {
	status   StatusFunc
	interval time.Duration
	timeout  time.Duration
	backoff  Backoff
	logger   *slog.Logger
	hooks    Hooks
	shutdown <-chan struct{}
	metrics  *metrics.Collector
}

// NewPoller builds a poller around a status query function.
func NewPoller(status StatusFunc, opts ...Option) *Poller {
	p := &Poller{
		status:   status,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		backoff:  FixedBackoff{},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe returns a copy of p that reports to h instead of p's hooks.
func (p *Poller) Observe(h Hooks) *Poller {
	cp := *p
	cp.hooks = h
	return &cp
}

// Interval returns the base wait between queries.
func (p *Poller) Interval() time.Duration { return p.interval }

// Timeout returns the completion bound.
func (p *Poller) Timeout() time.Duration { return p.timeout }

// RunToCompletion submits a job and polls it until it completes, fails, or
// the timeout elapses. Submission failures are returned unchanged.
func (p *Poller) RunToCompletion(ctx context.Context, submit SubmitFunc) (Result, error) {
	if err := p.closed(); err != nil {
		return Result{}, err
	}
	h, err := submit(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := h.Validate(); err != nil {
		return Result{}, err
	}
	if p.hooks.OnSubmitted != nil {
		p.hooks.OnSubmitted(h)
	}
	res, err := p.poll(ctx, h)
	return p.finish(h, res, err)
}

// Resume polls an already submitted job. The timeout counts from the call.
func (p *Poller) Resume(ctx context.Context, h Handle) (Result, error) {
	if err := h.Validate(); err != nil {
		return Result{}, err
	}
	if err := p.closed(); err != nil {
		return Result{}, err
	}
	res, err := p.poll(ctx, h)
	return p.finish(h, res, err)
}

func (p *Poller) finish(h Handle, res Result, err error) (Result, error) {
	if p.hooks.OnFinished != nil {
		p.hooks.OnFinished(h, res, err)
	}
	return res, err
}

func (p *Poller) poll(ctx context.Context, h Handle) (Result, error) {
	deadline, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	log := p.logger.With(slog.String("process_id", h.ProcessID))
	for attempt := 1; ; attempt++ {
		report, err := p.status(deadline, h)
		switch {
		case err == nil:
			p.metrics.ObservePoll(string(report.Status))
			if p.hooks.OnStatus != nil {
				p.hooks.OnStatus(h, report)
			}
			switch report.Status {
			case StatusCompleted:
				return Result{Handle: h, Data: report.Result}, nil
			case StatusFailed:
				return Result{Handle: h}, report.Err(h)
			case StatusPending, StatusRunning:
			default:
				log.Warn("unrecognised job status", slog.String("status", string(report.Status)))
			}
		case p.expired(ctx, deadline):
			return Result{Handle: h}, p.timeoutError(h)
		case ctx.Err() != nil:
			return Result{Handle: h}, ctx.Err()
		case xerrors.IsCode(err, xerrors.CodeClientClosed):
			return Result{Handle: h}, err
		case xerrors.RetryableError(err):
			p.metrics.ObservePoll("miss")
			log.Warn("status query failed, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
		default:
			return Result{Handle: h}, err
		}

		if err := p.wait(ctx, deadline, p.backoff.Next(p.interval, attempt)); err != nil {
			if p.expired(ctx, deadline) {
				return Result{Handle: h}, p.timeoutError(h)
			}
			return Result{Handle: h}, err
		}
	}
}

func (p *Poller) wait(ctx, deadline context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline.Done():
		return deadline.Err()
	case <-p.shutdown:
		return xerrors.New(xerrors.CodeClientClosed, "client closed while waiting for job")
	}
}

// expired reports whether the poll deadline, and not the caller, ended the
// wait.
func (p *Poller) expired(ctx, deadline context.Context) bool {
	return ctx.Err() == nil && errors.Is(deadline.Err(), context.DeadlineExceeded)
}

func (p *Poller) timeoutError(h Handle) error {
	p.metrics.ObservePoll("timeout")
	return xerrors.New(xerrors.CodePollTimeout,
		fmt.Sprintf("job %s did not finish within %s", h.ProcessID, p.timeout),
		xerrors.WithMetadata("process_id", h.ProcessID))
}

func (p *Poller) closed() error {
	if p.shutdown == nil {
		return nil
	}
	select {
	case <-p.shutdown:
		return xerrors.New(xerrors.CodeClientClosed, "client is closed")
	default:
		return nil
	}
}
