// Package metrics exposes Prometheus collectors for transport requests, status
// polls and job outcomes. A nil *Collector is valid and records nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "breact_sdk"

// Collector groups every metric the SDK records.
type Collector struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	polls        *prometheus.CounterVec
	jobs         *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	catalogSize  prometheus.Gauge
	catalogFetch prometheus.Counter
}

// NewCollector creates the collectors and registers them on reg. Collectors
// that are already registered (e.g. by a second client) are reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		return nil, nil
	}
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "HTTP requests sent to the platform, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests sent to the platform.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route", "method"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "status_queries_total",
			Help:      "Status queries issued by the poller, by observed status or miss.",
		}, []string{"status"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that finished locally, by service, endpoint and outcome code.",
		}, []string{"service", "endpoint", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall-clock time from submission to local completion.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"service", "endpoint"}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "services",
			Help:      "Number of services in the most recently fetched catalog.",
		}),
		catalogFetch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "fetches_total",
			Help:      "Successful catalog discoveries.",
		}),
	}

	var err error
	c.requests, err = register(reg, c.requests)
	if err != nil {
		return nil, err
	}
	if c.latency, err = register(reg, c.latency); err != nil {
		return nil, err
	}
	if c.polls, err = register(reg, c.polls); err != nil {
		return nil, err
	}
	if c.jobs, err = register(reg, c.jobs); err != nil {
		return nil, err
	}
	if c.jobDuration, err = register(reg, c.jobDuration); err != nil {
		return nil, err
	}
	if c.catalogSize, err = register(reg, c.catalogSize); err != nil {
		return nil, err
	}
	if c.catalogFetch, err = register(reg, c.catalogFetch); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// ObserveRequest records one transport round trip. status is 0 when no
// response was received.
func (c *Collector) ObserveRequest(route, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.requests.WithLabelValues(route, method, code).Inc()
	c.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObservePoll records one status query outcome ("pending", "completed",
// "miss", ...).
func (c *Collector) ObservePoll(status string) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues(status).Inc()
}

// ObserveJob records a finished job. outcome is "ok" or an error code.
func (c *Collector) ObserveJob(service, endpoint, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues(service, endpoint, outcome).Inc()
	c.jobDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
}

// ObserveCatalog records a successful discovery of n services.
func (c *Collector) ObserveCatalog(n int) {
	if c == nil {
		return
	}
	c.catalogFetch.Inc()
	c.catalogSize.Set(float64(n))
}
