package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	c.ObserveRequest("services.submit", "POST", 200, 20*time.Millisecond)
	c.ObserveRequest("services.submit", "POST", 200, 30*time.Millisecond)
	c.ObserveRequest("services.result", "GET", 0, time.Second)
	c.ObservePoll("pending")
	c.ObserveJob("summarizer", "summarize", "ok", 2*time.Second)
	c.ObserveCatalog(3)

	if got := testutil.ToFloat64(c.requests.WithLabelValues("services.submit", "POST", "200")); got != 2 {
		t.Fatalf("expected 2 submit requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.requests.WithLabelValues("services.result", "GET", "none")); got != 1 {
		t.Fatalf("expected 1 failed request, got %v", got)
	}
	if got := testutil.ToFloat64(c.jobs.WithLabelValues("summarizer", "summarize", "ok")); got != 1 {
		t.Fatalf("expected 1 finished job, got %v", got)
	}
	if got := testutil.ToFloat64(c.catalogSize); got != 3 {
		t.Fatalf("expected catalog size 3, got %v", got)
	}
}

func TestCollectorReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first collector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second collector: %v", err)
	}
	second.ObservePoll("completed")
	if got := testutil.ToFloat64(first.polls.WithLabelValues("completed")); got != 1 {
		t.Fatalf("collectors should share series, got %v", got)
	}
}

func TestNilCollector(t *testing.T) {
	c, err := NewCollector(nil)
	if err != nil || c != nil {
		t.Fatalf("expected nil collector, got %v %v", c, err)
	}
	c.ObserveRequest("x", "GET", 200, 0)
	c.ObservePoll("miss")
	c.ObserveJob("s", "e", "ok", 0)
	c.ObserveCatalog(1)
}
