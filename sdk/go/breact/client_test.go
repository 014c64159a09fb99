package breact

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"BReact-SDK/pkg/config"
	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/events"
	"BReact-SDK/pkg/job"
	"BReact-SDK/pkg/journal"
)

func TestExecuteServiceEndToEnd(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(func(string, string, map[string]any) []string {
		return []string{
			`{"status":"pending"}`,
			`{"status":"completed","result":{"word_count":5}}`,
		}
	})
	pub := events.NewMemoryPublisher(16)
	c := newTestClient(t, f, WithPublisher(pub))

	res, err := c.ExecuteService(context.Background(), "echo", "run", map[string]any{"text": "one two three four five"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Handle.ProcessID != "p1" || res.Handle.AccessToken != "t1" {
		t.Fatalf("unexpected handle %+v", res.Handle)
	}
	m, err := res.Map()
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if m["word_count"] != float64(5) {
		t.Fatalf("unexpected result %v", m)
	}
	if got := f.statusHits.Load(); got != 2 {
		t.Fatalf("expected 2 status queries, got %d", got)
	}

	entry, err := c.Journal().Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if entry.Status != job.StatusCompleted || entry.ServiceID != "echo" || entry.Endpoint != "run" {
		t.Fatalf("unexpected journal entry %+v", entry)
	}

	var types []events.Type
	for len(types) < 2 {
		select {
		case ev := <-pub.Events():
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	if types[0] != events.TypeSubmitted || types[1] != events.TypeCompleted {
		t.Fatalf("unexpected event order %v", types)
	}
}

func TestExecuteServiceFailedJob(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(func(string, string, map[string]any) []string {
		return []string{`{"status":"failed","error":"quota exceeded"}`}
	})
	c := newTestClient(t, f)

	_, err := c.ExecuteService(context.Background(), "echo", "run", nil)
	if !xerrors.IsCode(err, xerrors.CodeServiceExecution) {
		t.Fatalf("expected service execution error, got %v", err)
	}
	e, _ := xerrors.From(err)
	if e.Message() != "quota exceeded" {
		t.Fatalf("message not preserved: %q", e.Message())
	}
	entry, err := c.Journal().Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if entry.Status != job.StatusFailed || entry.Error != "quota exceeded" {
		t.Fatalf("unexpected journal entry %+v", entry)
	}
}

func TestUnknownEndpointFailsFast(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	svc, err := c.GetService(context.Background(), "echo")
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	before := f.hits.Load()
	_, err = svc.Execute(context.Background(), "nonexistent", map[string]any{})
	if !xerrors.IsCode(err, xerrors.CodeEndpointNotFound) {
		t.Fatalf("expected endpoint not found, got %v", err)
	}
	if f.hits.Load() != before {
		t.Fatalf("unknown endpoint reached the network")
	}
}

func TestMissingRequiredParameter(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	_, err := c.ExecuteService(context.Background(), SummarizerID, EndpointSummarize, map[string]any{"max_length": 10})
	if !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if !strings.Contains(err.Error(), "text") {
		t.Fatalf("error should name the missing parameter: %v", err)
	}
	if len(f.submitted()) != 0 {
		t.Fatalf("invalid call was submitted")
	}
}

func TestGetServiceNotInCatalog(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	_, err := c.GetService(context.Background(), "translator")
	if !xerrors.IsCode(err, xerrors.CodeServiceNotFound) {
		t.Fatalf("expected service not found, got %v", err)
	}
}

func TestGetServiceReturnsSameFacade(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	a, err := c.GetService(context.Background(), SummarizerID)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	b, _ := c.GetService(context.Background(), SummarizerID)
	if a != b {
		t.Fatalf("expected the cached façade")
	}
	if _, ok := a.(*Summarizer); !ok {
		t.Fatalf("expected the pre-built summarizer façade, got %T", a)
	}
	if a.Descriptor().Version != "1.0" {
		t.Fatalf("unexpected descriptor %+v", a.Descriptor())
	}
}

func TestPollTimeoutThroughClient(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(func(string, string, map[string]any) []string {
		return []string{`{"status":"pending"}`}
	})
	pub := events.NewMemoryPublisher(16)
	c := newTestClient(t, f, WithPolling(10*time.Millisecond, 50*time.Millisecond), WithPublisher(pub))

	start := time.Now()
	_, err := c.ExecuteService(context.Background(), "echo", "run", nil)
	elapsed := time.Since(start)
	if !xerrors.IsCode(err, xerrors.CodePollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if elapsed < 50*time.Millisecond || elapsed > time.Second {
		t.Fatalf("poll timeout not honoured, took %s", elapsed)
	}

	entry, err := c.Journal().Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if entry.Terminal() {
		t.Fatalf("poll timeout must not mark the job terminal: %+v", entry)
	}

	seen := map[events.Type]bool{}
	for len(seen) < 2 {
		select {
		case ev := <-pub.Events():
			seen[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", seen)
		}
	}
	if !seen[events.TypePollTimeout] {
		t.Fatalf("expected a poll timeout event, got %v", seen)
	}
}

func TestStatusIsIdempotentAfterTerminal(t *testing.T) {
	f := newFakePlatform(t)
	// A misbehaving platform that changes its mind after reporting success.
	f.setScript(func(string, string, map[string]any) []string {
		return []string{
			`{"status":"completed","result":{"summary":"ok"}}`,
			`{"status":"failed","error":"changed its mind"}`,
		}
	})
	c := newTestClient(t, f)

	res, err := c.ExecuteService(context.Background(), "echo", "run", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	hits := f.statusHits.Load()

	for i := 0; i < 3; i++ {
		report, err := c.Status(context.Background(), res.Handle)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if report.Status != job.StatusCompleted || string(report.Result) != `{"summary":"ok"}` {
			t.Fatalf("terminal report changed: %+v", report)
		}
	}
	if f.statusHits.Load() != hits {
		t.Fatalf("terminal job was queried again")
	}
}

func TestStatusJournalsFirstTerminalReport(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(func(string, string, map[string]any) []string {
		return []string{
			`{"status":"running"}`,
			`{"status":"completed","result":{"n":1}}`,
			`{"status":"failed","error":"late"}`,
		}
	})
	c := newTestClient(t, f)

	h, err := c.submit(context.Background(), "echo", "run", map[string]any{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var statuses []job.Status
	for i := 0; i < 4; i++ {
		report, err := c.Status(context.Background(), h)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		statuses = append(statuses, report.Status)
	}
	want := []job.Status{job.StatusRunning, job.StatusCompleted, job.StatusCompleted, job.StatusCompleted}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
	if got := f.statusHits.Load(); got != 2 {
		t.Fatalf("expected 2 status queries, got %d", got)
	}
}

func TestResumeUsesJournal(t *testing.T) {
	f := newFakePlatform(t)
	store := journal.NewMemoryStore()
	c := newTestClient(t, f, WithJournal(store))

	h := job.Handle{ProcessID: "p42", AccessToken: "t42"}
	if _, err := store.Finish(context.Background(), journal.Entry{
		Handle: h, ServiceID: "echo", Endpoint: "run",
		Status: job.StatusCompleted, Result: json.RawMessage(`{"done":true}`),
	}); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	res, err := c.Resume(context.Background(), h)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if string(res.Data) != `{"done":true}` {
		t.Fatalf("unexpected data %s", res.Data)
	}
	if f.statusHits.Load() != 0 {
		t.Fatalf("journaled job should not be polled")
	}
}

func TestResumePollsUnfinishedJob(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(func(string, string, map[string]any) []string {
		return []string{`{"status":"running"}`, `{"status":"completed","result":{"n":2}}`}
	})
	c := newTestClient(t, f)

	h, err := c.submit(context.Background(), "echo", "run", map[string]any{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := c.Resume(context.Background(), h)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if string(res.Data) != `{"n":2}` {
		t.Fatalf("unexpected data %s", res.Data)
	}
}

func TestJournalRequiresMatchingAccessToken(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(completedWith(`{"secret":"data"}`))
	c := newTestClient(t, f)

	res, err := c.ExecuteService(context.Background(), "echo", "run", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	forged := job.Handle{ProcessID: res.Handle.ProcessID, AccessToken: "forged"}

	hits := f.statusHits.Load()
	report, err := c.Status(context.Background(), forged)
	if !xerrors.IsCode(err, xerrors.CodeRemoteNotFound) {
		t.Fatalf("expected the platform to reject the token, got %+v %v", report, err)
	}
	if len(report.Result) != 0 {
		t.Fatalf("journaled payload leaked: %s", report.Result)
	}
	if f.statusHits.Load() == hits {
		t.Fatalf("foreign token was answered without asking the platform")
	}

	hits = f.statusHits.Load()
	resumed, err := c.Resume(context.Background(), forged)
	if err == nil || len(resumed.Data) != 0 {
		t.Fatalf("resume with a foreign token returned %s (%v)", resumed.Data, err)
	}
	if f.statusHits.Load() == hits {
		t.Fatalf("resume with a foreign token skipped the platform")
	}

	hits = f.statusHits.Load()
	report, err = c.Status(context.Background(), res.Handle)
	if err != nil || string(report.Result) != `{"secret":"data"}` {
		t.Fatalf("owner lost the journaled report: %+v %v", report, err)
	}
	if f.statusHits.Load() != hits {
		t.Fatalf("owner's terminal job was queried again")
	}
}

func TestFacadeSeesEndpointRemovedByRefresh(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	svc, err := c.GetService(context.Background(), "echo")
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	f.catalog.Store(`{"echo": {"name": "Echo", "endpoints": ["ping"]}}`)
	if _, err := c.FetchServices(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	before := f.hits.Load()
	_, err = svc.Execute(context.Background(), "run", map[string]any{})
	if !xerrors.IsCode(err, xerrors.CodeEndpointNotFound) {
		t.Fatalf("expected endpoint not found after refresh, got %v", err)
	}
	if f.hits.Load() != before {
		t.Fatalf("removed endpoint reached the network")
	}
	if got := svc.Descriptor().EndpointNames(); len(got) != 1 || got[0] != "ping" {
		t.Fatalf("façade still sees the old descriptor: %v", got)
	}
}

func TestMemoryJournalIsBounded(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f, WithConfig(config.Config{Journal: config.JournalConfig{MaxEntries: 2}}))

	for i := 0; i < 3; i++ {
		if _, err := c.ExecuteService(context.Background(), "echo", "run", nil); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if _, err := c.Journal().Get(context.Background(), "p1"); !xerrors.IsCode(err, journal.CodeEntryNotFound) {
		t.Fatalf("oldest job should have been evicted, got %v", err)
	}
	if _, err := c.Journal().Get(context.Background(), "p3"); err != nil {
		t.Fatalf("latest job missing: %v", err)
	}
}

func TestCatalogSwapIsAtomic(t *testing.T) {
	const size = 6
	build := func(version string) string {
		m := make(map[string]any, size)
		for i := 0; i < size; i++ {
			id := "svc" + string(rune('a'+i))
			m[id] = map[string]any{"version": version, "endpoints": []string{"run"}}
		}
		raw, _ := json.Marshal(m)
		return string(raw)
	}
	old, next := build("1"), build("2")

	f := newFakePlatform(t)
	f.catalog.Store(old)
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				f.catalog.Store(next)
			} else {
				f.catalog.Store(old)
			}
			if _, err := c.FetchServices(ctx); err != nil {
				t.Errorf("fetch: %v", err)
				return
			}
		}
	}()

	errs := make(chan string, 8)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := c.Services()
				if len(snap) != size {
					errs <- "partial catalog observed"
					return
				}
				version := ""
				for _, d := range snap {
					if version == "" {
						version = d.Version
					} else if d.Version != version {
						errs <- "mixed catalog versions observed"
						return
					}
				}
				if _, err := c.GetService(ctx, "svca"); err != nil {
					errs <- err.Error()
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}

func TestBatchReportsEachOutcome(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(func(_ string, _ string, params map[string]any) []string {
		if params["n"] == float64(1) {
			return []string{`{"status":"failed","error":"bad input"}`}
		}
		return []string{`{"status":"completed","result":{"ok":true}}`}
	})
	c := newTestClient(t, f)

	calls := []Call{
		{ID: "call-0", ServiceID: "echo", Endpoint: "run", Params: map[string]any{"n": 0}},
		{ID: "call-1", ServiceID: "echo", Endpoint: "run", Params: map[string]any{"n": 1}},
		{ServiceID: "echo", Endpoint: "run", Params: map[string]any{"n": 2}},
	}
	outcomes := c.Batch(context.Background(), calls...)
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].OK() || !outcomes[2].OK() {
		t.Fatalf("unexpected failures: %+v", Failed(outcomes))
	}
	if outcomes[2].Call.ID == "" {
		t.Fatalf("untagged call should receive an id")
	}
	failed := Failed(outcomes)
	if len(failed) != 1 || failed[0].Call.ID != "call-1" {
		t.Fatalf("expected call-1 to fail, got %+v", failed)
	}
	if !xerrors.IsCode(failed[0].Err, xerrors.CodeServiceExecution) {
		t.Fatalf("unexpected error %v", failed[0].Err)
	}
	if len(f.submitted()) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(f.submitted()))
	}
}

func TestClosedClientRejectsWithoutNetwork(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	before := f.hits.Load()
	_, err := c.ExecuteService(context.Background(), "echo", "run", nil)
	if !xerrors.IsCode(err, xerrors.CodeClientClosed) {
		t.Fatalf("expected client closed, got %v", err)
	}
	if _, err := c.FetchServices(context.Background()); !xerrors.IsCode(err, xerrors.CodeClientClosed) {
		t.Fatalf("expected client closed from fetch, got %v", err)
	}
	if f.hits.Load() != before {
		t.Fatalf("closed client reached the network")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCloseInterruptsPendingPoll(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(func(string, string, map[string]any) []string {
		return []string{`{"status":"running"}`}
	})
	c := newTestClient(t, f, WithPolling(time.Second, time.Minute))

	done := make(chan error, 1)
	go func() {
		_, err := c.ExecuteService(context.Background(), "echo", "run", nil)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for f.statusHits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = c.Close()

	select {
	case err := <-done:
		if !xerrors.IsCode(err, xerrors.CodeClientClosed) {
			t.Fatalf("expected client closed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending poll was not interrupted by close")
	}
}

type countingService struct {
	*BaseService
	calls int
}

func TestRegisterServiceReplacesFacade(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	first, err := c.GetService(context.Background(), "echo")
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if _, ok := first.(*BaseService); !ok {
		t.Fatalf("expected the generic façade, got %T", first)
	}

	if err := c.RegisterService("echo", func(base *BaseService) Service {
		return &countingService{BaseService: base}
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := c.GetService(context.Background(), "echo")
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if _, ok := second.(*countingService); !ok {
		t.Fatalf("expected the registered façade, got %T", second)
	}

	if err := c.RegisterService("", nil); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	f := newFakePlatform(t)
	_, err := New(context.Background(), WithEnvLookup(noEnv), WithBaseURL(f.srv.URL))
	if !xerrors.IsCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if f.hits.Load() != 0 {
		t.Fatalf("unconfigured client reached the network")
	}
}

func TestNewSurfacesDiscoveryFailure(t *testing.T) {
	f := newFakePlatform(t)
	_, err := New(context.Background(),
		WithEnvLookup(noEnv), WithAPIKey("wrong-key"), WithBaseURL(f.srv.URL))
	if !xerrors.IsCode(err, xerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLazyDiscovery(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f, WithLazyDiscovery())
	if f.catalogHits.Load() != 0 {
		t.Fatalf("lazy client fetched the catalog in New")
	}
	if len(c.Services()) != 0 {
		t.Fatalf("expected an empty catalog")
	}
	if _, err := c.GetService(context.Background(), SummarizerID); err != nil {
		t.Fatalf("get service: %v", err)
	}
	if f.catalogHits.Load() != 1 {
		t.Fatalf("expected one discovery call, got %d", f.catalogHits.Load())
	}
}

func TestEnvironmentConfiguration(t *testing.T) {
	f := newFakePlatform(t)
	env := map[string]string{
		"BREACT_API_KEY":  "test-key",
		"BREACT_BASE_URL": f.srv.URL,
	}
	c, err := New(context.Background(),
		WithEnvLookup(func(k string) (string, bool) { v, ok := env[k]; return v, ok }),
		WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if c.Config().BaseURL != f.srv.URL {
		t.Fatalf("base url not taken from environment: %s", c.Config().BaseURL)
	}
	if len(c.Services()) != 4 {
		t.Fatalf("expected 4 services, got %d", len(c.Services()))
	}
}

func TestMetricsRecorded(t *testing.T) {
	f := newFakePlatform(t)
	f.setScript(completedWith(`{"summary":"short"}`))
	reg := prometheus.NewRegistry()
	c := newTestClient(t, f, WithMetrics(reg))

	if _, err := c.Summarize(context.Background(), "a long text", 0); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	expected := `
# HELP breact_sdk_jobs_finished_total Jobs that finished locally, by service, endpoint and outcome code.
# TYPE breact_sdk_jobs_finished_total counter
breact_sdk_jobs_finished_total{endpoint="summarize",outcome="ok",service="summarizer"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "breact_sdk_jobs_finished_total"); err != nil {
		t.Fatalf("unexpected job metrics: %v", err)
	}
	if n, err := testutil.GatherAndCount(reg, "breact_sdk_transport_requests_total"); err != nil || n == 0 {
		t.Fatalf("expected transport request series, got %d (%v)", n, err)
	}
}
