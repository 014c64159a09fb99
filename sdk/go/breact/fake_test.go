package breact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BReact-SDK/pkg/transport"
)

const testCatalog = `{
  "summarizer": {
    "name": "Summarizer",
    "version": "1.0",
    "endpoints": {
      "summarize": {"parameters": {"text": {"type": "string", "required": true}, "max_length": "integer"}}
    }
  },
  "email_response": {"name": "Email", "endpoints": ["analyze_thread", "generate_response"]},
  "classifier": {"name": "Classifier", "endpoints": [{"name": "process", "required": ["content"]}]},
  "echo": {"name": "Echo", "endpoints": {"run": {}}}
}`

// scriptFunc returns the status bodies served for a job, in order. The last
// body repeats once the script is exhausted.
type scriptFunc func(service, endpoint string, params map[string]any) []string

type fakeJob struct {
	token    string
	statuses []string
	served   int
}

type submission struct {
	Service  string
	Endpoint string
	Params   map[string]any
}

type fakePlatform struct {
	t   *testing.T
	srv *httptest.Server

	catalog atomic.Value // string
	script  atomic.Value // scriptFunc

	hits        atomic.Int32
	catalogHits atomic.Int32
	statusHits  atomic.Int32

	mu          sync.Mutex
	jobs        map[string]*fakeJob
	submissions []submission
	seq         int
}

func completedWith(result string) scriptFunc {
	return func(string, string, map[string]any) []string {
		return []string{`{"status":"completed","result":` + result + `}`}
	}
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	f := &fakePlatform{t: t, jobs: make(map[string]*fakeJob)}
	f.catalog.Store(testCatalog)
	f.script.Store(completedWith(`{}`))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/services", func(w http.ResponseWriter, r *http.Request) {
		f.catalogHits.Add(1)
		_, _ = w.Write([]byte(f.catalog.Load().(string)))
	})
	mux.HandleFunc("POST /api/v1/services/{service}/{endpoint}", f.handleSubmit)
	mux.HandleFunc("GET /api/v1/services/result/{pid}", f.handleResult)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if r.Header.Get(transport.APIKeyHeader) != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid API key"}`))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePlatform) setScript(s scriptFunc) { f.script.Store(s) }

func (f *fakePlatform) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	service, endpoint := r.PathValue("service"), r.PathValue("endpoint")
	statuses := f.script.Load().(scriptFunc)(service, endpoint, params)

	f.mu.Lock()
	f.seq++
	pid, token := fmt.Sprintf("p%d", f.seq), fmt.Sprintf("t%d", f.seq)
	f.jobs[pid] = &fakeJob{token: token, statuses: statuses}
	f.submissions = append(f.submissions, submission{Service: service, Endpoint: endpoint, Params: params})
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{"process_id": pid, "access_token": token})
}

func (f *fakePlatform) handleResult(w http.ResponseWriter, r *http.Request) {
	f.statusHits.Add(1)
	pid := r.PathValue("pid")

	f.mu.Lock()
	j, ok := f.jobs[pid]
	var body string
	if ok && j.token == r.URL.Query().Get("access_token") {
		idx := j.served
		if idx >= len(j.statuses) {
			idx = len(j.statuses) - 1
		}
		body = j.statuses[idx]
		j.served++
	}
	f.mu.Unlock()

	if body == "" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"unknown process"}`))
		return
	}
	_, _ = w.Write([]byte(body))
}

func (f *fakePlatform) submitted() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.submissions...)
}

func noEnv(string) (string, bool) { return "", false }

func newTestClient(t *testing.T, f *fakePlatform, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithEnvLookup(noEnv),
		WithAPIKey("test-key"),
		WithBaseURL(f.srv.URL),
		WithPolling(5*time.Millisecond, 2*time.Second),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	c, err := New(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
