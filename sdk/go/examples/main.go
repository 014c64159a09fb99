package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"BReact-SDK/sdk/go/breact"
)

func main() {
	var (
		mu   sync.Mutex
		jobs = map[string]int{}
		seq  int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/services", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"summarizer": map[string]any{
				"name":      "Summarizer",
				"version":   "1.0",
				"endpoints": map[string]any{"summarize": map[string]any{"required": []string{"text"}}},
			},
		})
	})
	mux.HandleFunc("POST /api/v1/services/{service}/{endpoint}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seq++
		pid := fmt.Sprintf("demo-%d", seq)
		jobs[pid] = 0
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"process_id": pid, "access_token": "demo-token"})
	})
	mux.HandleFunc("GET /api/v1/services/result/{pid}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		jobs[r.PathValue("pid")]++
		polls := jobs[r.PathValue("pid")]
		mu.Unlock()
		if polls < 3 {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "completed",
			"result": map[string]any{"summary": "Go makes concurrency simple.", "word_count": 4},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := breact.New(ctx,
		breact.WithAPIKey("demo-key"),
		breact.WithBaseURL(srv.URL),
		breact.WithPolling(100*time.Millisecond, 5*time.Second),
	)
	if err != nil {
		panic(err)
	}
	defer client.Close()

	for id, svc := range client.Services() {
		fmt.Printf("discovered %s (%s) endpoints=%v\n", id, svc.Version, svc.EndpointNames())
	}

	res, err := client.Summarize(ctx, "Go is an open source programming language that makes it simple to build concurrent software.", 10)
	if err != nil {
		panic(err)
	}
	var out struct {
		Summary   string `json:"summary"`
		WordCount int    `json:"word_count"`
	}
	if err := res.Decode(&out); err != nil {
		panic(err)
	}
	fmt.Printf("job %s finished: %q (%d words)\n", res.Handle.ProcessID, out.Summary, out.WordCount)
}
