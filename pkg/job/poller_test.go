package job

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "BReact-SDK/pkg/errors"
)

func submitted(id, token string) SubmitFunc {
	return func(context.Context) (Handle, error) {
		return Handle{ProcessID: id, AccessToken: token}, nil
	}
}

func sequence(reports ...Report) (StatusFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(_ context.Context, h Handle) (Report, error) {
		n := int(calls.Add(1)) - 1
		if n >= len(reports) {
			return reports[len(reports)-1], nil
		}
		return reports[n], nil
	}, &calls
}

func TestRunToCompletionPendingThenCompleted(t *testing.T) {
	status, calls := sequence(
		Report{Status: StatusPending},
		Report{Status: StatusCompleted, Result: json.RawMessage(`{"word_count":5}`)},
	)
	p := NewPoller(status, WithInterval(5*time.Millisecond), WithTimeout(time.Second))

	res, err := p.RunToCompletion(context.Background(), submitted("p1", "t1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 status queries, got %d", calls.Load())
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
}

func TestRunToCompletionQueriesImmediately(t *testing.T) {
	status, _ := sequence(Report{Status: StatusCompleted, Result: json.RawMessage(`{}`)})
	p := NewPoller(status, WithInterval(time.Hour), WithTimeout(time.Hour))

	start := time.Now()
	if _, err := p.RunToCompletion(context.Background(), submitted("p1", "t1")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("first status query should not wait an interval")
	}
}

func TestPollTimeoutBound(t *testing.T) {
	status, _ := sequence(Report{Status: StatusPending})
	p := NewPoller(status, WithInterval(10*time.Millisecond), WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := p.RunToCompletion(context.Background(), submitted("p1", "t1"))
	elapsed := time.Since(start)
	if !stdErrors.Is(err, xerrors.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Fatalf("gave up too early: %s", elapsed)
	}
	if elapsed > 50*time.Millisecond+200*time.Millisecond {
		t.Fatalf("gave up too late: %s", elapsed)
	}
}

func TestPollTimeoutAbandonsSlowQuery(t *testing.T) {
	status := func(ctx context.Context, _ Handle) (Report, error) {
		<-ctx.Done()
		return Report{}, ctx.Err()
	}
	p := NewPoller(status, WithInterval(10*time.Millisecond), WithTimeout(40*time.Millisecond))

	_, err := p.RunToCompletion(context.Background(), submitted("p1", "t1"))
	if !stdErrors.Is(err, xerrors.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
}

func TestFailedStatusCarriesRemoteMessage(t *testing.T) {
	status, calls := sequence(Report{Status: StatusFailed, Error: "input too long"})
	p := NewPoller(status, WithInterval(time.Millisecond))

	_, err := p.RunToCompletion(context.Background(), submitted("p1", "t1"))
	e, ok := xerrors.From(err)
	if !ok || e.Code() != xerrors.CodeServiceExecution {
		t.Fatalf("expected service execution error, got %v", err)
	}
	if e.Message() != "input too long" {
		t.Fatalf("remote message not verbatim: %q", e.Message())
	}
	if calls.Load() != 1 {
		t.Fatalf("failed jobs must not be re-polled, got %d queries", calls.Load())
	}
}

func TestTransientMissIsRetried(t *testing.T) {
	var calls atomic.Int32
	status := func(context.Context, Handle) (Report, error) {
		if calls.Add(1) == 1 {
			return Report{}, xerrors.New(xerrors.CodeTransport, "connection reset")
		}
		return Report{Status: StatusCompleted, Result: json.RawMessage(`{"ok":true}`)}, nil
	}
	p := NewPoller(status, WithInterval(time.Millisecond), WithTimeout(time.Second))

	if _, err := p.RunToCompletion(context.Background(), submitted("p1", "t1")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a retry, got %d queries", calls.Load())
	}
}

func TestNonRetryableErrorPropagates(t *testing.T) {
	status := func(context.Context, Handle) (Report, error) {
		return Report{}, xerrors.New(xerrors.CodeUnauthorized, "bad token")
	}
	p := NewPoller(status, WithInterval(time.Millisecond), WithTimeout(time.Second))

	_, err := p.RunToCompletion(context.Background(), submitted("p1", "t1"))
	if !xerrors.IsCode(err, xerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestSubmitErrorIsReturnedUnchanged(t *testing.T) {
	want := xerrors.New(xerrors.CodeRemote, "bad request")
	p := NewPoller(func(context.Context, Handle) (Report, error) {
		t.Fatal("status must not be queried")
		return Report{}, nil
	})
	_, err := p.RunToCompletion(context.Background(), func(context.Context) (Handle, error) {
		return Handle{}, want
	})
	if err != want {
		t.Fatalf("expected submit error, got %v", err)
	}
}

func TestMissingAccessTokenIsDecodeFailure(t *testing.T) {
	p := NewPoller(func(context.Context, Handle) (Report, error) { return Report{}, nil })
	_, err := p.RunToCompletion(context.Background(), submitted("p1", ""))
	if !xerrors.IsCode(err, xerrors.CodeDecode) {
		t.Fatalf("expected decode failure, got %v", err)
	}
}

func TestCancellationReturnsContextError(t *testing.T) {
	status, _ := sequence(Report{Status: StatusRunning})
	p := NewPoller(status, WithInterval(time.Hour), WithTimeout(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	_, err := p.RunToCompletion(ctx, submitted("p1", "t1"))
	if !stdErrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation was not prompt")
	}
}

func TestShutdownReturnsClientClosed(t *testing.T) {
	status, _ := sequence(Report{Status: StatusRunning})
	done := make(chan struct{})
	p := NewPoller(status, WithInterval(time.Hour), WithTimeout(time.Hour), WithShutdown(done))

	time.AfterFunc(20*time.Millisecond, func() { close(done) })
	_, err := p.RunToCompletion(context.Background(), submitted("p1", "t1"))
	if !stdErrors.Is(err, xerrors.ErrClientClosed) {
		t.Fatalf("expected client closed, got %v", err)
	}

	if _, err := p.Resume(context.Background(), Handle{ProcessID: "p1", AccessToken: "t1"}); !stdErrors.Is(err, xerrors.ErrClientClosed) {
		t.Fatalf("expected client closed on resume, got %v", err)
	}
}

func TestHooksObserveLifecycle(t *testing.T) {
	status, _ := sequence(
		Report{Status: StatusRunning},
		Report{Status: StatusCompleted, Result: json.RawMessage(`{}`)},
	)
	var (
		mu       sync.Mutex
		events   []string
		finished error
	)
	p := NewPoller(status, WithInterval(time.Millisecond), WithHooks(Hooks{
		OnSubmitted: func(h Handle) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "submitted:"+h.ProcessID)
		},
		OnStatus: func(_ Handle, r Report) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, string(r.Status))
		},
		OnFinished: func(_ Handle, _ Result, err error) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "finished")
			finished = err
		},
	}))

	if _, err := p.RunToCompletion(context.Background(), submitted("p9", "t9")); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"submitted:p9", "running", "completed", "finished"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("unexpected events %v", events)
		}
	}
	if finished != nil {
		t.Fatalf("unexpected finish error %v", finished)
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Factor: 2, Max: 350 * time.Millisecond}
	base := 100 * time.Millisecond
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := b.Next(base, i+1); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, w, got)
		}
	}
	if got := (FixedBackoff{}).Next(base, 7); got != base {
		t.Fatalf("fixed backoff changed interval: %s", got)
	}
}
