package breact

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"BReact-SDK/pkg/job"
)

// Call is one request of a batch.
type Call struct {
	// ID tags the call in its Outcome; a uuid is assigned when empty.
	ID        string
	ServiceID string
	Endpoint  string
	Params    map[string]any
}

// Outcome is the result of one Call. Exactly one of Result and Err is
// meaningful.
type Outcome struct {
	Call   Call
	Result job.Result
	Err    error
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Batch runs calls concurrently, at most MaxConcurrency at a time, and
// returns one Outcome per call in input order. A failing call never cancels
// or fails the others.
func (c *Client) Batch(ctx context.Context, calls ...Call) []Outcome {
	outcomes := make([]Outcome, len(calls))

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)
	for i, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		outcomes[i].Call = call
		g.Go(func() error {
			res, err := c.ExecuteService(ctx, call.ServiceID, call.Endpoint, call.Params)
			outcomes[i].Result = res
			outcomes[i].Err = err
			return nil
		})
	}
	_ = g.Wait() // goroutines return nil; per-call errors live in outcomes
	return outcomes
}

// Failed returns the failed outcomes of a batch.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}
