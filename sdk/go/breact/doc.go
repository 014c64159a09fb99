// Package breact is the Go client of the BReact platform.
//
// A Client discovers the platform's services, hands out one façade per
// service and runs each call as a remote job: the request is submitted, the
// returned handle is polled until the job completes or fails, and the result
// payload is returned unchanged.
//
//	client, err := breact.New(ctx, breact.WithAPIKey(key))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	res, err := client.Summarize(ctx, text, 50)
//
// Every error carries a code from package errors so callers can branch on
// CodeOf(err) or errors.Is(err, errors.ErrPollTimeout) instead of matching
// messages.
package breact
