// Package transport sends authenticated JSON requests to the platform over a
// pooled HTTP client and translates every failure into the SDK error taxonomy.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/logger"
	"BReact-SDK/pkg/metrics"
)

// APIKeyHeader carries the credential on every request.
const APIKeyHeader = "x-api-key"

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "breact-sdk-go"
	maxErrorBody     = 4096
)

// Config describes a Transport.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string

	// RateLimit caps outgoing requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int

	MaxIdleConnsPerHost int

	// HTTPClient replaces the pooled client built by New. Its Transport is
	// still closed by Close when it supports CloseIdleConnections.
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Request is a single call. Route is a low-cardinality label used for
// metrics and logs ("services.submit"); Path is the escaped request path.
type Request struct {
	Method  string
	Route   string
	Path    string
	Query   url.Values
	Body    any
	Headers http.Header
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if r == nil || out == nil {
		return nil
	}
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return xerrors.New(xerrors.CodeDecode, "empty response body")
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return xerrors.Wrap(xerrors.CodeDecode, err, "decode response")
	}
	return nil
}

// Transport issues requests against one base endpoint. It is safe for
// concurrent use; connections are pooled for its whole lifetime.
type Transport struct {
	baseURL   *url.URL
	apiKey    string
	timeout   time.Duration
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	log       *slog.Logger
	metrics   *metrics.Collector

	closed    atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context
	shutdown  context.CancelFunc
}

// New builds a Transport. The base URL must be absolute.
func New(cfg Config) (*Transport, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, xerrors.Newf(xerrors.CodeConfiguration, "invalid base URL %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	client := cfg.HTTPClient
	if client == nil {
		client, err = newPooledClient(cfg.MaxIdleConnsPerHost)
		if err != nil {
			return nil, err
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	closeCtx, shutdown := context.WithCancel(context.Background())
	return &Transport{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		timeout:   timeout,
		userAgent: ua,
		client:    client,
		limiter:   limiter,
		log:       log,
		metrics:   cfg.Metrics,
		closeCtx:  closeCtx,
		shutdown:  shutdown,
	}, nil
}

func newPooledClient(maxIdlePerHost int) (*http.Client, error) {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 16
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "configure HTTP/2")
	}
	// Timeouts are enforced per request through the context.
	return &http.Client{Transport: tr}, nil
}

// Timeout returns the per-request timeout.
func (t *Transport) Timeout() time.Duration { return t.timeout }

// Done is closed once Close has been called.
func (t *Transport) Done() <-chan struct{} { return t.closeCtx.Done() }

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool { return t.closed.Load() }

// Close aborts in-flight requests and releases pooled connections. Later
// calls to Send fail with CodeClientClosed.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.shutdown()
		t.client.CloseIdleConnections()
	})
	return nil
}

// Send performs req and returns the 2xx response or a taxonomy error.
func (t *Transport) Send(ctx context.Context, req Request) (*Response, error) {
	if t.closed.Load() {
		return nil, xerrors.New(xerrors.CodeClientClosed, "transport is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	stop := context.AfterFunc(t.closeCtx, cancel)
	defer stop()

	if t.limiter != nil {
		if err := t.limiter.Wait(reqCtx); err != nil {
			return nil, t.contextError(ctx, reqCtx, req, err)
		}
	}

	httpReq, requestID, err := t.newRequest(reqCtx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.metrics.ObserveRequest(route(req), req.Method, 0, time.Since(start))
		return nil, t.contextError(ctx, reqCtx, req, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	t.metrics.ObserveRequest(route(req), req.Method, resp.StatusCode, time.Since(start))
	if readErr != nil {
		return nil, t.contextError(ctx, reqCtx, req, readErr)
	}

	t.log.Debug("platform request",
		slog.String("route", route(req)),
		slog.String("method", req.Method),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, translateStatus(resp.StatusCode, body, requestID)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		RequestID:  requestID,
	}, nil
}

func (t *Transport) newRequest(ctx context.Context, req Request) (*http.Request, string, error) {
	target, err := t.resolve(req.Path)
	if err != nil {
		return nil, "", err
	}
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request body")
		}
		body = bytes.NewReader(encoded)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "create request")
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(APIKeyHeader, t.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, requestID, nil
}

// resolve appends the escaped path to the base URL path.
func (t *Transport) resolve(p string) (*url.URL, error) {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	rel, err := url.Parse(strings.TrimRight(t.baseURL.EscapedPath(), "/") + p)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid request path")
	}
	u := *t.baseURL
	u.Path = rel.Path
	u.RawPath = rel.RawPath
	u.RawQuery = ""
	u.Fragment = ""
	return &u, nil
}

// contextError classifies a failed round trip. Caller cancellation is
// returned unchanged so it propagates; everything else becomes a taxonomy
// error.
func (t *Transport) contextError(parent, reqCtx context.Context, req Request, err error) error {
	switch {
	case t.closed.Load():
		return xerrors.Wrap(xerrors.CodeClientClosed, err, "transport closed during request")
	case parent.Err() != nil:
		return parent.Err()
	case stdErrors.Is(reqCtx.Err(), context.DeadlineExceeded) || isTimeout(err):
		return xerrors.Wrap(xerrors.CodeTimeout, err,
			fmt.Sprintf("%s %s exceeded %s", req.Method, route(req), t.timeout),
			xerrors.WithMetadata("route", route(req)))
	default:
		return xerrors.Wrap(xerrors.CodeTransport, err,
			fmt.Sprintf("%s %s failed", req.Method, route(req)),
			xerrors.WithMetadata("route", route(req)))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return stdErrors.As(err, &netErr) && netErr.Timeout()
}

func route(req Request) string {
	if req.Route != "" {
		return req.Route
	}
	return req.Path
}

// translateStatus maps a non-2xx reply onto the taxonomy.
func translateStatus(status int, body []byte, requestID string) error {
	message := remoteMessage(body)
	if message == "" {
		message = http.StatusText(status)
	}
	opts := []xerrors.Option{
		xerrors.WithMetadata("status_code", strconv.Itoa(status)),
		xerrors.WithMetadata("request_id", requestID),
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return xerrors.New(xerrors.CodeUnauthorized, message, opts...)
	case status == http.StatusNotFound:
		return xerrors.New(xerrors.CodeRemoteNotFound, message, opts...)
	case status == http.StatusTooManyRequests || status >= 500:
		return xerrors.New(xerrors.CodeRemote, message, append(opts, xerrors.WithRetryable(true))...)
	default:
		return xerrors.New(xerrors.CodeRemote, message, opts...)
	}
}

func remoteMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Detail  any    `json:"detail"`
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, candidate := range []any{payload.Detail, payload.Error, payload.Message} {
			if s := stringify(candidate); s != "" {
				return s
			}
		}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		if msg, ok := val["message"].(string); ok {
			return msg
		}
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(encoded)
}
