// Package client talks to an OData v3 service over HTTP. Requests are
// addressed with uri.Builder, payloads go through codec, and the client
// takes care of CSRF tokens, retries and circuit breaking.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/zmcp/odata-client/internal/codec"
	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/debug"
	"github.com/zmcp/odata-client/internal/metadata"
	"github.com/zmcp/odata-client/internal/uri"
)

var (
	ErrResponseTooLarge = errors.New("response body exceeds size limit")
	ErrNoNextPage       = errors.New("entity set has no next page")
)

// errServerStatus marks a 5xx response as a failure for the circuit
// breaker; the response itself is still handed back to the caller.
var errServerStatus = errors.New("server returned 5xx")

// Client handles HTTP communication with one OData service.
type Client struct {
	root         string
	httpClient   *http.Client
	logger       *slog.Logger
	format       codec.Format
	level        codec.MetadataLevel
	keyAsSegment bool
	legacyDates  bool
	csrf         bool
	username     string
	password     string
	maxBody      int64
	retry        *RetryConfig
	lookup       metadata.Lookup
	tracer       *debug.TraceLogger

	breakerFailures uint32
	breakerTimeout  time.Duration
	breaker         *gobreaker.CircuitBreaker[*response]

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	telemetry      *telemetry

	mu             sync.RWMutex // guards the fields below
	cookies        map[string]string
	sessionCookies []*http.Cookie
	csrfToken      string
	model          *metadata.Model
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithFormat selects the wire format and JSON metadata level. Atom always
// runs at full metadata.
func WithFormat(f codec.Format, l codec.MetadataLevel) Option {
	return func(c *Client) {
		c.format = f
		c.level = l
	}
}

// WithKeyAsSegment writes keys as /Set/1 instead of /Set(1).
func WithKeyAsSegment(enabled bool) Option {
	return func(c *Client) { c.keyAsSegment = enabled }
}

// WithLegacyDates writes JSON dates as /Date(ms)/.
func WithLegacyDates(enabled bool) Option {
	return func(c *Client) { c.legacyDates = enabled }
}

func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

func WithCookies(cookies map[string]string) Option {
	return func(c *Client) { c.cookies = cookies }
}

// WithCSRF turns the X-CSRF-Token handshake on or off. It is on by
// default.
func WithCSRF(enabled bool) Option {
	return func(c *Client) { c.csrf = enabled }
}

// WithMaxResponseSize bounds response bodies; 0 removes the limit.
func WithMaxResponseSize(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

func WithRetryConfig(cfg *RetryConfig) Option {
	return func(c *Client) {
		if cfg != nil {
			c.retry = cfg
		}
	}
}

// WithCircuitBreaker opens the breaker after failures consecutive
// transport errors or 5xx responses and keeps it open for openTimeout.
// failures == 0 disables the breaker.
func WithCircuitBreaker(failures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.breakerFailures = failures
		c.breakerTimeout = openTimeout
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) { c.meterProvider = mp }
}

// WithTraceLogger records every HTTP exchange to tl.
func WithTraceLogger(tl *debug.TraceLogger) Option {
	return func(c *Client) { c.tracer = tl }
}

// WithMetadata supplies type information up front. Without it the client
// uses whatever GetMetadata has cached.
func WithMetadata(l metadata.Lookup) Option {
	return func(c *Client) { c.lookup = l }
}

// New creates a client for the service rooted at serviceRoot.
func New(serviceRoot string, opts ...Option) (*Client, error) {
	u, err := url.Parse(serviceRoot)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%s: %q", constants.ErrInvalidServiceURL, serviceRoot)
	}

	c := &Client{
		root: strings.TrimRight(serviceRoot, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(constants.DefaultTimeout) * time.Second,
		},
		logger:          slog.Default(),
		format:          codec.FormatJSON,
		level:           codec.LevelMinimal,
		csrf:            true,
		maxBody:         constants.DefaultMaxResponseSize,
		retry:           DefaultRetryConfig(),
		breakerFailures: 5,
		breakerTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.format == codec.FormatAtom {
		c.level = codec.LevelFull
	}

	if c.telemetry, err = newTelemetry(c.tracerProvider, c.meterProvider); err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	if c.breakerFailures > 0 {
		failures := c.breakerFailures
		c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
			Name:    u.Host,
			Timeout: c.breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c, nil
}

// ServiceRoot returns the root URL without a trailing slash.
func (c *Client) ServiceRoot() string {
	return c.root
}

// URI starts a builder rooted at the service with the client's key
// convention. Once metadata is known, key segments are checked against
// the declared keys.
func (c *Client) URI() *uri.Builder {
	return uri.New(c.root, uri.WithKeyAsSegment(c.keyAsSegment), uri.WithKeyValidator(c.validateKey))
}

// validateKey checks key names against the entity type the path resolves
// to. It accepts anything while no metadata is known or the path does not
// resolve.
func (c *Client) validateKey(res uri.Resource, names []string) error {
	lookup := c.Lookup()
	if lookup == nil {
		return nil
	}
	t := resourceType(lookup, res)
	if t == "" {
		return nil
	}
	return metadata.ValidateKey(lookup, t, names)
}

// SetCookies replaces the configured cookies.
func (c *Client) SetCookies(cookies map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = cookies
}

// Lookup returns the type information in use: the one given with
// WithMetadata, else the model cached by GetMetadata, else nil.
func (c *Client) Lookup() metadata.Lookup {
	if c.lookup != nil {
		return c.lookup
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.model != nil {
		return c.model
	}
	return nil
}

// BreakerState reports the circuit breaker state. It is StateClosed when
// the breaker is disabled.
func (c *Client) BreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// resourceType resolves the entity type a path addresses by walking its
// navigation properties from the entity set.
func resourceType(l metadata.Lookup, res uri.Resource) string {
	if res.TypeCast != "" {
		return res.TypeCast
	}
	if l == nil || res.EntitySet == "" {
		return ""
	}
	t, ok := l.EntitySetType(res.EntitySet)
	if !ok {
		return ""
	}
	for _, nav := range res.Navigations {
		if t, _, ok = l.NavigationTarget(t, nav); !ok {
			return ""
		}
	}
	return t
}

// CodecFor returns a codec hinted for res in format f at level l. extra
// options are applied last.
func (c *Client) CodecFor(res uri.Resource, f codec.Format, l codec.MetadataLevel, extra ...codec.Option) codec.Codec {
	lookup := c.Lookup()
	opts := []codec.Option{
		codec.WithServiceRoot(c.root),
		codec.WithLegacyDates(c.legacyDates),
	}
	if lookup != nil {
		opts = append(opts, codec.WithMetadata(lookup))
	}
	if res.EntitySet != "" && len(res.Navigations) == 0 {
		opts = append(opts, codec.WithEntitySet(res.EntitySet))
	}
	if t := resourceType(lookup, res); t != "" {
		opts = append(opts, codec.WithEntityType(t))
	}
	return codec.New(f, l, append(opts, extra...)...)
}

// Codec returns the codec the client writes request bodies with for res.
func (c *Client) Codec(res uri.Resource) codec.Codec {
	return c.CodecFor(res, c.format, c.level)
}

// responseCodec follows the response Content-Type when it names an OData
// format, since a service may answer in another format than requested.
func (c *Client) responseCodec(resp *response, res uri.Resource) codec.Codec {
	f, l, err := codec.ParseContentType(resp.header.Get(constants.ContentType))
	if err != nil {
		return c.Codec(res)
	}
	return c.CodecFor(res, f, l)
}

func (c *Client) accept() string {
	if c.format == codec.FormatAtom {
		return constants.ContentTypeAtomXML + "," + constants.ContentTypeXML
	}
	return codec.ContentType(c.format, c.level)
}

// resolve turns a possibly relative link from a payload into an absolute
// URL against the service root.
func (c *Client) resolve(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", link, err)
	}
	if ref.IsAbs() {
		return link, nil
	}
	base, err := url.Parse(c.root + "/")
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

type request struct {
	op          string
	method      string
	target      string
	body        []byte
	contentType string
	accept      string
	header      http.Header
}

type response struct {
	status  int
	header  http.Header
	body    []byte
	cookies []*http.Cookie
}

// check turns a non-2xx response into a *ProtocolError.
func (r *response) check() error {
	if r.status >= 200 && r.status < 300 {
		return nil
	}
	return parseProtocolError(r.status, r.header, r.body)
}

// buildRequest creates an HTTP request with protocol headers and
// authentication.
func (c *Client) buildRequest(ctx context.Context, r request) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(constants.UserAgent, constants.DefaultUserAgent)
	req.Header.Set(constants.DataServiceVersion, constants.ProtocolVersion)
	req.Header.Set(constants.MaxDataServiceVersion, constants.MaxProtocolVersion)
	accept := r.accept
	if accept == "" {
		accept = c.accept()
	}
	req.Header.Set(constants.Accept, accept)
	if r.body != nil && r.contentType != "" {
		req.Header.Set(constants.ContentType, r.contentType)
	}
	for name, values := range r.header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.mu.RLock()
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	for _, cookie := range c.sessionCookies {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	token := c.csrfToken
	c.mu.RUnlock()

	if token != "" && r.method != constants.GET {
		req.Header.Set(constants.CSRFTokenHeader, token)
	}

	c.telemetry.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// do sends r with CSRF handling and retries. Once retries are exhausted
// the last response is returned as is; callers check its status.
func (c *Client) do(ctx context.Context, r request) (resp *response, err error) {
	ctx, span := c.telemetry.start(ctx, r.op, r.method, debug.MaskURL(r.target))
	defer func() {
		status := 0
		if resp != nil {
			status = resp.status
		}
		endSpan(span, status, err)
	}()

	modifying := r.method != constants.GET
	if modifying && c.csrf && c.token() == "" {
		if err := c.fetchCSRFToken(ctx); err != nil {
			c.logger.DebugContext(ctx, "CSRF token fetch failed, proceeding without it", "error", err)
		}
	}

	maxRetries := c.retry.MaxRetries
	if !c.retry.CanRetry(r.method) {
		maxRetries = 0
	}

	var last *response
	var lastErr error
	csrfRetried := false
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retry.CalculateBackoff(attempt - 1)
			if last != nil {
				if d, ok := RetryAfter(last.header, time.Now()); ok {
					wait = min(d, c.retry.MaxBackoff)
				}
			}
			c.logger.DebugContext(ctx, "retrying request", "attempt", attempt, "max_retries", maxRetries, "backoff", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := c.buildRequest(ctx, r)
		if err != nil {
			return nil, err
		}
		res, err := c.roundTrip(req, r.body, attempt+1)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%s: %w", constants.ErrRequestFailed, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			last = nil
			continue
		}
		last = res

		// A stale token costs one extra round trip, not a retry.
		if modifying && c.csrf && !csrfRetried && IsCSRFFailure(res.status, res.header, res.body) {
			csrfRetried = true
			c.logger.DebugContext(ctx, "CSRF token validation failed, refetching")
			if err := c.fetchCSRFToken(ctx); err != nil {
				return nil, fmt.Errorf("CSRF token required but refetch failed (HTTP %d): %w", res.status, err)
			}
			attempt--
			continue
		}

		if attempt < maxRetries && c.retry.ShouldRetry(res.status, attempt) {
			c.logger.DebugContext(ctx, "retryable status", "status", res.status)
			continue
		}
		return res, nil
	}

	if last != nil {
		return last, nil
	}
	return nil, fmt.Errorf("%s after %d attempts: %w", constants.ErrRequestFailed, maxRetries+1, lastErr)
}

// roundTrip sends one request through the circuit breaker and records it.
func (c *Client) roundTrip(req *http.Request, reqBody []byte, attempt int) (*response, error) {
	ctx := req.Context()
	start := time.Now()
	exec := func() (*response, error) {
		hr, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer hr.Body.Close()

		var r io.Reader = hr.Body
		if c.maxBody > 0 {
			r = io.LimitReader(hr.Body, c.maxBody+1)
		}
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if c.maxBody > 0 && int64(len(body)) > c.maxBody {
			return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, c.maxBody)
		}
		res := &response{status: hr.StatusCode, header: hr.Header, body: body, cookies: hr.Cookies()}
		if res.status >= 500 {
			return res, errServerStatus
		}
		return res, nil
	}

	var res *response
	var err error
	if c.breaker != nil {
		res, err = c.breaker.Execute(exec)
	} else {
		res, err = exec()
	}
	if errors.Is(err, errServerStatus) {
		err = nil
	}
	elapsed := time.Since(start)

	status := 0
	if res != nil {
		status = res.status
	}
	c.telemetry.recordRequest(ctx, req.Method, status, elapsed)
	if err != nil {
		c.logger.DebugContext(ctx, "request failed",
			"method", req.Method, "url", debug.URL(req.URL.String()), "attempt", attempt, "error", err)
	} else {
		c.logger.DebugContext(ctx, "request completed",
			"method", req.Method, "url", debug.URL(req.URL.String()), "attempt", attempt,
			"status", status, "elapsed", elapsed, "headers", debug.Headers(req.Header))
	}

	if c.tracer != nil {
		ex := debug.Exchange{
			Time:     start,
			Method:   req.Method,
			URL:      req.URL.String(),
			Attempt:  attempt,
			Status:   status,
			Duration: elapsed.Milliseconds(),
			Request:  string(reqBody),
		}
		if res != nil {
			ex.Response = string(res.body)
		}
		if err != nil {
			ex.Error = err.Error()
		}
		if terr := c.tracer.LogExchange(ex); terr != nil {
			c.logger.DebugContext(ctx, "failed to write trace entry", "error", terr)
		}
	}
	return res, err
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csrfToken
}

// fetchCSRFToken asks the service root for a token. It is never retried.
func (c *Client) fetchCSRFToken(ctx context.Context) error {
	c.mu.Lock()
	c.csrfToken = ""
	c.mu.Unlock()

	req, err := c.buildRequest(ctx, request{method: constants.GET, target: c.root + "/"})
	if err != nil {
		return err
	}
	req.Header.Set(constants.CSRFTokenHeader, constants.CSRFTokenFetch)

	res, err := c.roundTrip(req, nil, 1)
	if err != nil {
		return fmt.Errorf("%s: %w", constants.ErrCSRFTokenFailed, err)
	}
	c.storeSessionCookies(res.cookies)

	token := res.header.Get(constants.CSRFTokenHeader)
	if token == "" || strings.EqualFold(token, constants.CSRFTokenFetch) {
		return fmt.Errorf("%s: no token in response (HTTP %d)", constants.ErrCSRFTokenFailed, res.status)
	}

	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "CSRF token fetched", "token", debug.MaskToken(token), "cookies", len(res.cookies))
	return nil
}

// storeSessionCookies keeps cookies set during the token handshake,
// replacing earlier ones of the same name.
func (c *Client) storeSessionCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, nc := range cookies {
		replaced := false
		for i, oc := range c.sessionCookies {
			if oc.Name == nc.Name {
				c.sessionCookies[i] = nc
				replaced = true
				break
			}
		}
		if !replaced {
			c.sessionCookies = append(c.sessionCookies, nc)
		}
	}
}
