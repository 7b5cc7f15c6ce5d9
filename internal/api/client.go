package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/examlytics/examctl/internal/config"
	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/http"
	"github.com/examlytics/examctl/internal/logging"
	"github.com/examlytics/examctl/internal/ratelimit"
	"github.com/examlytics/examctl/internal/version"
)

// Authorizer attaches credentials to outgoing requests and is told about every
// 401 on an authenticated request. session.Manager implements it.
type Authorizer interface {
	Attach(req *nethttp.Request)
	HandleUnauthorized(resp *nethttp.Response)
}

// Client talks to the exam-analysis REST API.
//
// Every call is sent exactly once. A failed status query ends the tracked job
// instead of being retried, and resubmitting would re-upload the file. Reads
// and deletes go through retryablehttp with retries off so its logging and
// response classification still apply; POSTs use the plain client.
type Client struct {
	plain   *nethttp.Client
	retry   *retryablehttp.Client
	baseURL *url.URL
	auth    Authorizer
	limiter *ratelimit.RateLimiter
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRateLimiter replaces the default request budget. nil disables limiting.
func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// WithHTTPClient replaces the underlying HTTP client (tests, custom transports).
func WithHTTPClient(hc *nethttp.Client) Option {
	return func(c *Client) { c.plain = hc }
}

// NewClient creates a new API client
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("API base URL is empty - set api_base_url or EXAMCTL_API_BASE_URL")
	}
	base, err := url.Parse(strings.TrimRight(cfg.APIBaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.APIBaseURL)
	}

	c := &Client{baseURL: base, logger: logging.Nop(), limiter: ratelimit.NewAPIRateLimiter()}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter != nil {
		c.limiter.SetLogger(c.logger)
	}

	if c.plain == nil {
		c.plain, err = http.ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = c.plain
	retryClient.RetryMax = 0
	retryClient.RetryWaitMin = constants.RetryInitialDelay
	retryClient.RetryWaitMax = constants.RetryMaxDelay
	retryClient.CheckRetry = http.IdempotentRetryPolicy
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = logging.RetryLogger{L: c.logger}
	c.retry = retryClient

	return c, nil
}

// SetAuthorizer installs the session used for bearer credentials and central
// 401 handling. It must be called before authenticated requests are made.
func (c *Client) SetAuthorizer(a Authorizer) {
	c.auth = a
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ResolveURL turns a possibly relative artifact reference into an absolute URL.
func (c *Client) ResolveURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	return c.baseURL.ResolveReference(u).String(), nil
}

// SameOrigin reports whether rawURL points at the API host, i.e. whether the
// bearer credential may be sent to it.
func (c *Client) SameOrigin(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.baseURL.Scheme) && strings.EqualFold(u.Host, c.baseURL.Host)
}

// request describes one API call.
type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	public      bool // no bearer credential, no central 401 handling
	// kind for non-2xx responses; statusKind can override per status
	kind       Kind
	statusKind func(status int) (Kind, bool)
	wrapBody   func(io.Reader) io.Reader // upload progress
}

// do sends r and returns the response for 2xx statuses. Any other outcome is an
// *Error. A 401 on an authenticated request is handed to the Authorizer before
// the error is returned.
func (c *Client) do(ctx context.Context, r request) (*nethttp.Response, error) {
	requestID := uuid.New().String()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindTransport, Op: r.op, RequestID: requestID, Err: err}
		}
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
		if r.wrapBody != nil {
			body = r.wrapBody(body)
		}
	}

	endpoint := c.baseURL.String() + r.path
	req, err := nethttp.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: r.op, RequestID: requestID, Err: err}
	}
	if r.body != nil {
		req.ContentLength = int64(len(r.body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(r.body)), nil
		}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-ID", requestID)

	if !r.public && c.auth != nil {
		c.auth.Attach(req)
	}

	start := time.Now()
	var resp *nethttp.Response
	if r.method == nethttp.MethodGet || r.method == nethttp.MethodDelete {
		rreq, ferr := retryablehttp.FromRequest(req)
		if ferr != nil {
			return nil, &Error{Kind: KindTransport, Op: r.op, RequestID: requestID, Err: ferr}
		}
		resp, err = c.retry.Do(rreq)
	} else {
		resp, err = c.plain.Do(req)
	}

	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		c.logger.Debug().Str("request_id", requestID).Str("method", r.method).Str("path", r.path).
			Err(err).Msg("request failed without response")
		return nil, &Error{Kind: KindTransport, Op: r.op, RequestID: requestID, Err: err}
	}

	c.logger.Debug().Str("request_id", requestID).Str("method", r.method).Str("path", r.path).
		Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("api call")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	detail, fields := parseErrorBody(raw)

	apiErr := &Error{
		Kind:      r.kind,
		Op:        r.op,
		Status:    resp.StatusCode,
		Detail:    detail,
		Fields:    fields,
		RequestID: requestID,
	}

	if resp.StatusCode == nethttp.StatusUnauthorized {
		apiErr.Kind = KindAuth
		if !r.public && c.auth != nil {
			c.auth.HandleUnauthorized(resp)
		}
		if apiErr.Detail == "" && len(apiErr.Fields) == 0 {
			apiErr.Detail = "session expired or invalid - please log in again"
		}
		return nil, apiErr
	}

	if r.statusKind != nil {
		if k, ok := r.statusKind(resp.StatusCode); ok {
			apiErr.Kind = k
		}
	}
	if apiErr.Detail == "" && len(apiErr.Fields) == 0 {
		apiErr.Detail = fmt.Sprintf("server returned %s", nethttp.StatusText(resp.StatusCode))
	}
	return nil, apiErr
}

// doJSON sends r and decodes a 2xx body into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, r request, out interface{}) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Kind:   r.kind,
			Op:     r.op,
			Status: resp.StatusCode,
			Detail: "unexpected response from server",
			Err:    fmt.Errorf("failed to decode response: %w", err),
		}
	}
	return nil
}

func jsonBody(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return data, nil
}
