// Package apiclient is the JSON over HTTP client shared by the REST connectors.
package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/jsonrs"
	"github.com/spec-sa/netsync/utils/httputil"
	"github.com/spec-sa/netsync/utils/misc"
)

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Auth decorates every outgoing request.
type Auth func(req *http.Request)

func BasicAuth(user, password string) Auth {
	return func(req *http.Request) {
		req.SetBasicAuth(user, password)
	}
}

func Header(name, value string) Auth {
	return func(req *http.Request) {
		req.Header.Set(name, value)
	}
}

func Bearer(token string) Auth {
	return Header("Authorization", "Bearer "+token)
}

type Client struct {
	baseURL *url.URL
	http    *retryablehttp.Client
	auth    []Auth

	maxErrorBody int
}

type Opt func(*Client)

func WithAuth(auth ...Auth) Opt {
	return func(c *Client) {
		c.auth = append(c.auth, auth...)
	}
}

func WithRetry(retryMax int, waitMin, waitMax time.Duration) Opt {
	return func(c *Client) {
		c.http.RetryMax = retryMax
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

func WithTimeout(timeout time.Duration) Opt {
	return func(c *Client) {
		c.http.HTTPClient.Timeout = timeout
	}
}

func WithLogger(log logger.Logger) Opt {
	return func(c *Client) {
		c.http.Logger = leveledLogger{log: log}
	}
}

// FromConfig reads the HTTP client settings shared by every connector.
func FromConfig(conf *config.Config, log logger.Logger) []Opt {
	return []Opt{
		WithRetry(
			conf.GetIntVar(3, 1, "NetSync.HTTP.retryMax"),
			conf.GetDurationVar(1, time.Second, "NetSync.HTTP.retryWaitMin"),
			conf.GetDurationVar(30, time.Second, "NetSync.HTTP.retryWaitMax"),
		),
		WithTimeout(conf.GetDurationVar(60, time.Second, "NetSync.HTTP.timeout")),
		WithLogger(log),
	}
}

// New returns a client resolving request paths against baseURL.
func New(baseURL string, opts ...Opt) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	httpClient.CheckRetry = checkRetry

	c := &Client{
		baseURL:      u,
		http:         httpClient,
		maxErrorBody: 512,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// checkRetry retries transport errors and retriable statuses until ctx is done.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return httputil.RetriableStatus(resp.StatusCode), nil
}

// SetAuth replaces the request decorators, e.g. once a session token is known.
func (c *Client) SetAuth(auth ...Auth) {
	c.auth = auth
}

// Do sends body encoded as JSON and returns the raw response body. A []byte
// body is sent untouched.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing path %q: %w", path, err)
	}
	u := c.baseURL.ResolveReference(ref)
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var payload io.Reader
	if body != nil {
		raw, ok := body.([]byte)
		if !ok {
			if raw, err = jsonrs.Marshal(body); err != nil {
				return nil, fmt.Errorf("marshalling request body: %w", err)
			}
		}
		payload = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), payload)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, auth := range c.auth {
		auth(req.Request)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Redacted(), err)
	}
	defer httputil.CloseResponse(resp)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", method, u.Redacted(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method: method,
			URL:    u.Redacted(),
			Code:   resp.StatusCode,
			Body:   misc.TruncateStr(string(respBody), c.maxErrorBody),
		}
	}
	return respBody, nil
}

// JSON sends the request and parses the response body.
func (c *Client) JSON(ctx context.Context, method, path string, query url.Values, body any) (gjson.Result, error) {
	raw, err := c.Do(ctx, method, path, query, body)
	if err != nil {
		return gjson.Result{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%s %s: invalid json response", method, path)
	}
	return gjson.ParseBytes(raw), nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	return c.JSON(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (gjson.Result, error) {
	return c.JSON(ctx, http.MethodPost, path, nil, body)
}

// Query encodes extra method parameters as query string values. Nil values
// are left out.
func Query(params map[string]any) url.Values {
	query := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		if list, ok := v.([]any); ok {
			for _, item := range list {
				query.Add(k, cast.ToString(item))
			}
			continue
		}
		query.Set(k, cast.ToString(v))
	}
	return query
}

// Records decodes the array found at path. An empty path reads the whole document.
func Records(result gjson.Result, path string) ([]map[string]any, error) {
	if path != "" {
		result = result.Get(path)
	}
	if !result.Exists() || result.Type == gjson.Null {
		return nil, nil
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("%q: expected an array, got %s", path, result.Type)
	}

	var records []map[string]any
	if err := jsonrs.Unmarshal([]byte(result.Raw), &records); err != nil {
		return nil, fmt.Errorf("%q: decoding records: %w", path, err)
	}
	return records, nil
}

// Paginate fetches the first page and, when all is set, every following page
// up to the page count reported by the first one.
func Paginate(
	ctx context.Context,
	all bool,
	fetch func(ctx context.Context, page int) (records []map[string]any, pages int, err error),
) ([]map[string]any, error) {
	records, pages, err := fetch(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("fetching page 1: %w", err)
	}
	if !all {
		return records, nil
	}
	for page := 2; page <= pages; page++ {
		more, _, err := fetch(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", page, err)
		}
		records = append(records, more...)
	}
	return records, nil
}

type leveledLogger struct {
	log logger.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...any) { l.log.Errorw(msg, keysAndValues...) }
func (l leveledLogger) Info(msg string, keysAndValues ...any)  { l.log.Infow(msg, keysAndValues...) }
func (l leveledLogger) Debug(msg string, keysAndValues ...any) { l.log.Debugw(msg, keysAndValues...) }
func (l leveledLogger) Warn(msg string, keysAndValues ...any)  { l.log.Warnw(msg, keysAndValues...) }
