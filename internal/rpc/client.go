// Package rpc is the transport to an ALM server: service discovery from the
// published listing, JSON operation calls against named service endpoints,
// and authenticated side-channel downloads. Requests share a rate limiter;
// only idempotent reads are retried.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ServicesPath is the path of the service listing below the server base URL.
const ServicesPath = "/ws/services"

// SessionHeader carries the session token on every call except those to the
// Session service.
const SessionHeader = "X-Session-ID"

// ServiceSuffix is appended to a service name to form its endpoint.
const ServiceSuffix = "WebService"

var servicePattern = regexp.MustCompile(`(\w+)` + ServiceSuffix)

// Config configures the transport.
type Config struct {
	// BaseURL is the server base URL; ServicesPath is appended to it.
	BaseURL string

	// Timeout bounds each request. Zero means none.
	Timeout time.Duration

	// MaxRetries bounds retries of read requests (default 3).
	MaxRetries int

	// RateLimit in requests per second; zero disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst size (default 5).
	RateBurst int

	// UserAgent string (default "almsync/1.0").
	UserAgent string

	// Transport allows injecting a custom round tripper (for tests).
	Transport http.RoundTripper
}

// Client is a rate-limited transport to one ALM server.
type Client struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a Client, filling defaults into config.
func NewClient(config Config) *Client {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateBurst == 0 {
		config.RateBurst = 5
	}
	if config.UserAgent == "" {
		config.UserAgent = "almsync/1.0"
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		rateLimiter: rate.NewLimiter(limit, config.RateBurst),
	}
}

// BaseURL returns the normalized server base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Endpoint returns the URL of the named service.
func (c *Client) Endpoint(service string) string {
	return c.config.BaseURL + ServicesPath + "/" + service + ServiceSuffix
}

// Discover fetches the service listing and returns every service name it
// mentions, in order of first appearance.
func (c *Client) Discover(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, c.config.BaseURL+ServicesPath, NoAuth{})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}

	var names []string
	seen := make(map[string]bool)
	for _, m := range servicePattern.FindAllStringSubmatch(string(body), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names, nil
}

// request is the body of an operation call.
type request struct {
	Operation string `json:"operation"`
	Params    []any  `json:"params"`
}

// response is the body of an operation reply.
type response struct {
	Result json.RawMessage `json:"result"`
	Fault  *Fault          `json:"fault"`
}

// Call invokes operation on service and returns the raw result. A non-empty
// session is sent in SessionHeader. Calls are never retried.
func (c *Client) Call(ctx context.Context, service, operation, session string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(request{Operation: operation, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s.%s: %w", service, operation, err)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(service), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", service, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var out response
	decodeErr := json.Unmarshal(body, &out)
	if resp.StatusCode >= 300 || out.Fault != nil {
		if decodeErr == nil && out.Fault != nil {
			out.Fault.Service = service
			out.Fault.Operation = operation
			out.Fault.StatusCode = resp.StatusCode
			return nil, out.Fault
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s.%s reply: %w", service, operation, decodeErr)
	}
	return out.Result, nil
}

// Download fetches target with auth applied. A relative target is resolved
// against the base URL.
func (c *Client) Download(ctx context.Context, target string, auth Auth) ([]byte, error) {
	u, err := c.resolve(target)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, u, auth)
}

func (c *Client) resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if ref.IsAbs() {
		return target, nil
	}
	base, err := url.Parse(c.config.BaseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(ref.Path, "/"), RawQuery: ref.RawQuery}).String(), nil
}

// get performs a GET with rate limiting and exponential backoff on 429/5xx.
func (c *Client) get(ctx context.Context, target string, auth Auth) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		body, err := c.getOnce(ctx, target, auth)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) getOnce(ctx context.Context, target string, auth Auth) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if auth != nil {
		auth.Apply(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
