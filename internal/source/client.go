package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"eventsync/internal/syncerr"
)

const (
	// DefaultRetryAfter is used when a 429 carries no usable Retry-After header
	DefaultRetryAfter = 5 * time.Second

	// ContinuationParam is the query parameter carrying the page token
	ContinuationParam = "continuation"

	// DefaultMaxBodySize caps how much of a response body is read
	DefaultMaxBodySize = 32 << 20
)

// Options configures a Client
type Options struct {
	BaseURL string

	// Token is a bearer credential. TokenSource takes precedence when set.
	Token       string
	TokenSource oauth2.TokenSource

	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables pacing
	RateBurst int

	// MaxBodySize caps the bytes read from one response. 0 means DefaultMaxBodySize.
	MaxBodySize int64

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// Client fetches single pages from the Source API
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	maxBodySize int64
}

// NewClient creates a client. The bearer credential is attached by an oauth2 transport.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	ts := opts.TokenSource
	if ts == nil && opts.Token != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"})
	}

	transport := base
	if ts != nil {
		transport = &oauth2.Transport{Source: ts, Base: base}
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		maxBodySize: opts.MaxBodySize,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.rateLimiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Fetch issues exactly one GET for path and classifies the response.
// itemsKey names the array holding the page's items.
// Malformed success bodies come back as a protocol error, never as an Outcome.
func (c *Client) Fetch(ctx context.Context, path, itemsKey, token string) (*Outcome, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			// Wait fails early when the pacing delay would pass the deadline
			cause := ctx.Err()
			if cause == nil {
				cause = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return nil, syncerr.Cancelled(cause)
		}
	}

	resp, err := c.get(ctx, path, token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, syncerr.Cancelled(ctx.Err())
		}
		return nil, &syncerr.Error{
			Kind:    syncerr.KindSourceAPI,
			Message: "request failed",
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, syncerr.Cancelled(ctx.Err())
		}
		return nil, syncerr.Wrap(err, syncerr.KindSourceAPI, "read response body")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		page, err := ParsePage(body, itemsKey)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: Success, StatusCode: resp.StatusCode, Page: page}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Outcome{
			Kind:       RateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}, nil
	default:
		return &Outcome{
			Kind:       HardFailure,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
		}, nil
	}
}

func (c *Client) get(ctx context.Context, path, token string) (*http.Response, error) {
	reqURL := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if token != "" {
		u, err := url.Parse(reqURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse url: %w", err)
		}
		q := u.Query()
		q.Set(ContinuationParam, token)
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

func parseRetryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func errorMessage(status int, body []byte) string {
	var apiErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && strings.TrimSpace(apiErr.ErrorDescription) != "" {
		return strings.TrimSpace(apiErr.ErrorDescription)
	}
	return fmt.Sprintf("source api returned status %d", status)
}

// TokenFromFile reads an oauth2 token saved as JSON
func TokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, errors.New("token file has no access_token")
	}
	return token, nil
}
