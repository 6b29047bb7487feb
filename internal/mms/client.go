package mms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries       = 5
	baseBackoff      = 1 * time.Second
	maxBackoff       = 60 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	maxErrorBody     = 64 << 10
	defaultUserAgent = "dngsync/0.1"

	// DefaultBatchSize bounds the elements fetched or sent per request.
	DefaultBatchSize = 100_000
)

// Credentials for HTTP Basic authentication.
type Credentials struct {
	Username string
	Password string
}

// Options configures a Client. Zero fields take defaults.
type Options struct {
	Org       string
	Project   string
	BatchSize int
	UserAgent string

	// SafeLoad lists element ids first and fetches large refs in batches.
	SafeLoad bool
}

// Client talks to one project on a model server.
type Client struct {
	service    string // <origin>/alfresco/service
	httpClient *http.Client
	creds      Credentials
	logger     *slog.Logger

	org       string
	project   string
	batchSize int
	userAgent string
	safeLoad  bool

	// sleepFunc is called to wait between retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for opts.Project on server. Only the origin
// of server is kept.
func NewClient(server string, httpClient *http.Client, creds Credentials, opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mms: invalid server URL %q", server)
	}

	if opts.Project == "" {
		return nil, errors.New("mms: empty project id")
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	return &Client{
		service:    u.Scheme + "://" + u.Host + "/alfresco/service",
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
		org:        opts.Org,
		project:    opts.Project,
		batchSize:  opts.BatchSize,
		userAgent:  opts.UserAgent,
		safeLoad:   opts.SafeLoad,
		sleepFunc:  timeSleep,
	}, nil
}

// Project returns the project id the client is bound to.
func (c *Client) Project() string {
	return c.project
}

func (c *Client) projectURL() string {
	return c.service + "/projects/" + url.PathEscape(c.project)
}

func (c *Client) refsURL() string {
	return c.projectURL() + "/refs"
}

func (c *Client) elementsURL(ref string, overwrite bool) string {
	u := c.refsURL() + "/" + url.PathEscape(ref) + "/elements"
	if overwrite {
		u += "?overwrite=true"
	}

	return u
}

// bodyFunc returns a fresh request body for each attempt. A nil bodyFunc
// sends no body.
type bodyFunc func() (io.ReadCloser, error)

func jsonBody(v any) bodyFunc {
	return func() (io.ReadCloser, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}

		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

// do executes a request, retrying network errors and retryable statuses
// with exponential backoff. The caller closes the response body.
func (c *Client) do(ctx context.Context, method, target string, body bodyFunc) (*http.Response, error) {
	var attempt int

	for {
		resp, err := c.doOnce(ctx, method, target, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("mms: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("url", target),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("mms: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("mms: %s %s failed after %d retries: %w", method, target, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("mms: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &Error{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(errBody)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method, target string, body bodyFunc) (*http.Response, error) {
	var rc io.ReadCloser

	if body != nil {
		var err error
		if rc, err = body(); err != nil {
			return nil, fmt.Errorf("preparing body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rc)
	if err != nil {
		if rc != nil {
			rc.Close()
		}

		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.SetBasicAuth(c.creds.Username, c.creds.Password)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if rc != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// getJSON fetches target and decodes the response into v.
func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("mms: decoding %s: %w", target, err)
	}

	return nil
}

// postJSON posts in as JSON and decodes the response into out. A nil out
// discards the response.
func (c *Client) postJSON(ctx context.Context, target string, in, out any) error {
	if out == nil {
		return c.send(ctx, http.MethodPost, target, jsonBody(in))
	}

	resp, err := c.do(ctx, http.MethodPost, target, jsonBody(in))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mms: decoding %s: %w", target, err)
	}

	return nil
}

// send issues a request whose response body is discarded.
func (c *Client) send(ctx context.Context, method, target string, body bodyFunc) error {
	resp, err := c.do(ctx, method, target, body)
	if err != nil {
		return err
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.Body.Close()
}

// retryBackoff honors Retry-After on 429 and 503 responses.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
