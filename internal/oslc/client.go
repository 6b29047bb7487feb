package oslc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/openmbee/dngsync/internal/triple"
)

const (
	defaultUserAgent = "dngsync/0.1"
	acceptRDF        = "application/rdf+xml, text/turtle;q=0.9, application/n-triples;q=0.8"
	maxErrorBody     = 64 << 10

	// contextParam is the query parameter the server appends to resource
	// IRIs served under a configuration context.
	contextParam = "oslc_config.context"
)

// Credentials for the form-login session.
type Credentials struct {
	Username string
	Password string
}

// Client talks to one requirements server. Its zero configuration context
// reads the live stream head; WithConfiguration returns a copy scoped to a
// baseline or stream.
type Client struct {
	origin     string
	httpClient *http.Client
	creds      Credentials
	logger     *slog.Logger
	userAgent  string

	// configuration is the configuration URI sent with every fetch, or "".
	configuration string
}

// NewHTTPClient builds the transport used for the source session: a cookie
// jar holding the login session, a dial timeout and a response-header
// timeout. Bodies are streamed, so there is no whole-request timeout.
func NewHTTPClient(connectTimeout, dataTimeout time.Duration, maxSockets int) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("oslc: creating cookie jar: %w", err)
	}

	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       maxSockets,
		MaxIdleConnsPerHost:   maxSockets,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: dataTimeout,
	}

	return &http.Client{Transport: transport, Jar: jar}, nil
}

// NewClient creates a source client. server may carry a path; only its
// origin is kept.
func NewClient(server string, httpClient *http.Client, creds Credentials, logger *slog.Logger, userAgent string) (*Client, error) {
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("oslc: invalid server URL %q", server)
	}

	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		origin:     u.Scheme + "://" + u.Host,
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// Origin returns scheme://host of the server. The crawler never leaves it.
func (c *Client) Origin() string {
	return c.origin
}

// Configuration returns the configuration URI this client reads under.
func (c *Client) Configuration() string {
	return c.configuration
}

// WithConfiguration returns a client sharing the session that reads every
// resource as of the given baseline or stream.
func (c *Client) WithConfiguration(configURI string) *Client {
	cp := *c
	cp.configuration = configURI

	return &cp
}

// Authenticate starts a session and submits the form login. The session
// cookie lands in the HTTP client's jar.
func (c *Client) Authenticate(ctx context.Context) error {
	start := c.origin + "/rm/loginRedirect?redirect=" + url.QueryEscape(c.origin+"/rm")

	resp, err := c.do(ctx, http.MethodGet, start, nil, map[string]string{"Accept": "text/html"})
	if err != nil {
		return fmt.Errorf("oslc: starting session: %w", err)
	}

	drain(resp.Body)

	form := url.Values{
		"j_username": {c.creds.Username},
		"j_password": {c.creds.Password},
	}

	resp, err = c.do(ctx, http.MethodPost, c.origin+"/jts/auth/j_security_check",
		strings.NewReader(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded", "Accept": "text/html"})
	if err != nil {
		return fmt.Errorf("oslc: submitting login: %w", err)
	}
	defer resp.Body.Close()

	body := readLimited(resp.Body)

	if resp.Header.Get("X-com-ibm-team-repository-web-auth-msg") == "authfailed" {
		return fmt.Errorf("%w for user %q", ErrAuthFailed, c.creds.Username)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.httpError(resp, start, body)
	}

	c.logger.Info("authenticated", slog.String("server", c.origin), slog.String("user", c.creds.Username))

	return nil
}

// Fetch requests an RDF resource and returns its triples as a stream. The
// caller must Close the stream. Non-RDF content yields *SkipError, non-2xx
// responses *HTTPError; transport failures are returned as-is so that
// IsTransient can classify them.
func (c *Client) Fetch(ctx context.Context, uri string) (triple.Stream, error) {
	resp, err := c.do(ctx, http.MethodGet, uri, nil, map[string]string{"Accept": acceptRDF})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body := readLimited(resp.Body)
		resp.Body.Close()

		return nil, c.httpError(resp, uri, body)
	}

	ct := resp.Header.Get("Content-Type")

	if format, ok := triple.FormatForContentType(ct); ok {
		var s triple.Stream = triple.NewDecoder(resp.Body, format, resp.Body)
		if c.configuration != "" {
			s = &decontextStream{Stream: s}
		}

		return s, nil
	}

	if strings.HasPrefix(strings.ToLower(ct), "text/html") {
		body := readLimited(resp.Body)
		c.logger.Debug("html response",
			slog.String("url", uri),
			slog.Int("status", resp.StatusCode),
			slog.String("body", body),
		)
	}

	resp.Body.Close()

	return nil, &SkipError{URL: uri, ContentType: ct}
}

// Load fetches a resource fully into memory.
func (c *Client) Load(ctx context.Context, uri string) (*triple.Graph, error) {
	s, err := c.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}

	ts, err := triple.Collect(s)
	if err != nil {
		return nil, fmt.Errorf("oslc: reading <%s>: %w", uri, err)
	}

	return triple.NewGraph(ts), nil
}

// do executes a single request against an absolute or origin-relative URL.
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*http.Response, error) {
	target := rawURL
	if strings.HasPrefix(rawURL, "/") {
		target = c.origin + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("oslc: creating request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("OSLC-Core-Version", "2.0")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.configuration != "" {
		req.Header.Set("Configuration-Context", c.configuration)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("response",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
	)

	return resp, nil
}

func (c *Client) httpError(resp *http.Response, uri, body string) *HTTPError {
	return &HTTPError{
		URL:        uri,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Err:        classifyStatus(resp.StatusCode),
	}
}

func readLimited(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "(failed to read response body)"
	}

	return string(b)
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxErrorBody))
	rc.Close()
}

// decontextStream strips the configuration-context parameter from IRIs so
// that the same resource reads identically under every configuration.
type decontextStream struct {
	triple.Stream
}

func (s *decontextStream) Next() (triple.Triple, error) {
	t, err := s.Stream.Next()
	if err != nil {
		return t, err
	}

	t.Subject = Decontextualize(t.Subject)
	t.Object = Decontextualize(t.Object)

	return t, nil
}

// Decontextualize removes the oslc_config.context query parameter from an
// IRI term. Other terms are returned unchanged.
func Decontextualize(t triple.Term) triple.Term {
	if !t.IsIRI() || !strings.Contains(t.Value, contextParam) {
		return t
	}

	u, err := url.Parse(t.Value)
	if err != nil {
		return t
	}

	q := u.Query()
	q.Del(contextParam)
	u.RawQuery = q.Encode()

	return triple.IRI(u.String())
}
