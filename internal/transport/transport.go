// Package transport performs the upstream JSON calls every source adapter
// is built on: credential headers, browser identity, proxy rotation, TLS
// fingerprinting, bot-wall detection and request metrics.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/gleaner/internal/bypass"
	"github.com/FranksOps/gleaner/internal/credential"
	"github.com/FranksOps/gleaner/internal/fingerprint"
	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/pkg/httpclient"
	"github.com/FranksOps/gleaner/pkg/proxy"
	"github.com/FranksOps/gleaner/pkg/useragent"
	"github.com/google/uuid"
)

const (
	defaultAccept         = "application/json, text/plain, */*"
	defaultAcceptLanguage = "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"
)

// Request describes one upstream call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body        any
	Credentials credential.Set
	// Source labels metrics and logs, e.g. "29cm".
	Source string
}

// Response is a fully read upstream response.
type Response struct {
	ID           string
	StatusCode   int
	Header       http.Header
	Body         []byte
	Duration     time.Duration
	DetectionSrc string
	Proxy        string
}

// UpstreamError reports a network failure or a non-2xx answer.
type UpstreamError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Detection  string
	Err        error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream %s %s", e.Method, e.URL)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
		return b.String()
	}
	fmt.Fprintf(&b, ": status %d", e.StatusCode)
	if e.Detection != "" {
		fmt.Fprintf(&b, " (%s)", e.Detection)
	}
	if body := snippet(e.Body, 200); body != "" {
		fmt.Fprintf(&b, ": %s", body)
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Doer is what source adapters need from the transport.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Config configures the upstream client.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	MaxBodyBytes int64
	ProxyPool    *proxy.Pool
	Identities   *useragent.Pool
	Rotation     useragent.Rotation
	Fingerprint  fingerprint.Profile
	Detectors    []bypass.Detector
	Logger       *slog.Logger
}

// Client is the production Doer. One Client holds a single transport so
// connections and cookies are reused across calls.
type Client struct {
	config Config
	client *httpclient.Client
	logger *slog.Logger
}

var _ Doer = (*Client)(nil)

// New builds a Client. Zero config values get defaults.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.Identities == nil {
		cfg.Identities = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileGo
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt, err := fingerprint.Transport(fingerprint.Config{
		Profile:         cfg.Fingerprint,
		Proxy:           proxy.Func(http.ProxyFromEnvironment),
		PerRequestProxy: cfg.ProxyPool != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: setup: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Transport:    rt,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: client: %w", err)
	}

	return &Client{config: cfg, client: client, logger: logger}, nil
}

// Do executes req. On a non-2xx status it returns both the response and an
// *UpstreamError; on a network failure only the error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := buildURL(req.URL, req.Query)
	if err != nil {
		return nil, &UpstreamError{Method: method, URL: req.URL, Err: err}
	}

	httpReq, err := c.newRequest(ctx, method, target, req)
	if err != nil {
		return nil, &UpstreamError{Method: method, URL: target, Err: err}
	}

	var activeProxy *url.URL
	if c.config.ProxyPool != nil {
		if activeProxy = c.config.ProxyPool.Next(); activeProxy != nil {
			ctx = proxy.WithProxy(ctx, activeProxy)
		}
	}

	res := &Response{ID: uuid.NewString()}
	if activeProxy != nil {
		res.Proxy = activeProxy.String()
	}

	raw, err := c.client.Fetch(ctx, httpReq)
	if activeProxy != nil {
		c.config.ProxyPool.Report(activeProxy, err)
		if err != nil {
			metrics.ProxyFailures.WithLabelValues(activeProxy.String()).Inc()
		}
	}
	if err != nil {
		metrics.RecordUpstream(req.Source, 0, err, "", 0, 0)
		c.logger.Debug("upstream request failed", "id", res.ID, "source", req.Source, "method", method, "url", target, "err", err)
		return nil, &UpstreamError{Method: method, URL: target, Err: err}
	}

	res.StatusCode = raw.StatusCode
	res.Header = raw.Header
	res.Body = raw.Body
	res.Duration = raw.Duration
	res.DetectionSrc, _ = bypass.Analyze(&bypass.Response{
		StatusCode: raw.StatusCode,
		Header:     raw.Header,
		Body:       raw.Body,
		FinalURL:   raw.FinalURL,
	}, c.config.Detectors)

	metrics.RecordUpstream(req.Source, res.StatusCode, nil, res.DetectionSrc, res.Duration, len(res.Body))
	c.logger.Debug("upstream request",
		"id", res.ID,
		"source", req.Source,
		"method", method,
		"url", target,
		"status", res.StatusCode,
		"bytes", len(res.Body),
		"duration", res.Duration,
	)

	if res.StatusCode < 200 || res.StatusCode > 299 || res.DetectionSrc != "" {
		return res, &UpstreamError{
			Method:     method,
			URL:        target,
			StatusCode: res.StatusCode,
			Body:       string(res.Body),
			Detection:  res.DetectionSrc,
		}
	}
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	req.Credentials.Apply(httpReq.Header)
	c.config.Identities.Next(c.config.Rotation).Apply(httpReq.Header)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", defaultAccept)
	}
	if httpReq.Header.Get("Accept-Language") == "" {
		httpReq.Header.Set("Accept-Language", defaultAcceptLanguage)
	}
	return httpReq, nil
}

func buildURL(raw string, q url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	if len(q) > 0 {
		merged := u.Query()
		for k, vs := range q {
			merged[k] = append(merged[k], vs...)
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}
