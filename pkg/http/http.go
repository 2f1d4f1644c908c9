package http

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NamanBalaji/segdl/internal/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	DefaultUserAgent = "segdl/1.0"

	defaultDownloadName = "download"
)

type Client struct {
	*http.Client
	userAgent      string
	connectTimeout time.Duration
	readTimeout    time.Duration
}

type clientConfig struct {
	userAgent       string
	protocolVersion string
	tls             *TLSOptions
	connectTimeout  time.Duration
	readTimeout     time.Duration
}

// Option configures a Client.
type Option func(*clientConfig)

func WithUserAgent(ua string) Option {
	return func(c *clientConfig) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithProtocolVersion pins the HTTP version ("1.1", "2.0", "http/1.1", ...).
func WithProtocolVersion(v string) Option {
	return func(c *clientConfig) {
		c.protocolVersion = v
	}
}

func WithTLS(opts *TLSOptions) Option {
	return func(c *clientConfig) {
		c.tls = opts
	}
}

// WithConnectTimeout bounds dialing, response headers and the preflight requests.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithReadTimeout aborts a streamed body that delivers no bytes for d. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.readTimeout = d
	}
}

// NewClient creates a new HTTP client with custom transport settings.
func NewClient(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		userAgent:      DefaultUserAgent,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tlsConfig, err := cfg.tls.config()
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.connectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		ResponseHeaderTimeout: cfg.connectTimeout,
		DisableCompression:    true,
		MaxConnsPerHost:       maxConnsPerHost,
	}

	if cfg.protocolVersion != "" {
		major, _, err := ParseProtocolVersion(cfg.protocolVersion)
		if err != nil {
			return nil, err
		}

		if major == 2 {
			transport.ForceAttemptHTTP2 = true
		} else {
			// A non-nil empty map disables the HTTP/2 upgrade.
			transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		}
	}

	logger.Debugf("HTTP client created: userAgent=%s protocol=%q connectTimeout=%v readTimeout=%v",
		cfg.userAgent, cfg.protocolVersion, cfg.connectTimeout, cfg.readTimeout)

	return &Client{
		Client:         &http.Client{Transport: transport},
		userAgent:      cfg.userAgent,
		connectTimeout: cfg.connectTimeout,
		readTimeout:    cfg.readTimeout,
	}, nil
}

// Options performs an OPTIONS request. The body is closed before returning.
func (c *Client) Options(ctx context.Context, urlStr string, headers map[string]string) (*http.Response, error) {
	return c.probe(ctx, http.MethodOptions, urlStr, headers)
}

// Head performs a HEAD request to the specified URL with optional headers.
func (c *Client) Head(ctx context.Context, urlStr string, headers map[string]string) (*http.Response, error) {
	return c.probe(ctx, http.MethodHead, urlStr, headers)
}

func (c *Client) probe(ctx context.Context, method, urlStr string, headers map[string]string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	req, err := c.generateRequest(ctx, urlStr, method, headers)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Sending %s request to %s", method, req.URL.Redacted())

	resp, err := c.Do(req)
	if err != nil {
		logger.Debugf("%s request failed for %s: %v", method, req.URL.Redacted(), err)
		return nil, ClassifyError(err)
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	closeBody(resp)

	logger.Debugf("%s response for %s: status=%d", method, req.URL.Redacted(), resp.StatusCode)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newStatusError(resp)
	}

	return resp, nil
}

// Range performs a Range GET request for the inclusive byte range [start, end]
// and fails with ErrRangesNotSupported unless the server answers 206.
func (c *Client) Range(ctx context.Context, urlStr string, start, end int64, headers map[string]string) (*http.Response, error) {
	req, err := c.generateRequest(ctx, urlStr, http.MethodGet, headers)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	logger.Debugf("Sending Range GET request to %s (bytes=%d-%d)", req.URL.Redacted(), start, end)

	resp, err := c.Do(req)
	if err != nil {
		logger.Debugf("Range GET request failed for %s: %v", req.URL.Redacted(), err)
		return nil, ClassifyError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		closeBody(resp)
		return nil, newStatusError(resp)
	}

	if resp.StatusCode != http.StatusPartialContent {
		logger.Debugf("Server doesn't support ranges for %s (status: %d)", req.URL.Redacted(), resp.StatusCode)
		closeBody(resp)
		return nil, ErrRangesNotSupported
	}

	return resp, nil
}

// Get performs a GET request to the specified URL.
func (c *Client) Get(ctx context.Context, urlStr string, headers map[string]string) (*http.Response, error) {
	return c.Stream(ctx, urlStr, 0, 0, headers)
}

// Stream opens the half-open byte range [start, end); end 0 means to the end of the
// resource. A server that ignores the Range header and answers 200 has its first
// start bytes discarded so the body always begins at start.
func (c *Client) Stream(ctx context.Context, urlStr string, start, end int64, headers map[string]string) (*http.Response, error) {
	var cancel context.CancelFunc = func() {}
	if c.readTimeout > 0 {
		ctx, cancel = context.WithCancel(ctx)
	}

	req, err := c.generateRequest(ctx, urlStr, http.MethodGet, headers)
	if err != nil {
		cancel()
		return nil, err
	}

	switch {
	case end > 0:
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	case start > 0:
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := c.Do(req)
	if err != nil {
		cancel()
		logger.Debugf("GET request failed for %s: %v", req.URL.Redacted(), err)
		return nil, ClassifyError(err)
	}

	logger.Debugf("GET response for %s: status=%d range=%q", req.URL.Redacted(), resp.StatusCode, req.Header.Get("Range"))

	if resp.StatusCode >= http.StatusBadRequest {
		cancel()
		closeBody(resp)
		return nil, newStatusError(resp)
	}

	if c.readTimeout > 0 {
		resp.Body = newIdleTimeoutBody(resp.Body, c.readTimeout, cancel)
	}

	if resp.StatusCode == http.StatusOK && start > 0 {
		logger.Debugf("Server ignored range for %s, skipping %d bytes", req.URL.Redacted(), start)

		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			closeBody(resp)
			return nil, ClassifyError(err)
		}
	}

	return resp, nil
}

// generateRequest creates a new HTTP request with the specified method and URL.
func (c *Client) generateRequest(ctx context.Context, urlStr, method string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, http.NoBody)
	if err != nil {
		logger.Errorf("Failed to create %s request: %v", method, err)
		return nil, ErrRequestCreation
	}

	req.Header.Set("User-Agent", c.userAgent)

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Warnf("Failed to close response body: %v", err)
	}
}

// BasicAuthorization returns the value of an Authorization header for basic auth.
func BasicAuthorization(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

type idleTimeoutBody struct {
	body    io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
	stalled atomic.Bool
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{body: body, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.stalled.Store(true)
		cancel()
	})

	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if b.stalled.Load() {
		return n, ErrReadStalled
	}

	b.timer.Reset(b.timeout)

	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	b.cancel()

	return b.body.Close()
}

// ParseContentRangeTotal returns the complete length from a "bytes a-b/total" header.
func ParseContentRangeTotal(header string) (int64, error) {
	_, total, ok := strings.Cut(header, "/")
	if !ok || !strings.HasPrefix(header, "bytes ") {
		return 0, ErrInvalidContentRange
	}

	size, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil || size < 0 {
		return 0, ErrInvalidContentRange
	}

	return size, nil
}

// GetFilename tries extracts the filename from the Content-Disposition header or the URL.
func GetFilename(resp *http.Response) string {
	fileName, ok := getFileNameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if ok {
		return fileName
	}

	return FilenameFromURL(resp.Request.URL)
}

// FilenameFromURL derives a file name from a filename query parameter or the last path element.
func FilenameFromURL(u *url.URL) string {
	if qname := u.Query().Get("filename"); qname != "" {
		return qname
	}

	base := path.Base(u.Path)
	if base != "" && base != "/" && base != "." {
		return base
	}

	return defaultDownloadName
}

func getFileNameFromContentDisposition(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	if _, params, err := mime.ParseMediaType(header); err == nil {
		if fName, ok := params["filename"]; ok {
			return fName, true
		}

		if fName, ok := params["filename*"]; ok {
			return fName, true
		}
	}

	return "", false
}

// ParseLastModified parses the Last-Modified header.
func ParseLastModified(header string) time.Time {
	if header == "" {
		return time.Time{}
	}

	// Try to parse the header (RFC1123 format)
	t, err := time.Parse(time.RFC1123, header)
	if err != nil {
		logger.Debugf("Failed to parse Last-Modified header: %s, error: %v", header, err)
		return time.Time{}
	}

	return t
}
