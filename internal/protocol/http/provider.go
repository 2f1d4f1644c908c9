package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NamanBalaji/segdl/internal/errors"
	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/protocol"
	httpclient "github.com/NamanBalaji/segdl/pkg/http"
)

// Config holds the defaults used by every location that carries no override.
type Config struct {
	UserAgent       string
	ProtocolVersion string
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	Transport       *protocol.TransportSecurity
}

// Provider implements protocol.Provider for http and https locations.
type Provider struct {
	cfg  Config
	base *httpclient.Client

	mu      sync.Mutex
	clients map[*protocol.ResourceLocation]*httpclient.Client
}

// New builds the provider and its default client.
func New(cfg Config) (*Provider, error) {
	base, err := newClient(cfg, cfg.Transport, cfg.ProtocolVersion)
	if err != nil {
		return nil, err
	}

	return &Provider{
		cfg:     cfg,
		base:    base,
		clients: make(map[*protocol.ResourceLocation]*httpclient.Client),
	}, nil
}

func newClient(cfg Config, ts *protocol.TransportSecurity, version string) (*httpclient.Client, error) {
	opts := []httpclient.Option{
		httpclient.WithUserAgent(cfg.UserAgent),
		httpclient.WithConnectTimeout(cfg.ConnectTimeout),
		httpclient.WithReadTimeout(cfg.ReadTimeout),
		httpclient.WithProtocolVersion(version),
	}

	if ts != nil {
		minVersion, err := ts.TLSMinVersion()
		if err != nil {
			return nil, errors.NewConfigurationError(err, "tls")
		}

		opts = append(opts, httpclient.WithTLS(&httpclient.TLSOptions{
			SkipVerify: ts.SkipVerify,
			CAFile:     ts.CAFile,
			CADir:      ts.CADir,
			MinVersion: minVersion,
		}))
	}

	return httpclient.NewClient(opts...)
}

// clientFor returns the default client unless loc overrides transport settings,
// in which case a dedicated client is built once and cached by location identity.
func (p *Provider) clientFor(loc *protocol.ResourceLocation) (*httpclient.Client, error) {
	if loc.Transport == nil && loc.ProtocolVersion == "" {
		return p.base, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[loc]; ok {
		return c, nil
	}

	ts := loc.Transport
	if ts == nil {
		ts = p.cfg.Transport
	}

	version := loc.ProtocolVersion
	if version == "" {
		version = p.cfg.ProtocolVersion
	}

	c, err := newClient(p.cfg, ts, version)
	if err != nil {
		return nil, classifyError(err, loc.String())
	}

	p.clients[loc] = c

	return c, nil
}

func headers(loc *protocol.ResourceLocation) map[string]string {
	if !loc.Authenticate {
		return nil
	}

	return map[string]string{"Authorization": httpclient.BasicAuthorization(loc.Username, loc.Password)}
}

// RemoteFileInfo probes with OPTIONS, then HEAD, then a one-byte range request and
// finally a plain GET whose body is handed back as the stream for offset 0.
func (p *Provider) RemoteFileInfo(ctx context.Context, loc *protocol.ResourceLocation) (protocol.RemoteFileInfo, io.ReadCloser, error) {
	client, err := p.clientFor(loc)
	if err != nil {
		return protocol.RemoteFileInfo{}, nil, err
	}

	urlStr := loc.URL.String()
	hdrs := headers(loc)

	resp, err := client.Options(ctx, urlStr, hdrs)
	switch {
	case err == nil && resp.ContentLength > 0:
		logger.Debugf("OPTIONS preflight succeeded for %s", loc)
		return infoFrom(resp, resp.ContentLength, acceptsRanges(resp), false), nil, nil
	case err != nil && !optionsFallback(err):
		return protocol.RemoteFileInfo{}, nil, classifyError(err, loc.String())
	}

	needsAuth := wantsAuth(err)
	logger.Debugf("OPTIONS preflight unusable for %s (%v), trying HEAD", loc, err)

	resp, err = client.Head(ctx, urlStr, hdrs)
	if err == nil && resp.ContentLength >= 0 {
		return infoFrom(resp, resp.ContentLength, acceptsRanges(resp), needsAuth), nil, nil
	}

	if err != nil && !httpclient.IsFallbackError(err) {
		return protocol.RemoteFileInfo{}, nil, classifyError(err, loc.String())
	}

	logger.Debugf("HEAD preflight unusable for %s (%v), trying range request", loc, err)

	resp, err = client.Range(ctx, urlStr, 0, 0, hdrs)
	if err == nil {
		closeBody(resp)

		size, perr := httpclient.ParseContentRangeTotal(resp.Header.Get("Content-Range"))
		if perr == nil {
			return infoFrom(resp, size, true, needsAuth), nil, nil
		}

		err = perr
	}

	if !httpclient.IsFallbackError(err) && !errors.Is(err, httpclient.ErrInvalidContentRange) {
		return protocol.RemoteFileInfo{}, nil, classifyError(err, loc.String())
	}

	logger.Debugf("Range preflight unusable for %s (%v), falling back to GET", loc, err)

	resp, err = client.Get(ctx, urlStr, hdrs)
	if err != nil {
		return protocol.RemoteFileInfo{}, nil, classifyError(err, loc.String())
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	return infoFrom(resp, size, false, needsAuth), resp.Body, nil
}

// OpenStream opens [start, end) of loc; end 0 reads to the end of the resource.
func (p *Provider) OpenStream(ctx context.Context, loc *protocol.ResourceLocation, start, end int64) (io.ReadCloser, error) {
	client, err := p.clientFor(loc)
	if err != nil {
		return nil, err
	}

	resp, err := client.Stream(ctx, loc.URL.String(), start, end, headers(loc))
	if err != nil {
		return nil, classifyError(err, loc.String())
	}

	return resp.Body, nil
}

func optionsFallback(err error) bool {
	code, ok := httpclient.StatusCode(err)
	if !ok {
		return false
	}

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	default:
		return false
	}
}

func wantsAuth(err error) bool {
	var se *httpclient.StatusError
	return errors.As(err, &se) && se.Header.Get("WWW-Authenticate") != ""
}

func acceptsRanges(resp *http.Response) bool {
	for _, v := range resp.Header.Values("Accept-Ranges") {
		for _, unit := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(unit), "bytes") {
				return true
			}
		}
	}

	return false
}

func infoFrom(resp *http.Response, size int64, ranges, needsAuth bool) protocol.RemoteFileInfo {
	return protocol.RemoteFileInfo{
		Size:         size,
		AcceptRanges: ranges,
		LastModified: httpclient.ParseLastModified(resp.Header.Get("Last-Modified")),
		MimeType:     resp.Header.Get("Content-Type"),
		NeedsAuth:    needsAuth || resp.Header.Get("WWW-Authenticate") != "",
		Filename:     httpclient.GetFilename(resp),
	}
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Warnf("Failed to close response body: %v", err)
	}
}
