package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/NamanBalaji/segdl/internal/config"
	"github.com/NamanBalaji/segdl/internal/downloader"
	"github.com/NamanBalaji/segdl/internal/errors"
	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/protocol"
	"github.com/NamanBalaji/segdl/internal/protocol/factory"
	httpProvider "github.com/NamanBalaji/segdl/internal/protocol/http"
	"github.com/NamanBalaji/segdl/internal/repository"
	"github.com/NamanBalaji/segdl/internal/status"
	httpclient "github.com/NamanBalaji/segdl/pkg/http"
)

var (
	// ErrDownloadNotFound is returned when a download cannot be found
	ErrDownloadNotFound = errors.New("download not found")

	// ErrEmptyURL is returned for a request without a URL
	ErrEmptyURL = errors.New("URL is required")
)

const minBurst = 64 * 1024

// Request describes one download to run.
type Request struct {
	URL      string
	Mirrors  []string
	Output   string // empty derives a name from the URL inside the download directory
	Username string
	Password string
}

// Result is the outcome of one request.
type Result struct {
	ID          uuid.UUID
	URL         string
	Path        string
	State       status.DownloadState
	Size        int64
	Transferred int64
	Failed      int
	Err         error
	Elapsed     time.Duration
}

// Engine runs several downloads at once. Downloads share one provider registry,
// one segment worker budget and one bandwidth limiter.
type Engine struct {
	cfg       *config.Config
	factory   protocol.Factory
	providers *factory.Providers
	repo      repository.Repository
	budget    *semaphore.Weighted
	limiter   *rate.Limiter

	mu        sync.RWMutex
	downloads map[uuid.UUID]*downloader.Downloader
}

type Option func(*Engine)

// WithRepository records the outcome of every download.
func WithRepository(repo repository.Repository) Option {
	return func(e *Engine) {
		e.repo = repo
	}
}

// WithProviderFactory replaces the built-in providers.
func WithProviderFactory(f protocol.Factory) Option {
	return func(e *Engine) {
		e.factory = f
	}
}

// New creates a new Engine instance
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}

	e := &Engine{
		cfg:       cfg,
		downloads: make(map[uuid.UUID]*downloader.Downloader),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.factory == nil {
		httpCfg := httpProvider.Config{}
		if cfg.Http != nil {
			httpCfg = httpProvider.Config{
				UserAgent:       cfg.Http.UserAgent,
				ProtocolVersion: cfg.Http.ProtocolVersion,
				ConnectTimeout:  cfg.Http.ConnectTimeout,
				ReadTimeout:     cfg.Http.ReadTimeout,
				Transport:       cfg.Http.TLS,
			}
		}

		providers, err := factory.NewDefault(factory.Options{HTTP: httpCfg, S3Profile: cfg.S3Profile})
		if err != nil {
			return nil, fmt.Errorf("failed to set up providers: %w", err)
		}

		e.providers = providers
		e.factory = providers
	}

	if cfg.WorkerBudget > 0 {
		e.budget = semaphore.NewWeighted(int64(cfg.WorkerBudget))
	}

	if cfg.BandwidthLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.BandwidthLimit), int(max(cfg.BandwidthLimit, minBurst)))
	}

	return e, nil
}

// Add creates a Downloader for req without starting it.
func (e *Engine) Add(req Request) (*downloader.Downloader, error) {
	if req.URL == "" {
		return nil, errors.NewConfigurationError(ErrEmptyURL, "")
	}

	var locOpts []protocol.LocationOption
	if req.Username != "" || req.Password != "" {
		locOpts = append(locOpts, protocol.WithCredentials(req.Username, req.Password))
	}

	loc, err := protocol.NewLocation(req.URL, locOpts...)
	if err != nil {
		return nil, err
	}

	mirrors := make([]*protocol.ResourceLocation, 0, len(req.Mirrors))
	for _, raw := range req.Mirrors {
		m, err := protocol.NewLocation(raw)
		if err != nil {
			return nil, err
		}

		mirrors = append(mirrors, m)
	}

	output := req.Output
	if output == "" {
		output = filepath.Join(e.cfg.DownloadDir, httpclient.FilenameFromURL(loc.URL))
	}

	opts := []downloader.Option{
		downloader.WithProviderFactory(e.factory),
		downloader.WithMirrors(mirrors...),
		downloader.WithMaxRetries(e.cfg.MaxRetries),
	}

	if e.cfg.Segments > 0 {
		opts = append(opts, downloader.WithSegmentCount(e.cfg.Segments))
	}

	if e.cfg.RetryDelay > 0 {
		opts = append(opts, downloader.WithRetryDelay(e.cfg.RetryDelay))
	}

	if e.cfg.SplitThreshold > 0 {
		opts = append(opts, downloader.WithSplitThreshold(e.cfg.SplitThreshold))
	}

	if e.budget != nil {
		opts = append(opts, downloader.WithWorkerBudget(e.budget))
	}

	if e.limiter != nil {
		opts = append(opts, downloader.WithRateLimiter(e.limiter))
	}

	d, err := downloader.New(loc, output, opts...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.downloads[d.ID()] = d
	e.mu.Unlock()

	logger.Infof("Added download %s: %s -> %s", d.ID(), loc, output)

	return d, nil
}

// Get returns a download added to this engine.
func (e *Engine) Get(id uuid.UUID) (*downloader.Downloader, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.downloads[id]
	if !ok {
		return nil, ErrDownloadNotFound
	}

	return d, nil
}

// List returns every download added to this engine.
func (e *Engine) List() []*downloader.Downloader {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*downloader.Downloader, 0, len(e.downloads))
	for _, d := range e.downloads {
		out = append(out, d)
	}

	return out
}

// Run downloads every request, at most MaxConcurrentDownloads at a time, and
// returns one result per request in order. Canceling ctx pauses running downloads.
func (e *Engine) Run(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.MaxConcurrentDownloads > 0 {
		g.SetLimit(e.cfg.MaxConcurrentDownloads)
	}

	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.runOne(gctx, req)
			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (e *Engine) runOne(ctx context.Context, req Request) Result {
	res := Result{URL: req.URL}

	d, err := e.Add(req)
	if err != nil {
		res.Err = err
		return res
	}

	res.ID = d.ID()
	started := time.Now()

	if err := d.Start(); err != nil {
		res.State = d.State()
		res.Err = err
		e.record(d, started, err)

		return res
	}

	state, err := d.Wait(ctx)
	if ctx.Err() != nil {
		logger.Infof("Pausing download %s: %v", d.ID(), ctx.Err())
		d.Pause()

		state, err = d.Wait(context.Background())
	}

	res.State = state
	res.Err = err
	res.Path = d.OutputPath()
	res.Size = d.RemoteInfo().Size
	res.Transferred = d.Transferred()
	res.Failed = len(d.FailedSegments())
	res.Elapsed = time.Since(started)

	e.record(d, started, err)

	return res
}

func (e *Engine) record(d *downloader.Downloader, started time.Time, runErr error) {
	if e.repo == nil {
		return
	}

	rec := &repository.Record{
		ID:          d.ID(),
		URL:         d.Location().String(),
		Path:        d.OutputPath(),
		State:       status.DownloadStateName(d.State()),
		Size:        d.RemoteInfo().Size,
		Transferred: d.Transferred(),
		Segments:    len(d.Segments()),
		StartedAt:   started,
		EndedAt:     time.Now(),
	}

	for _, m := range d.Mirrors() {
		rec.Mirrors = append(rec.Mirrors, m.String())
	}

	for _, s := range d.FailedSegments() {
		fs := repository.FailedSegment{Index: s.Index, Start: s.InitialStart, End: s.End, Tries: s.Tries, At: s.LastErrorAt}
		if s.LastError != nil {
			fs.Error = s.LastError.Error()
		}

		rec.FailedSegments = append(rec.FailedSegments, fs)
	}

	if runErr != nil {
		rec.Error = runErr.Error()
	}

	if err := e.repo.Save(rec); err != nil {
		logger.Errorf("Failed to record download %s: %v", d.ID(), err)
	}
}

// Close releases the providers the engine created itself.
func (e *Engine) Close() error {
	if e.providers != nil {
		return e.providers.Close()
	}

	return nil
}
