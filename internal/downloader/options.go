package downloader

import (
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/NamanBalaji/segdl/internal/filesystem"
	"github.com/NamanBalaji/segdl/internal/mirror"
	"github.com/NamanBalaji/segdl/internal/protocol"
	"github.com/NamanBalaji/segdl/internal/segment"
)

const (
	DefaultSegmentCount = 5
	// MaxSegmentCount caps the requested count. Splits may still grow the table past it.
	MaxSegmentCount       = 5
	DefaultMaxRetries     = 5
	DefaultRetryDelay     = 20 * time.Second
	DefaultSplitThreshold = 30 * time.Second
	DefaultPollInterval   = time.Second

	bufferSize = 8 * 1024
)

// Option configures a Downloader.
type Option func(*Downloader)

// WithSegmentCount sets the requested number of segments. It must be positive.
func WithSegmentCount(n int) Option {
	return func(d *Downloader) {
		d.requested = n
	}
}

// WithMirrors adds alternative locations expected to serve the same content.
func WithMirrors(mirrors ...*protocol.ResourceLocation) Option {
	return func(d *Downloader) {
		d.mirrors = append(d.mirrors, mirrors...)
	}
}

func WithProviderFactory(f protocol.Factory) Option {
	return func(d *Downloader) {
		d.factory = f
	}
}

// WithMirrorSelector replaces the default round robin over the primary location and its mirrors.
func WithMirrorSelector(s mirror.Selector) Option {
	return func(d *Downloader) {
		d.selector = s
	}
}

func WithSegmentCalculator(c segment.Calculator) Option {
	return func(d *Downloader) {
		d.calculator = c
	}
}

// WithMaxRetries bounds segment restarts and preparation attempts. 0 means unlimited.
func WithMaxRetries(n int) Option {
	return func(d *Downloader) {
		d.maxRetries = n
	}
}

func WithRetryDelay(delay time.Duration) Option {
	return func(d *Downloader) {
		d.retryDelay = delay
	}
}

func WithSplitThreshold(threshold time.Duration) Option {
	return func(d *Downloader) {
		d.splitThreshold = threshold
	}
}

// WithMinSegmentSize applies to both the default calculator and splitting.
func WithMinSegmentSize(size int64) Option {
	return func(d *Downloader) {
		d.minSegmentSize = size
	}
}

// WithWorkerBudget shares a bound on running segment workers between downloads.
func WithWorkerBudget(budget *semaphore.Weighted) Option {
	return func(d *Downloader) {
		d.budget = budget
	}
}

// WithRateLimiter throttles reads in bytes per second.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(d *Downloader) {
		d.limiter = limiter
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(d *Downloader) {
		d.pollInterval = interval
	}
}

// WithFileSystem replaces the local disk used to allocate and reopen the output file.
func WithFileSystem(fs filesystem.FileSystem) Option {
	return func(d *Downloader) {
		d.fs = fs
	}
}
