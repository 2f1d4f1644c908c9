package downloader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/NamanBalaji/segdl/internal/errors"
	"github.com/NamanBalaji/segdl/internal/filesystem"
	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/mirror"
	"github.com/NamanBalaji/segdl/internal/progress"
	"github.com/NamanBalaji/segdl/internal/protocol"
	"github.com/NamanBalaji/segdl/internal/protocol/factory"
	"github.com/NamanBalaji/segdl/internal/segment"
	"github.com/NamanBalaji/segdl/internal/status"
)

var (
	ErrNoLocation         = errors.New("download location is required")
	ErrNoDestination      = errors.New("destination path is required")
	ErrSegmentsFailed     = errors.New("one or more segments failed")
	ErrPreparationAborted = errors.New("preparation gave up")
)

// Downloader fetches one remote resource into one local file using concurrent
// byte-range segments.
type Downloader struct {
	id          uuid.UUID
	location    *protocol.ResourceLocation
	destination string
	requested   int

	factory    protocol.Factory
	selector   mirror.Selector
	calculator segment.Calculator
	fs         filesystem.FileSystem
	budget     *semaphore.Weighted
	limiter    *rate.Limiter

	maxRetries     int
	retryDelay     time.Duration
	splitThreshold time.Duration
	minSegmentSize int64
	pollInterval   time.Duration

	// mirrorMu guards the candidate list, the exclusion set and selector access.
	mirrorMu   sync.Mutex
	mirrors    []*protocol.ResourceLocation
	excluded   map[*protocol.ResourceLocation]struct{}
	candidates int

	mu         sync.RWMutex
	state      status.DownloadState
	source     *protocol.ResourceLocation
	info       protocol.RemoteFileInfo
	outputPath string
	table      *segment.Table
	out        *filesystem.SharedFile
	cancel     context.CancelFunc
	done       chan struct{}
	err        error

	wake    chan struct{}
	workers sync.WaitGroup

	subsMu sync.Mutex
	subs   []chan Event
}

// New creates a download of location into destination. Nothing touches the
// network or the disk until Start.
func New(location *protocol.ResourceLocation, destination string, opts ...Option) (*Downloader, error) {
	if location == nil {
		return nil, errors.NewConfigurationError(ErrNoLocation, "")
	}

	if destination == "" {
		return nil, errors.NewConfigurationError(ErrNoDestination, location.String())
	}

	d := &Downloader{
		id:             uuid.New(),
		location:       location,
		destination:    destination,
		requested:      DefaultSegmentCount,
		maxRetries:     DefaultMaxRetries,
		retryDelay:     DefaultRetryDelay,
		splitThreshold: DefaultSplitThreshold,
		minSegmentSize: segment.DefaultMinSegmentSize,
		pollInterval:   DefaultPollInterval,
		excluded:       make(map[*protocol.ResourceLocation]struct{}),
		state:          status.NeedsToPrepare,
		wake:           make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.requested <= 0 {
		return nil, errors.NewConfigurationError(fmt.Errorf("%w: %d", segment.ErrInvalidSegmentCount, d.requested), location.String())
	}

	if d.factory == nil {
		providers, err := factory.NewDefault(factory.Options{})
		if err != nil {
			return nil, err
		}

		d.factory = providers
	}

	if d.calculator == nil {
		d.calculator = segment.DefaultCalculator{MinSegmentSize: d.minSegmentSize}
	}

	if d.selector == nil {
		all := append([]*protocol.ResourceLocation{location}, d.mirrors...)
		d.selector = mirror.NewRoundRobin(all)
	}

	if d.fs == nil {
		d.fs = filesystem.NewOSFileSystem()
	}

	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}

	d.candidates = 1 + len(d.mirrors)

	return d, nil
}

func (d *Downloader) ID() uuid.UUID {
	return d.id
}

func (d *Downloader) Location() *protocol.ResourceLocation {
	return d.location
}

func (d *Downloader) State() status.DownloadState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.state
}

// OutputPath is the file actually written, which differs from the requested
// destination when that name was taken.
func (d *Downloader) OutputPath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.outputPath
}

func (d *Downloader) RemoteInfo() protocol.RemoteFileInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.info
}

// Err returns the error that ended the last run, if any.
func (d *Downloader) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.err
}

// Segments returns a snapshot of every segment, or nil before partitioning.
func (d *Downloader) Segments() []segment.Snapshot {
	table := d.segmentTable()
	if table == nil {
		return nil
	}

	return table.Snapshots()
}

// FailedSegments returns the segments left in Error, with their last error.
func (d *Downloader) FailedSegments() []segment.Snapshot {
	var failed []segment.Snapshot

	for _, snap := range d.Segments() {
		if snap.State == status.Error {
			failed = append(failed, snap)
		}
	}

	return failed
}

// Mirrors returns the mirrors still considered to serve the same content.
func (d *Downloader) Mirrors() []*protocol.ResourceLocation {
	d.mirrorMu.Lock()
	defer d.mirrorMu.Unlock()

	out := make([]*protocol.ResourceLocation, len(d.mirrors))
	copy(out, d.mirrors)

	return out
}

// Transferred is the number of bytes written so far.
func (d *Downloader) Transferred() int64 {
	table := d.segmentTable()
	if table == nil {
		return 0
	}

	return table.Transferred()
}

// Progress summarizes the segments against the remote size.
func (d *Downloader) Progress() progress.Summary {
	return progress.Summarize(d.RemoteInfo().Size, d.Segments())
}

func (d *Downloader) segmentTable() *segment.Table {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.table
}

func (d *Downloader) setState(state status.DownloadState) {
	d.mu.Lock()
	if d.state == state {
		d.mu.Unlock()
		return
	}

	logger.Debugf("Download %s: %s -> %s", d.id, status.DownloadStateName(d.state), status.DownloadStateName(state))
	d.state = state
	d.mu.Unlock()

	d.emit(Event{Kind: StateChanged, State: state})
}

// Start begins or resumes the download in the background. It does nothing while
// a run is already active. A location whose scheme has no provider is reported
// synchronously and leaves the state unchanged.
func (d *Downloader) Start() error {
	d.mu.Lock()

	if status.IsBusy(d.state) {
		d.mu.Unlock()
		return nil
	}

	// The run is claimed before the lock is released so concurrent calls see it busy.
	prev, prevCancel, prevDone := d.state, d.cancel, d.done
	prepared := prev != status.NeedsToPrepare && d.table != nil

	next := status.Preparing
	if prepared {
		next = status.Working
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	d.state = next
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	var (
		launch func()
		err    error
	)

	if prepared {
		launch, err = d.startPrepared(ctx, cancel, done)
	} else {
		launch, err = d.startPreparation(ctx, cancel, done)
	}

	if err != nil {
		cancel()

		d.mu.Lock()
		d.state = prev
		d.cancel = prevCancel
		d.done = prevDone
		d.mu.Unlock()

		close(done)

		return err
	}

	logger.Debugf("Download %s: %s -> %s", d.id, status.DownloadStateName(prev), status.DownloadStateName(next))
	d.emit(Event{Kind: StateChanged, State: next})
	launch()

	return nil
}

// startPreparation resolves a provider for the next location and returns the
// function that launches the run.
func (d *Downloader) startPreparation(ctx context.Context, cancel context.CancelFunc, done chan struct{}) (func(), error) {
	loc := d.nextLocation()
	if loc == nil {
		return nil, errors.NewConfigurationError(ErrNoLocation, d.location.String())
	}

	provider, err := d.factory.Create(loc)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.source = loc
	d.err = nil
	d.mu.Unlock()

	return func() {
		go func() {
			defer close(done)
			defer cancel()

			d.run(ctx, provider, loc)
		}()
	}, nil
}

// startPrepared resumes a partitioned download: the file is reopened and every
// segment that is not Finished gets a new worker from its recorded position.
func (d *Downloader) startPrepared(ctx context.Context, cancel context.CancelFunc, done chan struct{}) (func(), error) {
	out, err := d.fs.Reopen(d.OutputPath())
	if err != nil {
		return nil, errors.NewIOError(err, d.OutputPath())
	}

	d.mu.Lock()
	d.out = out
	d.err = nil
	table := d.table
	d.mu.Unlock()

	for _, s := range table.All() {
		if s.State() == status.Error {
			s.ResetTries()
		}
	}

	logger.Infof("Resuming download %s from %d bytes", d.id, table.Transferred())

	return func() {
		go func() {
			defer close(done)
			defer cancel()

			d.execute(ctx)
		}()
	}, nil
}

// Pause asks a working download to stop after the current chunk of every
// segment. A download still probing is canceled back to NeedsToPrepare.
func (d *Downloader) Pause() {
	d.mu.Lock()

	switch d.state {
	case status.Working:
		d.state = status.Pausing
		d.mu.Unlock()

		logger.Debugf("Download %s: %s -> %s", d.id, status.DownloadStateName(status.Working), status.DownloadStateName(status.Pausing))
		d.emit(Event{Kind: StateChanged, State: status.Pausing})

		select {
		case d.wake <- struct{}{}:
		default:
		}
	case status.Preparing, status.WaitingForReconnect:
		cancel := d.cancel
		d.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	default:
		d.mu.Unlock()
	}
}

// Wait blocks until the current run stops and returns its final state.
func (d *Downloader) Wait(ctx context.Context) (status.DownloadState, error) {
	d.mu.RLock()
	done := d.done
	d.mu.RUnlock()

	if done == nil {
		return d.State(), nil
	}

	select {
	case <-done:
		return d.State(), d.Err()
	case <-ctx.Done():
		return d.State(), ctx.Err()
	}
}

func (d *Downloader) run(ctx context.Context, provider protocol.Provider, loc *protocol.ResourceLocation) {
	info, stream, err := d.prepare(ctx, provider, loc)
	if err != nil {
		canceled := errors.Is(err, context.Canceled)

		d.mu.Lock()
		if !canceled {
			d.err = err
		}
		d.mu.Unlock()

		if canceled || errors.IsRetryable(err) || errors.Is(err, ErrPreparationAborted) {
			d.setState(status.NeedsToPrepare)
		} else {
			d.setState(status.EndedWithError)
		}

		return
	}

	if err := d.partition(info, stream); err != nil {
		if stream != nil {
			_ = stream.Close()
		}

		logger.Errorf("Failed to set up download %s: %v", d.id, err)

		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		d.setState(status.EndedWithError)

		return
	}

	d.setState(status.Working)
	d.execute(ctx)
}

// prepare probes loc, retrying retryable failures up to maxRetries attempts.
func (d *Downloader) prepare(ctx context.Context, provider protocol.Provider, loc *protocol.ResourceLocation) (protocol.RemoteFileInfo, io.ReadCloser, error) {
	for attempt := 1; ; attempt++ {
		info, stream, err := provider.RemoteFileInfo(ctx, loc)
		if err == nil {
			logger.Infof("Download %s: %s is %d bytes, ranges=%v", d.id, loc, info.Size, info.AcceptRanges)
			return info, stream, nil
		}

		if ctx.Err() != nil {
			logger.Infof("Preparation of %s canceled", loc)
			return protocol.RemoteFileInfo{}, nil, errors.NewContextError(ctx.Err(), loc.String())
		}

		if !errors.IsRetryable(err) {
			logger.Errorf("Preparation of %s failed: %v", loc, err)
			return protocol.RemoteFileInfo{}, nil, err
		}

		if d.maxRetries > 0 && attempt >= d.maxRetries {
			logger.Warnf("Preparation of %s failed after %d attempts: %v", loc, attempt, err)
			return protocol.RemoteFileInfo{}, nil, fmt.Errorf("%w after %d attempts: %w", ErrPreparationAborted, attempt, err)
		}

		logger.Warnf("Preparation attempt %d for %s failed, retrying in %s: %v", attempt, loc, d.retryDelay, err)
		d.setState(status.WaitingForReconnect)

		select {
		case <-time.After(d.retryDelay):
		case <-ctx.Done():
			return protocol.RemoteFileInfo{}, nil, errors.NewContextError(ctx.Err(), loc.String())
		}

		d.setState(status.Preparing)
	}
}

// partition records info, allocates the output file and builds the segment table.
func (d *Downloader) partition(info protocol.RemoteFileInfo, stream io.ReadCloser) error {
	d.emit(Event{Kind: InfoReceived, State: d.State(), Info: info})

	var parts []segment.CalculatedSegment

	switch {
	case info.Size <= 0:
		parts = []segment.CalculatedSegment{{Start: 0, End: 0}}
	case !info.AcceptRanges:
		parts = []segment.CalculatedSegment{{Start: 0, End: info.Size}}
	default:
		var err error

		parts, err = d.calculator.Calculate(min(d.requested, MaxSegmentCount), info.Size)
		if err != nil {
			return errors.NewConfigurationError(err, d.location.String())
		}
	}

	out, path, err := d.fs.Allocate(d.destination, info.Size)
	if err != nil {
		return errors.NewIOError(err, d.destination)
	}

	table := segment.NewTable(parts)
	if stream != nil {
		table.At(0).SetInput(stream)
	}

	d.mu.Lock()
	d.info = info
	d.outputPath = path
	d.out = out
	d.table = table
	d.mu.Unlock()

	logger.Infof("Download %s: writing %s in %d segments", d.id, path, len(parts))

	return nil
}

// execute runs workers until no segment needs restarting, then settles the
// overall state.
func (d *Downloader) execute(ctx context.Context) {
	table := d.segmentTable()

	for _, s := range table.All() {
		if s.State() != status.Finished {
			d.startWorker(ctx, s)
		}
	}

	for {
		d.waitWorkers()

		if !d.restartPass(ctx) {
			break
		}
	}

	d.finish()
}

func (d *Downloader) startWorker(ctx context.Context, s *segment.Segment) {
	d.workers.Add(1)

	go func() {
		defer d.workers.Done()

		d.runSegment(ctx, s)
	}()
}

// waitWorkers blocks until every worker has stopped, logging progress at each poll.
func (d *Downloader) waitWorkers() {
	stopped := make(chan struct{})

	go func() {
		d.workers.Wait()
		close(stopped)
	}()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopped:
			return
		case <-ticker.C:
			logger.Debugf("Download %s: %s", d.id, d.Progress())
		}
	}
}

// restartPass restarts Error segments that are still within their retry budget
// and have waited retryDelay since failing. It reports whether any such segment
// exists, sleeping until the earliest one is due when none could start yet.
func (d *Downloader) restartPass(ctx context.Context) bool {
	if d.State() == status.Pausing {
		return false
	}

	var (
		eligible  bool
		restarted bool
		wait      time.Duration
	)

	for _, s := range d.segmentTable().All() {
		if s.State() != status.Error {
			continue
		}

		if d.maxRetries > 0 && s.Tries() >= d.maxRetries {
			continue
		}

		eligible = true

		_, failedAt := s.LastError()
		if since := time.Since(failedAt); since < d.retryDelay {
			if remaining := d.retryDelay - since; wait == 0 || remaining < wait {
				wait = remaining
			}

			continue
		}

		tries := s.IncrementTries()
		logger.Infof("Restarting segment %d of download %s (try %d)", s.Index(), d.id, tries)
		d.emitSegment(SegmentRestarting, s, nil)
		d.startWorker(ctx, s)

		restarted = true
	}

	if eligible && !restarted && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-d.wake:
		case <-ctx.Done():
			return false
		}
	}

	return eligible
}

func (d *Downloader) finish() {
	d.mu.Lock()
	out := d.out
	d.out = nil
	d.mu.Unlock()

	if out != nil {
		if err := out.Close(); err != nil {
			logger.Errorf("Failed to close %s: %v", out.Name(), err)
		}
	}

	if failed := d.FailedSegments(); len(failed) > 0 {
		logger.Errorf("Download %s ended with %d failed segments", d.id, len(failed))

		d.mu.Lock()
		d.err = fmt.Errorf("%w: %d of %d", ErrSegmentsFailed, len(failed), d.table.Len())
		d.mu.Unlock()
		d.setState(status.EndedWithError)

		return
	}

	if d.State() == status.Pausing {
		logger.Infof("Download %s paused at %d bytes", d.id, d.Transferred())
		d.setState(status.Paused)

		return
	}

	logger.Infof("Download %s finished: %s", d.id, d.OutputPath())
	d.setState(status.Ended)
	d.emit(Event{Kind: Ending, State: status.Ended})
}
