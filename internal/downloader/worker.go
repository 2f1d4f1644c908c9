package downloader

import (
	"context"
	"io"

	"github.com/NamanBalaji/segdl/internal/errors"
	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/protocol"
	"github.com/NamanBalaji/segdl/internal/segment"
	"github.com/NamanBalaji/segdl/internal/status"
)

// runSegment moves s through Connecting and Downloading to Finished, Paused or
// Error. Failures are recorded on the segment and never returned.
func (d *Downloader) runSegment(ctx context.Context, s *segment.Segment) {
	defer func() {
		if in := s.TakeInput(); in != nil {
			_ = in.Close()
		}
	}()

	if s.Exhausted() {
		s.SetState(status.Finished)
		d.emitSegment(SegmentStopped, s, nil)

		return
	}

	if d.budget != nil {
		if err := d.budget.Acquire(ctx, 1); err != nil {
			d.failSegment(s, errors.NewContextError(err, d.location.String()))
			return
		}
		defer d.budget.Release(1)
	}

	s.SetState(status.Connecting)
	d.emitSegment(SegmentStarting, s, nil)

	in, err := d.connect(ctx, s)
	if err != nil {
		d.failSegment(s, err)
		return
	}
	defer func() {
		if err := in.Close(); err != nil {
			logger.Debugf("Closing stream of segment %d: %v", s.Index(), err)
		}
	}()

	s.SetState(status.Downloading)
	s.ResetTries()
	d.emitSegment(SegmentStarted, s, nil)

	finished, err := d.transfer(ctx, s, in)
	switch {
	case err != nil:
		d.failSegment(s, err)
	case finished:
		s.SetState(status.Finished)
		d.emitSegment(SegmentStopped, s, nil)
		logger.Debugf("Segment %d of download %s finished", s.Index(), d.id)
		d.trySplit(ctx)
	default:
		s.SetState(status.SegmentPaused)
		d.emitSegment(SegmentStopped, s, nil)
	}
}

// connect returns the pre-opened stream bound to s, or opens [current, end)
// from a location serving the recorded content.
func (d *Downloader) connect(ctx context.Context, s *segment.Segment) (io.ReadCloser, error) {
	if in := s.TakeInput(); in != nil {
		s.SetCurrentURL(d.preparedSource())
		return in, nil
	}

	loc, provider, err := d.resolveSource(ctx)
	if err != nil {
		return nil, err
	}

	s.SetCurrentURL(loc)

	return provider.OpenStream(ctx, loc, s.Current(), s.End())
}

// transfer copies in into the output file through s. It reports whether the
// segment completed; false with a nil error means it stopped for a pause.
func (d *Downloader) transfer(ctx context.Context, s *segment.Segment, in io.Reader) (bool, error) {
	d.mu.RLock()
	out := d.out
	d.mu.RUnlock()

	buf := make([]byte, bufferSize)

	for {
		if d.State() == status.Pausing {
			return false, nil
		}

		n, rerr := in.Read(buf)
		if n > 0 {
			if err := d.throttle(ctx, n); err != nil {
				return false, errors.NewContextError(err, d.location.String())
			}

			_, done, err := s.Write(out, buf[:n])
			if err != nil {
				return false, errors.NewIOError(err, d.OutputPath())
			}

			if done {
				return true, nil
			}
		}

		if rerr == io.EOF {
			if s.End() > 0 && !s.Exhausted() {
				return false, errors.NewNetworkError(io.ErrUnexpectedEOF, d.location.String(), true)
			}

			return true, nil
		}

		if rerr != nil {
			if ctx.Err() != nil {
				return false, errors.NewContextError(rerr, d.location.String())
			}

			var de *errors.DownloadError
			if errors.As(rerr, &de) {
				return false, rerr
			}

			return false, errors.NewNetworkError(rerr, d.location.String(), true)
		}
	}
}

func (d *Downloader) throttle(ctx context.Context, n int) error {
	if d.limiter == nil {
		return nil
	}

	burst := d.limiter.Burst()
	if burst <= 0 {
		return nil
	}

	for n > 0 {
		step := min(n, burst)
		if err := d.limiter.WaitN(ctx, step); err != nil {
			return err
		}

		n -= step
	}

	return nil
}

func (d *Downloader) failSegment(s *segment.Segment, err error) {
	s.Fail(err)
	logger.Warnf("Segment %d of download %s failed: %v", s.Index(), d.id, err)
	d.emitSegment(SegmentFailed, s, err)
}

// trySplit hands the second half of a slow segment to a new worker.
func (d *Downloader) trySplit(ctx context.Context) {
	if d.State() != status.Working {
		return
	}

	table := d.segmentTable()
	if table == nil {
		return
	}

	if s, ok := table.Split(d.splitThreshold, d.minSegmentSize); ok {
		logger.Infof("Download %s: new segment %d takes [%d, %d)", d.id, s.Index(), s.Current(), s.End())
		d.startWorker(ctx, s)
	}
}

func (d *Downloader) preparedSource() *protocol.ResourceLocation {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.source
}

// nextLocation asks the selector for a candidate, skipping excluded mirrors.
// It returns nil when every candidate is excluded.
func (d *Downloader) nextLocation() *protocol.ResourceLocation {
	d.mirrorMu.Lock()
	defer d.mirrorMu.Unlock()

	for range d.candidates {
		loc := d.selector.Next()
		if loc == nil {
			return nil
		}

		if _, ok := d.excluded[loc]; !ok {
			return loc
		}
	}

	return nil
}

// excludeMirror drops loc from the candidate pool for the rest of the download.
func (d *Downloader) excludeMirror(loc *protocol.ResourceLocation, reason string) {
	d.mirrorMu.Lock()
	defer d.mirrorMu.Unlock()

	d.excluded[loc] = struct{}{}

	for i, m := range d.mirrors {
		if m == loc {
			d.mirrors = append(d.mirrors[:i], d.mirrors[i+1:]...)
			break
		}
	}

	logger.Warnf("Download %s: dropping mirror %s: %s", d.id, loc, reason)
}

// resolveSource walks the selector until it finds a mirror whose metadata
// matches the recorded info, or comes back to the prepared location.
func (d *Downloader) resolveSource(ctx context.Context) (*protocol.ResourceLocation, protocol.Provider, error) {
	source := d.preparedSource()
	want := d.RemoteInfo()

	for range d.candidates {
		loc := d.nextLocation()
		if loc == nil || loc == source {
			break
		}

		provider, err := d.factory.Create(loc)
		if err != nil {
			d.excludeMirror(loc, err.Error())
			continue
		}

		info, stream, err := provider.RemoteFileInfo(ctx, loc)
		if stream != nil {
			_ = stream.Close()
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, errors.NewContextError(ctx.Err(), loc.String())
			}

			logger.Warnf("Download %s: mirror %s unavailable: %v", d.id, loc, err)

			continue
		}

		if !info.SameContent(want) {
			d.excludeMirror(loc, "content differs")
			continue
		}

		return loc, provider, nil
	}

	provider, err := d.factory.Create(source)
	if err != nil {
		return nil, nil, err
	}

	return source, provider, nil
}
