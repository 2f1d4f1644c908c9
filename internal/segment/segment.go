package segment

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/NamanBalaji/segdl/internal/protocol"
	"github.com/NamanBalaji/segdl/internal/status"
)

// Segment is one byte range of the target file and the progress of its worker.
//
// Fields are guarded by mu. End only shrinks, and only through Table.Split,
// which holds the table lock while doing so.
type Segment struct {
	mu sync.RWMutex

	index        int
	initialStart int64
	current      int64
	end          int64 // 0 means unbounded

	input      io.ReadCloser
	currentURL *protocol.ResourceLocation

	lastErr   error
	lastErrAt time.Time
	tries     int
	state     status.SegmentState

	// rate bookkeeping, reset every time the segment enters Downloading
	beginPos  int64
	startedAt time.Time
}

func newSegment(index int, start, end int64) *Segment {
	return &Segment{
		index:        index,
		initialStart: start,
		current:      start,
		end:          end,
		state:        status.Idle,
	}
}

func (s *Segment) Index() int {
	return s.index
}

func (s *Segment) InitialStart() int64 {
	return s.initialStart
}

func (s *Segment) Current() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

func (s *Segment) End() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.end
}

func (s *Segment) State() status.SegmentState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// SetState changes the state. Entering Downloading restarts the rate window.
func (s *Segment) SetState(state status.SegmentState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state == status.Downloading && s.state != status.Downloading {
		s.beginPos = s.current
		s.startedAt = time.Now()
	}

	s.state = state
}

// Exhausted reports whether a bounded segment has nothing left to fetch.
func (s *Segment) Exhausted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.end > 0 && s.current >= s.end
}

// Transferred is the number of bytes written since the segment was created.
func (s *Segment) Transferred() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current - s.initialStart
}

// TotalToTransfer is the size of the range the segment currently owns, or 0 when unbounded.
func (s *Segment) TotalToTransfer() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.end <= 0 {
		return 0
	}

	return s.end - s.initialStart
}

// Remaining is the number of bytes still owed, or 0 when unbounded.
func (s *Segment) Remaining() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.remaining()
}

func (s *Segment) remaining() int64 {
	if s.end <= 0 || s.current >= s.end {
		return 0
	}

	return s.end - s.current
}

// Rate is the throughput in bytes per second since the segment entered Downloading.
func (s *Segment) Rate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rate()
}

func (s *Segment) rate() float64 {
	if s.startedAt.IsZero() {
		return 0
	}

	elapsed := time.Since(s.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(s.current-s.beginPos) / elapsed
}

// Left estimates the time until the segment completes. It is zero until a rate
// has been measured, so a segment that has not received a byte is never split.
func (s *Segment) Left() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.left()
}

func (s *Segment) left() time.Duration {
	remaining := s.remaining()
	if remaining == 0 {
		return 0
	}

	rate := s.rate()
	if rate <= 0 {
		return 0
	}

	secs := float64(remaining) / rate
	if secs >= math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(secs * float64(time.Second))
}

// Progress is the completed share of the owned range in percent.
func (s *Segment) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.progress()
}

func (s *Segment) progress() float64 {
	if s.end <= 0 {
		return 0
	}

	total := s.end - s.initialStart
	if total <= 0 {
		return 100
	}

	return float64(s.current-s.initialStart) / float64(total) * 100
}

// Write stores p at the segment cursor through out, clamped so it never crosses
// the segment end, and advances the cursor. It returns the number of bytes kept
// and whether the segment is now complete. The segment lock is held for the
// whole write so a concurrent split cannot move the end under it.
func (s *Segment) Write(out io.WriterAt, p []byte) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.end > 0 {
		left := s.end - s.current
		if left <= 0 {
			return 0, true, nil
		}
		if int64(len(p)) > left {
			p = p[:left]
		}
	}

	n, err := out.WriteAt(p, s.current)
	s.current += int64(n)

	if err == nil && n < len(p) {
		err = ErrShortWrite
	}

	return n, s.end > 0 && s.current >= s.end, err
}

// SetInput binds a pre-opened stream that the next worker run consumes.
func (s *Segment) SetInput(r io.ReadCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.input = r
}

// TakeInput returns the bound stream, if any, and clears it.
func (s *Segment) TakeInput() io.ReadCloser {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.input
	s.input = nil

	return r
}

func (s *Segment) SetCurrentURL(loc *protocol.ResourceLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentURL = loc
}

func (s *Segment) CurrentURL() *protocol.ResourceLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.currentURL
}

// Fail moves the segment to Error and records err with the current time.
func (s *Segment) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = status.Error
	s.lastErr = err
	s.lastErrAt = time.Now()
}

// LastError returns the most recent failure and when it happened.
func (s *Segment) LastError() (error, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastErr, s.lastErrAt
}

func (s *Segment) Tries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tries
}

// IncrementTries bumps the retry counter and returns the new value.
func (s *Segment) IncrementTries() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tries++

	return s.tries
}

// ResetTries zeroes the retry counter after a successful connect.
func (s *Segment) ResetTries() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tries = 0
}

// Snapshot is an immutable copy of a segment's observable state.
type Snapshot struct {
	Index        int
	InitialStart int64
	Current      int64
	End          int64
	State        status.SegmentState
	Tries        int
	LastError    error
	LastErrorAt  time.Time
	URL          string
	Rate         float64
	Left         time.Duration
	Progress     float64
}

// Transferred is the number of bytes written when the snapshot was taken.
func (s Snapshot) Transferred() int64 {
	return s.Current - s.InitialStart
}

func (s *Segment) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Index:        s.index,
		InitialStart: s.initialStart,
		Current:      s.current,
		End:          s.end,
		State:        s.state,
		Tries:        s.tries,
		LastError:    s.lastErr,
		LastErrorAt:  s.lastErrAt,
		Rate:         s.rate(),
		Left:         s.left(),
		Progress:     s.progress(),
	}

	if s.currentURL != nil {
		snap.URL = s.currentURL.String()
	}

	return snap
}
