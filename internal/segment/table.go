package segment

import (
	"sync"
	"time"

	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/status"
)

// Table is the append-only list of segments of one download. Segments are
// addressed by their index, which never changes. Lock order is table, then segment.
type Table struct {
	mu       sync.Mutex
	segments []*Segment
}

// NewTable creates one Idle segment per calculated range.
func NewTable(parts []CalculatedSegment) *Table {
	t := &Table{segments: make([]*Segment, 0, len(parts))}
	for i, p := range parts {
		t.segments = append(t.segments, newSegment(i, p.Start, p.End))
	}

	return t
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.segments)
}

// At returns the segment with the given index.
func (t *Table) At(i int) *Segment {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.segments[i]
}

// All returns the current segments in index order.
func (t *Table) All() []*Segment {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Segment, len(t.segments))
	copy(out, t.segments)

	return out
}

func (t *Table) appendLocked(start, end int64) *Segment {
	s := newSegment(len(t.segments), start, end)
	t.segments = append(t.segments, s)

	return s
}

// Split looks for the first Downloading segment expected to need more than
// threshold and whose remaining half is at least minSize bytes. The donor keeps
// the first half and a new Idle segment covering the second half is appended and
// returned. At most one donor is split per call.
func (t *Table) Split(threshold time.Duration, minSize int64) (*Segment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, donor := range t.segments {
		donor.mu.Lock()

		if donor.state != status.Downloading || donor.left() <= threshold {
			donor.mu.Unlock()
			continue
		}

		half := donor.remaining() / 2
		if half < minSize || half == 0 {
			donor.mu.Unlock()
			continue
		}

		oldEnd := donor.end
		mid := donor.current + half
		donor.end = mid
		donor.mu.Unlock()

		s := t.appendLocked(mid, oldEnd)

		logger.Debugf("Split segment %d at %d: donor now ends at %d, new segment %d covers [%d, %d)",
			donor.index, mid, mid, s.index, mid, oldEnd)

		return s, true
	}

	return nil, false
}

// Snapshots returns a snapshot of every segment.
func (t *Table) Snapshots() []Snapshot {
	segs := t.All()

	out := make([]Snapshot, len(segs))
	for i, s := range segs {
		out[i] = s.Snapshot()
	}

	return out
}

// Transferred sums the bytes written by every segment.
func (t *Table) Transferred() int64 {
	var total int64
	for _, s := range t.All() {
		total += s.Transferred()
	}

	return total
}
