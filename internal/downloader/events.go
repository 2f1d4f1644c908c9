package downloader

import (
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/segdl/internal/logger"
	"github.com/NamanBalaji/segdl/internal/protocol"
	"github.com/NamanBalaji/segdl/internal/segment"
	"github.com/NamanBalaji/segdl/internal/status"
)

type EventKind int

const (
	StateChanged EventKind = iota
	InfoReceived
	Ending
	SegmentRestarting
	SegmentStopped
	SegmentStarting
	SegmentStarted
	SegmentFailed
)

var eventKindNames = map[EventKind]string{
	StateChanged:      "state-changed",
	InfoReceived:      "info-received",
	Ending:            "ending",
	SegmentRestarting: "segment-restarting",
	SegmentStopped:    "segment-stopped",
	SegmentStarting:   "segment-starting",
	SegmentStarted:    "segment-started",
	SegmentFailed:     "segment-failed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}

	return "unknown"
}

// Event is one lifecycle notification. Segment is set for segment events,
// Info for InfoReceived.
type Event struct {
	Kind       EventKind
	DownloadID uuid.UUID
	State      status.DownloadState
	Info       protocol.RemoteFileInfo
	Segment    *segment.Snapshot
	Err        error
	Time       time.Time
}

// Subscribe registers a new event channel. Events that do not fit in its buffer
// are dropped so a slow subscriber never stalls a worker.
func (d *Downloader) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	d.subsMu.Lock()
	d.subs = append(d.subs, ch)
	d.subsMu.Unlock()

	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (d *Downloader) Unsubscribe(ch <-chan Event) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	for i, sub := range d.subs {
		if sub == ch {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			close(sub)

			return
		}
	}
}

func (d *Downloader) emit(ev Event) {
	ev.DownloadID = d.id
	ev.Time = time.Now()

	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	for _, sub := range d.subs {
		select {
		case sub <- ev:
		default:
			logger.Debugf("Dropped %s event for download %s: subscriber buffer full", ev.Kind, d.id)
		}
	}
}

func (d *Downloader) emitSegment(kind EventKind, s *segment.Segment, err error) {
	snap := s.Snapshot()
	d.emit(Event{Kind: kind, State: d.State(), Segment: &snap, Err: err})
}
