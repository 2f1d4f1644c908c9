package mirror

import "github.com/NamanBalaji/segdl/internal/protocol"

// Selector yields the next location to try. Implementations need not be safe for
// concurrent use; the downloader serializes calls.
type Selector interface {
	Next() *protocol.ResourceLocation
}

// RoundRobin cycles over a fixed list of locations.
type RoundRobin struct {
	locations []*protocol.ResourceLocation
	next      int
}

// NewRoundRobin snapshots locations; later changes to the slice are not observed.
func NewRoundRobin(locations []*protocol.ResourceLocation) *RoundRobin {
	snapshot := make([]*protocol.ResourceLocation, len(locations))
	copy(snapshot, locations)

	return &RoundRobin{locations: snapshot}
}

// Next returns the next location, wrapping to the first after the last. It
// returns nil when the list is empty.
func (r *RoundRobin) Next() *protocol.ResourceLocation {
	if len(r.locations) == 0 {
		return nil
	}

	loc := r.locations[r.next]
	r.next = (r.next + 1) % len(r.locations)

	return loc
}

// Len returns the number of candidates.
func (r *RoundRobin) Len() int {
	return len(r.locations)
}
