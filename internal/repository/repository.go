package repository

import (
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Save(record *Record) error
	Find(id uuid.UUID) (*Record, error)
	FindAll() ([]*Record, error)
	Delete(id uuid.UUID) error
}

// Record is the outcome of a finished download run. It is history, not a
// checkpoint: nothing is resumed from it.
type Record struct {
	ID             uuid.UUID       `json:"id"`
	URL            string          `json:"url"`
	Mirrors        []string        `json:"mirrors,omitempty"`
	Path           string          `json:"path"`
	State          string          `json:"state"`
	Size           int64           `json:"size"`
	Transferred    int64           `json:"transferred"`
	Segments       int             `json:"segments"`
	FailedSegments []FailedSegment `json:"failedSegments,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	EndedAt        time.Time       `json:"endedAt"`
}

type FailedSegment struct {
	Index int       `json:"index"`
	Start int64     `json:"start"`
	End   int64     `json:"end"`
	Tries int       `json:"tries"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}
