package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/NamanBalaji/segdl/internal/segment"
	"github.com/NamanBalaji/segdl/internal/status"
)

type Progress interface {
	GetTotalSize() int64
	GetDownloaded() int64
	GetPercentage() float64
	GetSpeedBPS() int64
	GetETA() string
}

// Summary aggregates segment snapshots into whole-download figures.
type Summary struct {
	TotalSize  int64
	Downloaded int64
	SpeedBPS   int64
	Active     int
	Finished   int
	Failed     int
}

// Summarize folds snaps into a Summary. Only Downloading segments contribute speed.
func Summarize(totalSize int64, snaps []segment.Snapshot) Summary {
	sum := Summary{TotalSize: totalSize}

	var speed float64

	for _, s := range snaps {
		sum.Downloaded += s.Transferred()

		switch s.State {
		case status.Downloading:
			sum.Active++
			speed += s.Rate
		case status.Finished:
			sum.Finished++
		case status.Error:
			sum.Failed++
		}
	}

	sum.SpeedBPS = int64(speed)

	return sum
}

func (s Summary) GetTotalSize() int64 {
	return s.TotalSize
}

func (s Summary) GetDownloaded() int64 {
	return s.Downloaded
}

// GetPercentage is 0 when the size is unknown.
func (s Summary) GetPercentage() float64 {
	if s.TotalSize <= 0 {
		return 0
	}

	return math.Min(100, float64(s.Downloaded)/float64(s.TotalSize)*100)
}

func (s Summary) GetSpeedBPS() int64 {
	return s.SpeedBPS
}

// GetETA formats the remaining time, or "--" when it cannot be estimated.
func (s Summary) GetETA() string {
	remaining := s.TotalSize - s.Downloaded
	if s.TotalSize <= 0 || s.SpeedBPS <= 0 {
		return "--"
	}

	if remaining <= 0 {
		return "0s"
	}

	return (time.Duration(remaining/s.SpeedBPS) * time.Second).String()
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d bytes (%.1f%%), %d B/s, eta %s, segments active=%d finished=%d failed=%d",
		s.Downloaded, s.TotalSize, s.GetPercentage(), s.SpeedBPS, s.GetETA(), s.Active, s.Finished, s.Failed)
}
