package segment

import "github.com/NamanBalaji/segdl/internal/logger"

// DefaultMinSegmentSize is the smallest range worth a dedicated connection (200 KB).
const DefaultMinSegmentSize int64 = 200_000

// CalculatedSegment is the half-open byte range [Start, End).
type CalculatedSegment struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (c CalculatedSegment) Len() int64 {
	return c.End - c.Start
}

// Calculator partitions a file into contiguous ranges.
type Calculator interface {
	Calculate(count int, totalSize int64) ([]CalculatedSegment, error)
}

// DefaultCalculator lowers the segment count until every segment is at least
// MinSegmentSize bytes, or only one segment is left. A zero MinSegmentSize means
// DefaultMinSegmentSize.
type DefaultCalculator struct {
	MinSegmentSize int64
}

func (c DefaultCalculator) Calculate(count int, totalSize int64) ([]CalculatedSegment, error) {
	if count <= 0 {
		return nil, ErrInvalidSegmentCount
	}

	if totalSize < 0 {
		return nil, ErrInvalidTotalSize
	}

	minSize := c.MinSegmentSize
	if minSize <= 0 {
		minSize = DefaultMinSegmentSize
	}

	n := int64(count)
	size := totalSize / n
	for n > 1 && size < minSize {
		n--
		size = totalSize / n
	}

	segments := make([]CalculatedSegment, n)
	var start int64
	for i := range segments {
		end := start + size
		if int64(i) == n-1 {
			end = totalSize
		}

		segments[i] = CalculatedSegment{Start: start, End: end}
		start = end
	}

	logger.Debugf("Partitioned %d bytes into %d segments of ~%d bytes (requested %d)", totalSize, n, size, count)

	return segments, nil
}
