package segment

import "errors"

var (
	ErrInvalidSegmentCount = errors.New("segment count must be greater than zero")
	ErrInvalidTotalSize    = errors.New("total size must not be negative")
	ErrShortWrite          = errors.New("output accepted fewer bytes than written")
)
