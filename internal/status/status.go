package status

// DownloadState is the overall state of one download.
type DownloadState = int32

const (
	NeedsToPrepare DownloadState = iota
	Preparing
	WaitingForReconnect
	Working
	Pausing
	Paused
	Ended
	EndedWithError
)

// SegmentState is the state of a single segment worker.
type SegmentState = int32

const (
	Idle SegmentState = iota
	Connecting
	Downloading
	SegmentPaused
	Finished
	Error
)

var downloadStateNames = map[DownloadState]string{
	NeedsToPrepare:      "needs-to-prepare",
	Preparing:           "preparing",
	WaitingForReconnect: "waiting-for-reconnect",
	Working:             "working",
	Pausing:             "pausing",
	Paused:              "paused",
	Ended:               "ended",
	EndedWithError:      "ended-with-error",
}

var segmentStateNames = map[SegmentState]string{
	Idle:          "idle",
	Connecting:    "connecting",
	Downloading:   "downloading",
	SegmentPaused: "paused",
	Finished:      "finished",
	Error:         "error",
}

// DownloadStateName returns a printable name for s.
func DownloadStateName(s DownloadState) string {
	if name, ok := downloadStateNames[s]; ok {
		return name
	}

	return "unknown"
}

// SegmentStateName returns a printable name for s.
func SegmentStateName(s SegmentState) string {
	if name, ok := segmentStateNames[s]; ok {
		return name
	}

	return "unknown"
}

// IsBusy reports whether a download in state s is already running and must not be started again.
func IsBusy(s DownloadState) bool {
	switch s {
	case Preparing, WaitingForReconnect, Working, Pausing:
		return true
	default:
		return false
	}
}
