package decode

import "time"

// LagState tracks decoder health between keyframes. Timestamps are
// nanoseconds.
type LagState struct {
	// FramesSinceLastIDR counts fragments received since the last keyframe
	// request.
	FramesSinceLastIDR int
	// FramesSinceLastDecode counts fragments received since the decoder
	// last produced an image.
	FramesSinceLastDecode int
	// LastRequestedTimestamp is the timestamp of the frame the renderer
	// most recently took.
	LastRequestedTimestamp uint64
	// LastSubmittedTimestamp is the timestamp the renderer reported as
	// finally presented.
	LastSubmittedTimestamp uint64
}

// Reset zeroes all fields.
func (l *LagState) Reset() {
	*l = LagState{}
}

// resetCounters is applied after each keyframe request.
func (l *LagState) resetCounters() {
	l.FramesSinceLastIDR = 0
	l.FramesSinceLastDecode = 0
}

// Behind returns how far ts trails the renderer's last requested frame, or
// 0 when it does not.
func (l *LagState) Behind(ts uint64) time.Duration {
	if l.LastRequestedTimestamp <= ts {
		return 0
	}
	return time.Duration(l.LastRequestedTimestamp - ts)
}

// Spiked reports whether a fragment with timestamp ts shows the decoder has
// fallen irrecoverably behind: either the fragment is older than the
// renderer's position by more than lagThreshold long after the last
// keyframe, or nothing has decoded for frameThreshold fragments.
func (l *LagState) Spiked(ts uint64, lagThreshold time.Duration, frameThreshold int) bool {
	behind := l.LastRequestedTimestamp != 0 &&
		l.Behind(ts) > lagThreshold &&
		l.FramesSinceLastIDR > frameThreshold
	return behind || l.FramesSinceLastDecode > frameThreshold
}
