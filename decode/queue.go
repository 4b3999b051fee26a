package decode

import "github.com/zsiec/vrframe/media"

// FrameQueue holds the few most recent decoded frames plus the last frame
// ever decoded. It is not safe for concurrent use; Session guards it.
type FrameQueue struct {
	capacity int
	frames   []media.DecodedFrame

	lastPushed  uint64
	pushedAny   bool
	lastGood    media.DecodedFrame
	hasLastGood bool
}

// NewFrameQueue returns a queue holding at most capacity frames (minimum 1).
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		capacity: capacity,
		frames:   make([]media.DecodedFrame, 0, capacity+1),
	}
}

// Push records a decoded image. A second image for the most recently
// pushed timestamp replaces the first. Beyond capacity the oldest frames
// are evicted; Push returns how many.
func (q *FrameQueue) Push(ts uint64, image any) int {
	frame := media.DecodedFrame{Timestamp: ts, Image: image}
	q.lastGood, q.hasLastGood = frame, true

	if q.pushedAny && ts == q.lastPushed {
		if n := len(q.frames); n > 0 && q.frames[n-1].Timestamp == ts {
			q.frames[n-1].Image = image
		}
		return 0
	}
	q.lastPushed, q.pushedAny = ts, true

	q.frames = append(q.frames, frame)
	evicted := 0
	for len(q.frames) > q.capacity {
		copy(q.frames, q.frames[1:])
		q.frames[len(q.frames)-1] = media.DecodedFrame{}
		q.frames = q.frames[:len(q.frames)-1]
		evicted++
	}
	return evicted
}

// TakeNewest pops the newest frame and discards the older ones, which can
// no longer be shown in time; the count of discarded frames is returned.
// With nothing queued it repeats the last good frame with IsRepeat set.
// ok is false only if nothing was ever decoded.
func (q *FrameQueue) TakeNewest() (frame media.DecodedFrame, discarded int, ok bool) {
	if n := len(q.frames); n > 0 {
		frame = q.frames[n-1]
		discarded = n - 1
		clear(q.frames)
		q.frames = q.frames[:0]
		return frame, discarded, true
	}
	if !q.hasLastGood {
		return media.DecodedFrame{}, 0, false
	}
	frame = q.lastGood
	frame.IsRepeat = true
	return frame, 0, true
}

// Newest returns the timestamp of the most recently pushed frame.
func (q *FrameQueue) Newest() (uint64, bool) {
	return q.lastPushed, q.pushedAny
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// Reset drops queued frames and the last good frame.
func (q *FrameQueue) Reset() {
	clear(q.frames)
	q.frames = q.frames[:0]
	q.lastGood, q.hasLastGood = media.DecodedFrame{}, false
	q.lastPushed, q.pushedAny = 0, false
}
