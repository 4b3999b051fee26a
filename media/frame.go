// Package media defines the types that flow through the vrframe client, from
// the network feed through decode to presentation.
package media

import "time"

// PendingFragmentBufferSize is the default depth of the queue between the
// network reader and the decode session. At 90 fps this absorbs roughly
// 700ms of network jitter.
const PendingFragmentBufferSize = 64

// Fragment is one encoded access unit as received from the streamer: Annex-B
// NAL units for H.264/HEVC or concatenated OBUs for AV1. Ownership of Data
// passes to whoever consumes the fragment.
type Fragment struct {
	// Timestamp is the frame's presentation time in nanoseconds.
	Timestamp uint64
	Data      []byte
}

// Time returns Timestamp as a duration since stream start.
func (f Fragment) Time() time.Duration {
	return time.Duration(f.Timestamp)
}

// DecodedFrame is a decoder output ready for presentation. Image is opaque to
// this module; the renderer knows its concrete type.
type DecodedFrame struct {
	Timestamp uint64
	Image     any
	// IsRepeat marks a re-presentation of the last good frame because nothing
	// newer was decoded in time.
	IsRepeat bool
}
