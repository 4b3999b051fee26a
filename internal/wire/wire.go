// Package wire implements the framing used between the streamer and the
// client on a single SRT connection. Every message is
//
//	[type (varint)] [timestamp (varint)] [length (varint)] [payload]
//
// with QUIC variable-length integers. Fragments flow downstream; keyframe
// requests flow upstream with an empty payload.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Message type IDs.
const (
	MsgFragment        uint64 = 0x01
	MsgKeyframeRequest uint64 = 0x02
)

// MaxPayload bounds a single fragment. A 4K intra frame at high bitrate
// stays well below it.
const MaxPayload = 16 << 20

var (
	ErrPayloadTooLarge = errors.New("wire: payload too large")
	ErrUnknownType     = errors.New("wire: unknown message type")
	ErrTimestampRange  = errors.New("wire: timestamp exceeds varint range")
)

// ParseError records which header field could not be read.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Message is one framed unit on the connection.
type Message struct {
	Type      uint64
	Timestamp uint64
	Payload   []byte
}

// Reader decodes messages from a byte stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r in a buffered reader sized for a few SRT payloads.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 1316*8)}
}

// Read returns the next message. The payload is freshly allocated and owned
// by the caller. io.EOF is returned only on a clean message boundary.
func (r *Reader) Read() (Message, error) {
	var m Message
	var err error

	m.Type, err = quicvarint.Read(r.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return m, io.EOF
		}
		return m, &ParseError{Field: "type", Err: err}
	}
	if m.Type != MsgFragment && m.Type != MsgKeyframeRequest {
		return m, fmt.Errorf("%w %#x", ErrUnknownType, m.Type)
	}

	m.Timestamp, err = quicvarint.Read(r.br)
	if err != nil {
		return m, &ParseError{Field: "timestamp", Err: unexpectedEOF(err)}
	}

	length, err := quicvarint.Read(r.br)
	if err != nil {
		return m, &ParseError{Field: "length", Err: unexpectedEOF(err)}
	}
	if length > MaxPayload {
		return m, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}

	if length > 0 {
		m.Payload = make([]byte, length)
		if _, err := io.ReadFull(r.br, m.Payload); err != nil {
			return m, &ParseError{Field: "payload", Err: unexpectedEOF(err)}
		}
	}
	return m, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Append appends the encoded message to b. Type and Timestamp must not
// exceed quicvarint.Max.
func Append(b []byte, m Message) []byte {
	b = quicvarint.Append(b, m.Type)
	b = quicvarint.Append(b, m.Timestamp)
	b = quicvarint.Append(b, uint64(len(m.Payload)))
	return append(b, m.Payload...)
}

// Write encodes m and writes it in a single Write call so concurrent writers
// on a message-oriented transport never interleave.
func Write(w io.Writer, m Message) error {
	if len(m.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(m.Payload))
	}
	if m.Timestamp > quicvarint.Max || m.Type > quicvarint.Max {
		return ErrTimestampRange
	}
	_, err := w.Write(Append(nil, m))
	return err
}

// WriteKeyframeRequest asks the streamer for an IDR. ts is the newest
// timestamp the client has seen, or zero.
func WriteKeyframeRequest(w io.Writer, ts uint64) error {
	return Write(w, Message{Type: MsgKeyframeRequest, Timestamp: ts})
}
