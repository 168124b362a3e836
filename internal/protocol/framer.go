// Package protocol implements the length-prefixed command framing, HMAC
// authentication, upsert session state machine, and response fragmentation
// that ride over the BLE write/notify characteristics.
package protocol

import (
	"encoding/binary"

	"github.com/kestrel-systems/faceaccess/internal/constants"
)

type rxState int

const (
	waitHeader rxState = iota
	waitPayload
)

// Framer is a byte-oriented receiver state machine: WriteValue calls on
// the command characteristic append bytes here, and complete payloads are
// drained via Feed's return value. It is not safe for concurrent use;
// Transport serializes writes per connection.
type Framer struct {
	maxPayload int

	state       rxState
	buf         []byte
	expectedLen int
	lastSeq     int
	haveLastSeq bool
}

// NewFramer constructs a Framer bounding payloads to maxPayload bytes
// (0 selects constants.DefaultMaxCommandSize).
func NewFramer(maxPayload int) *Framer {
	if maxPayload <= 0 {
		maxPayload = constants.DefaultMaxCommandSize
	}
	return &Framer{maxPayload: maxPayload, state: waitHeader}
}

// Reset returns the receiver to WAIT_HEADER and forgets sequence memory
// and any partially buffered bytes. Called on connect/subscribe,
// unsubscribe/disconnect, and inactivity timeout.
func (f *Framer) Reset() {
	f.state = waitHeader
	f.buf = f.buf[:0]
	f.expectedLen = 0
	f.lastSeq = 0
	f.haveLastSeq = false
}

// Feed appends newBytes to the internal buffer and extracts as many
// complete payloads as are available. oversize reports that a header
// claimed a length above the configured maximum (the receiver already
// reset itself; callers typically respond with an ERROR notification).
func (f *Framer) Feed(newBytes []byte) (payloads [][]byte, oversize bool) {
	f.buf = append(f.buf, newBytes...)

	for {
		if f.state == waitHeader {
			if len(f.buf) < constants.FrameHeaderSize {
				return payloads, oversize
			}

			length := int(binary.BigEndian.Uint16(f.buf[0:2]))
			seq := int(f.buf[2])

			if length == 0 {
				f.Reset()
				return payloads, oversize
			}
			if length > f.maxPayload {
				f.Reset()
				return payloads, true
			}

			if seq == 0 && f.haveLastSeq && f.lastSeq > 0 {
				// A new session starts at this header; anything buffered past
				// its payload belongs to the old session and is discarded,
				// but the header+payload just parsed must stay so the
				// waitHeader/waitPayload code below can still consume it.
				keep := constants.FrameHeaderSize + length
				if len(f.buf) > keep {
					f.buf = f.buf[:keep]
				}
				f.haveLastSeq = false
			}

			if f.haveLastSeq && seq == f.lastSeq {
				skip := constants.FrameHeaderSize + length
				if len(f.buf) >= skip {
					f.buf = f.buf[skip:]
				} else {
					f.buf = f.buf[:0]
				}
				continue
			}

			f.lastSeq = seq
			f.haveLastSeq = true
			f.buf = f.buf[constants.FrameHeaderSize:]
			f.expectedLen = length
			f.state = waitPayload
		}

		if f.state == waitPayload {
			if len(f.buf) < f.expectedLen {
				return payloads, oversize
			}

			payload := make([]byte, f.expectedLen)
			copy(payload, f.buf[:f.expectedLen])
			f.buf = f.buf[f.expectedLen:]
			f.state = waitHeader

			payloads = append(payloads, payload)
		}
	}
}

// Encode wraps payload with the 3-byte big-endian-length + sequence
// header used on the wire in both directions.
func Encode(payload []byte, seq byte) []byte {
	out := make([]byte, constants.FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(payload)))
	out[2] = seq
	copy(out[constants.FrameHeaderSize:], payload)
	return out
}
