package protocol

import (
	"encoding/binary"
	"fmt"
)

// decoderState tracks which part of a frame the Decoder is accumulating.
type decoderState int

const (
	awaitingHeader decoderState = iota
	awaitingPayload
)

// Decoder is the incremental counterpart of Read, for event-driven receivers
// that get data in arbitrary-sized chunks instead of owning a blocking reader.
//
// Feed it whatever bytes the socket delivered; it accumulates the 4-byte
// header, then the declared payload, and hands back every payload completed
// so far. The header itself may arrive split across multiple feeds. The
// result is independent of how the frame was chunked on the wire.
//
// Decoder is not safe for concurrent use. A single frame is in progress at
// any time; there is no pipelining within one decode cycle.
type Decoder struct {
	state   decoderState
	header  []byte
	payload []byte
	toRead  int
}

// NewDecoder returns a Decoder waiting for the start of a frame.
func NewDecoder() *Decoder {
	return &Decoder{state: awaitingHeader}
}

// Feed consumes the next chunk of stream data and returns the payloads of
// all frames completed by it, in wire order. It returns an error if a header
// declares a payload larger than MaxPayloadSize; the Decoder must be
// discarded after an error.
func (d *Decoder) Feed(data []byte) ([][]byte, error) {
	var done [][]byte

	// Drain everything available: one chunk can complete a header, a
	// payload, and the start of the next frame all at once.
	for len(data) > 0 {
		switch d.state {
		case awaitingHeader:
			need := HeaderSize - len(d.header)
			if need > len(data) {
				need = len(data)
			}
			d.header = append(d.header, data[:need]...)
			data = data[need:]
			if len(d.header) < HeaderSize {
				return done, nil
			}
			length := binary.NativeEndian.Uint32(d.header)
			if length > MaxPayloadSize {
				return done, fmt.Errorf("declared payload length %d exceeds limit %d", length, MaxPayloadSize)
			}
			d.header = d.header[:0]
			d.toRead = int(length)
			d.payload = make([]byte, 0, d.toRead)
			d.state = awaitingPayload
			// A zero-length payload completes immediately.
			if d.toRead == 0 {
				done = append(done, []byte{})
				d.state = awaitingHeader
			}

		case awaitingPayload:
			need := d.toRead - len(d.payload)
			if need > len(data) {
				need = len(data)
			}
			d.payload = append(d.payload, data[:need]...)
			data = data[need:]
			if len(d.payload) == d.toRead {
				done = append(done, d.payload)
				d.payload = nil
				d.state = awaitingHeader
			}
		}
	}
	return done, nil
}

// Pending reports whether the Decoder is mid-frame, i.e. it has consumed
// part of a header or payload that has not completed yet. A stream that
// ends while Pending is true was truncated.
func (d *Decoder) Pending() bool {
	return len(d.header) > 0 || d.state == awaitingPayload
}
