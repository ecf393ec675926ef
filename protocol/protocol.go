// Package protocol implements the length-prefixed frame format used between
// the editor and its backend worker process.
//
// It solves TCP's sticky packet problem with a minimal header: a 4-byte
// unsigned payload length in native byte order, followed by the payload
// itself (a UTF-8 JSON document). The receiver reads the header first to
// learn the payload length, then reads exactly that many bytes.
//
// Frame format:
//
//	0         4
//	┌─────────┬────────────────┐
//	│ length  │  payload ...   │
//	│ uint32  │  length bytes  │
//	└─────────┴────────────────┘
//
// Native byte order is a wire-compatibility requirement: the historical
// backend packs the header as '=I', which follows the host's endianness.
// Client and worker always share a machine, so both sides agree.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed length prefix size in bytes.
const HeaderSize = 4

// MaxPayloadSize caps the declared payload length. A header above this limit
// means the stream is corrupt or the peer is not speaking our protocol, and
// is treated as fatal for the connection.
const MaxPayloadSize = 64 << 20 // 64 MiB

// Encode returns a complete frame for the given payload: header + payload.
// A zero-length payload is legal and produces a 4-byte frame.
func Encode(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.NativeEndian.PutUint32(buf[0:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Write encodes payload and writes the frame to w.
// The caller must serialize writes if multiple goroutines share w, otherwise
// frames will interleave and corrupt the stream.
func Write(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// Read reads one complete frame from r and returns its payload.
// It blocks until the full frame arrives. Uses io.ReadFull so partial reads
// at the OS level never surface as truncated payloads. Intended for the
// worker side, where a blocking read per connection is the natural model.
func Read(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.NativeEndian.Uint32(header)
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("declared payload length %d exceeds limit %d", length, MaxPayloadSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
