// Package protocol implements the wire protocol shared by the game client
// and server: length-prefixed JSON frames over a byte stream, plus the
// request, response and event shapes carried inside them.
//
// Each frame is a 4-byte little-endian unsigned length L followed by
// exactly L bytes of UTF-8 JSON. There is no intra-frame structure beyond
// the JSON body.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxFrameSize caps the payload length of a single frame. Exceeding it is
// a protocol violation fatal to the connection.
const MaxFrameSize = 1 << 20 // 1 MiB

var (
	// ErrFrameTooLarge is returned when a frame header announces a payload
	// above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrInvalidEncoding is returned when a frame payload is not valid UTF-8.
	ErrInvalidEncoding = errors.New("frame payload is not valid UTF-8")
)

// FrameReader reads length-prefixed frames from a stream. It is owned by
// exactly one reader goroutine.
type FrameReader struct {
	r io.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Read returns the next complete frame payload. On EOF or any transport
// error the underlying error is returned and the reader must not be used
// again.
func (fr *FrameReader) Read() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, err
	}
	if !utf8.Valid(payload) {
		return nil, ErrInvalidEncoding
	}
	return payload, nil
}

// FrameWriter writes length-prefixed frames to a stream. It is owned by
// exactly one writer goroutine; everyone else goes through the mailbox.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write frames the payload and writes it out. The header and body go out
// in a single Write call so partial interleaving cannot occur even if the
// owner invariant is ever violated.
func (fw *FrameWriter) Write(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := fw.w.Write(buf)
	return err
}

// SocketAction is one unit of work for a connection's writer goroutine.
// Exactly one of the variants is set.
type SocketAction struct {
	// Message is a complete frame payload to serialize out.
	Message []byte
	// Close requests an orderly shutdown after prior messages are flushed.
	Close bool
}

// MessageAction wraps a payload for the writer mailbox.
func MessageAction(payload []byte) SocketAction {
	return SocketAction{Message: payload}
}

// CloseAction asks the writer to flush and exit.
func CloseAction() SocketAction {
	return SocketAction{Close: true}
}
