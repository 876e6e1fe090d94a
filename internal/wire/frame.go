// Package wire implements the length-prefixed framing used on every
// control-plane stream: a u32 little-endian length header followed by
// that many bytes of JSON payload.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrProtocol marks a framing violation: a length prefix so large it
// cannot plausibly be a control-plane message, or a stream that ended
// mid-frame.
var ErrProtocol = errors.New("wire: protocol error")

// MaxFrameLen bounds the length prefix so a corrupt or hostile header
// can't make the reader allocate unbounded memory.
const MaxFrameLen = 64 << 20 // 64 MiB

// Reader decodes frames off an underlying stream, accumulating partial
// reads the way the listener on the other end of this protocol always
// has: read what's available, decode as many complete frames as the
// buffer allows, keep the remainder for next time.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame blocks for exactly one frame's payload bytes. io.EOF is
// returned verbatim when the stream ends on a frame boundary; any
// other termination mid-frame is reported as ErrProtocol.
func (r *Reader) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading length prefix: %v", ErrProtocol, err)
	}
	length := binary.LittleEndian.Uint32(hdr[:])
	if length > MaxFrameLen {
		return nil, fmt.Errorf("%w: frame length %d exceeds maximum %d", ErrProtocol, length, MaxFrameLen)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("%w: reading %d-byte payload: %v", ErrProtocol, length, err)
	}
	return payload, nil
}

// Writer encodes frames onto an underlying stream.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes a single length-prefixed frame. Callers must
// serialize calls to WriteFrame themselves if the stream is shared;
// Writer holds no lock of its own.
func (w *Writer) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("%w: payload of %d bytes exceeds maximum %d", ErrProtocol, len(payload), MaxFrameLen)
	}
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.w.Write(buf)
	if err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
