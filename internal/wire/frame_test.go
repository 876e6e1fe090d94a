package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	payloads := [][]byte{
		[]byte(`{"HealthCheck":{}}`),
		[]byte(`{}`),
		[]byte(``),
	}
	for _, p := range payloads {
		if err := w.WriteFrame(p); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	r := NewReader(&buf)
	for i, want := range payloads {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Errorf("trailing ReadFrame = %v, want io.EOF", err)
	}
}

func TestReadFrameAccumulatesPartialReads(t *testing.T) {
	payload := []byte(`{"Register":{"client":{}}}`)
	var full bytes.Buffer
	if err := NewWriter(&full).WriteFrame(payload); err != nil {
		t.Fatal(err)
	}
	encoded := full.Bytes()

	pr, pw := io.Pipe()
	go func() {
		for _, b := range encoded {
			pw.Write([]byte{b})
		}
		pw.Close()
	}()

	r := NewReader(pr)
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestReadFrameEOFMidFrameIsProtocolError(t *testing.T) {
	// valid 4-byte header claiming a payload, but the stream ends after one byte
	var buf bytes.Buffer
	buf.Write([]byte{0x05, 0x00, 0x00, 0x00})
	buf.Write([]byte{0x00})

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestReadFrameOversizedLengthIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0x7F}) // huge length, well beyond MaxFrameLen
	r := NewReader(&buf)
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestReadFrameCleanEOFAtBoundary(t *testing.T) {
	var buf bytes.Buffer
	r := NewReader(&buf)
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}
