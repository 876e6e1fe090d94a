package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kudrive/kudrive/internal/message"
	"github.com/kudrive/kudrive/internal/wire"
)

// testConn bundles a raw TCP connection with its frame reader/writer
// so scenario tests can speak the wire protocol directly, the way a
// real client agent would.
type testConn struct {
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer
}

func dial(t *testing.T, addr string) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return &testConn{conn: conn, reader: wire.NewReader(conn), writer: wire.NewWriter(conn)}
}

func (c *testConn) send(t *testing.T, m message.ClientMessage) {
	t.Helper()
	b, err := message.EncodeClientMessage(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.writer.WriteFrame(b); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (c *testConn) recv(t *testing.T) message.ServerMessage {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := c.reader.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	m, err := message.DecodeServerMessage(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func setup(t *testing.T) (addr string, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx, ln)
		close(done)
	}()
	return ln.Addr().String(), func() {
		cancel()
		<-done
	}
}

// S1 Registration broadcast.
func TestRegistrationBroadcast(t *testing.T) {
	addr, cleanup := setup(t)
	defer cleanup()

	group := uuid.New()
	idA, idB := uuid.New(), uuid.New()

	a := dial(t, addr)
	a.send(t, message.ClientRegister(message.Client{Group: group, ID: idA, Nickname: "a"}))

	first := a.recv(t)
	if first.ClientsUpdate == nil || len(first.ClientsUpdate.Clients) != 1 {
		t.Fatalf("A's first ClientsUpdate = %+v, want self-only", first)
	}

	b := dial(t, addr)
	b.send(t, message.ClientRegister(message.Client{Group: group, ID: idB, Nickname: "b"}))

	second := a.recv(t)
	if second.ClientsUpdate == nil || len(second.ClientsUpdate.Clients) != 2 {
		t.Fatalf("A's second ClientsUpdate = %+v, want both members", second)
	}

	bUpdate := b.recv(t)
	if bUpdate.ClientsUpdate == nil || len(bUpdate.ClientsUpdate.Clients) != 2 {
		t.Fatalf("B's ClientsUpdate = %+v, want both members", bUpdate)
	}
}

// S2 File-map propagation.
func TestFileMapPropagation(t *testing.T) {
	addr, cleanup := setup(t)
	defer cleanup()

	group := uuid.New()
	idA, idB := uuid.New(), uuid.New()

	a := dial(t, addr)
	a.send(t, message.ClientRegister(message.Client{Group: group, ID: idA, Nickname: "a"}))
	a.recv(t) // self-only snapshot

	b := dial(t, addr)
	b.send(t, message.ClientRegister(message.Client{Group: group, ID: idB, Nickname: "b"}))
	a.recv(t) // both-members snapshot from B joining
	b.recv(t)

	fm := message.FileMap{Files: []message.File{{Name: "home/a.txt"}}, Folders: []message.Folder{{Name: "home/"}}}
	a.send(t, message.ClientFileMapUpdate(fm))

	for _, c := range []*testConn{a, b} {
		update := c.recv(t)
		if update.ClientsUpdate == nil {
			t.Fatalf("expected ClientsUpdate, got %+v", update)
		}
		var found bool
		for _, cl := range update.ClientsUpdate.Clients {
			if cl.ID == idA {
				found = true
				if len(cl.Files.Files) != 1 || cl.Files.Files[0].Name != "home/a.txt" {
					t.Fatalf("A's files in update = %+v, want [home/a.txt]", cl.Files)
				}
			}
		}
		if !found {
			t.Fatal("update did not contain A's record")
		}
	}
}

// Register followed immediately by a FileMapUpdate, with no read of the
// self-only ClientsUpdate in between, must not be treated as a
// protocol violation: the handler applies its own Group assignment
// synchronously inside Register, before the next frame off the wire is
// decoded.
func TestFileMapUpdateRightAfterRegisterIsNotAProtocolError(t *testing.T) {
	addr, cleanup := setup(t)
	defer cleanup()

	group := uuid.New()
	idA := uuid.New()

	a := dial(t, addr)
	a.send(t, message.ClientRegister(message.Client{Group: group, ID: idA, Nickname: "a"}))

	fm := message.FileMap{Files: []message.File{{Name: "home/a.txt"}}}
	a.send(t, message.ClientFileMapUpdate(fm))

	first := a.recv(t)
	if first.ClientsUpdate == nil || len(first.ClientsUpdate.Clients) != 1 {
		t.Fatalf("first update = %+v, want self-only ClientsUpdate from Register", first)
	}

	second := a.recv(t)
	if second.ClientsUpdate == nil {
		t.Fatalf("second update = %+v, want ClientsUpdate from FileMapUpdate", second)
	}
	var found bool
	for _, cl := range second.ClientsUpdate.Clients {
		if cl.ID == idA && len(cl.Files.Files) == 1 && cl.Files.Files[0].Name == "home/a.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("second update = %+v, want A's file map applied", second)
	}
}

// S6 Unknown variant: a valid-framed JSON object matching no
// ClientMessage variant must close the connection with a protocol
// error and mutate no state.
func TestUnknownVariantClosesConnection(t *testing.T) {
	addr, cleanup := setup(t)
	defer cleanup()

	a := dial(t, addr)
	if err := a.writer.WriteFrame([]byte(`{"Foo":{}}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	a.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if n, err := a.conn.Read(buf); n != 0 || err == nil {
		t.Fatalf("expected connection close, got n=%d err=%v", n, err)
	}
}

// S5 Protocol violation: an oversized length prefix must close the
// connection rather than hang waiting for more bytes.
func TestOversizedLengthClosesConnection(t *testing.T) {
	addr, cleanup := setup(t)
	defer cleanup()

	a := dial(t, addr)
	a.conn.Write([]byte{0xFF, 0xFF, 0xFF, 0x7F, 0x00})

	a.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if n, err := a.conn.Read(buf); n != 0 || err == nil {
		t.Fatalf("expected connection close, got n=%d err=%v", n, err)
	}
}
