package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kudrive/kudrive/internal/message"
	kserver "github.com/kudrive/kudrive/internal/server"
)

// fakePeer stands in for internal/peer.Transport in tests: instead of
// driving a real libp2p swarm, it synchronously reports back into its
// own handler's inbox the way the real transport eventually would,
// once its listener/request completes.
type fakePeer struct {
	id      uuid.UUID
	handler *Handler
}

func (f *fakePeer) ID() uuid.UUID { return f.id }

func (f *fakePeer) SendOpen(own bool, pending uint64, peer message.Peer) {
	p := pending
	f.handler.Inbox() <- EventOpened(nil, &p, peer)
}

func (f *fakePeer) Receive(pending *uint64, peer message.Peer) {
	if pending == nil {
		return
	}
	f.handler.Inbox() <- EventConsequence(*pending, ConsequenceFileReceive(nil))
}

func startTestServer(t *testing.T) (addr string, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := kserver.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx, ln)
		close(done)
	}()
	return ln.Addr().String(), func() { cancel(); <-done }
}

// TestClaimHandshakeRoundTrip exercises S3: B calls FileReceive
// against A; the server forwards the claim both ways; each side's
// fake peer transport resolves its half; B's original caller receives
// Consequence::FileReceive{Ok}.
func TestClaimHandshakeRoundTrip(t *testing.T) {
	addr, cleanup := startTestServer(t)
	defer cleanup()

	group := uuid.New()
	idA, idB := uuid.New(), uuid.New()

	peerA := &fakePeer{id: idA}
	a := New(addr, group, idA, "a", peerA)
	peerA.handler = a
	go a.Run()
	a.Start()
	defer a.Stop()

	peerB := &fakePeer{id: idB}
	b := New(addr, group, idB, "b", peerB)
	peerB.handler = b
	go b.Run()
	b.Start()
	defer b.Stop()

	// let both sides finish registering and see each other's
	// ClientsUpdate snapshots before driving the handshake.
	time.Sleep(150 * time.Millisecond)

	err := FileReceive(b, idA, "home/a.txt", "/tmp/a.txt", 2*time.Second)
	if err != nil {
		t.Fatalf("FileReceive: %v", err)
	}
}

func TestClientsCommandReturnsCachedSnapshot(t *testing.T) {
	addr, cleanup := startTestServer(t)
	defer cleanup()

	group := uuid.New()
	id := uuid.New()
	h := New(addr, group, id, "solo", nil)
	go h.Run()
	h.Start()
	defer h.Stop()

	time.Sleep(150 * time.Millisecond)

	clients, err := Clients(h, 2*time.Second)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(clients) != 1 || clients[0].ID != id {
		t.Fatalf("Clients() = %+v, want self-only snapshot", clients)
	}
}
