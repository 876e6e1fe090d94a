package server

import (
	"testing"

	"github.com/google/uuid"

	"github.com/kudrive/kudrive/internal/message"
)

func newClient(nickname string) message.Client {
	return message.Client{Group: uuid.New(), ID: uuid.New(), Nickname: nickname}
}

func TestGroupInsertUpdateRemove(t *testing.T) {
	g := NewGroup()
	c := newClient("alice")
	sink := make(chan ServerEvent, 1)
	g.Insert(c, sink)

	if got := g.Flatten(); len(got) != 1 || got[0].ID != c.ID {
		t.Fatalf("Flatten after Insert = %+v", got)
	}

	c.Files = message.FileMap{Files: []message.File{{Name: "home/a.txt"}}}
	g.Update(c)
	got := g.Flatten()
	if len(got) != 1 || len(got[0].Files.Files) != 1 {
		t.Fatalf("Flatten after Update = %+v", got)
	}

	g.Remove(c.ID)
	if got := g.Flatten(); len(got) != 0 {
		t.Fatalf("Flatten after Remove = %+v, want empty", got)
	}
}

func TestGroupFindByNickname(t *testing.T) {
	g := NewGroup()
	a := newClient("alice")
	g.Insert(a, make(chan ServerEvent, 1))

	id, ok := g.FindByNickname("alice")
	if !ok || id != a.ID {
		t.Fatalf("FindByNickname(alice) = %v, %v, want %v, true", id, ok, a.ID)
	}
	if _, ok := g.FindByNickname("nobody"); ok {
		t.Fatal("FindByNickname(nobody) should miss")
	}
}

func TestGroupBroadcastIsBestEffort(t *testing.T) {
	g := NewGroup()
	full := newClient("full")
	fullSink := make(chan ServerEvent) // unbuffered, nothing draining it
	g.Insert(full, fullSink)

	ready := newClient("ready")
	readySink := make(chan ServerEvent, 1)
	g.Insert(ready, readySink)

	g.Broadcast(PeerEventUpdate())

	select {
	case <-readySink:
	default:
		t.Fatal("ready sink should have received the broadcast")
	}
	// full's sink is never drained; Broadcast must not have blocked or
	// removed it from the table.
	if got := g.Flatten(); len(got) != 2 {
		t.Fatalf("Flatten after best-effort broadcast = %+v, want 2 members still present", got)
	}
}

func TestGroupUnicastUnknownTarget(t *testing.T) {
	g := NewGroup()
	if ok := g.Unicast(uuid.New(), PeerEventUpdate()); ok {
		t.Fatal("Unicast to unknown id should report false")
	}
}
