package message

import (
	"testing"

	"github.com/google/uuid"
)

func TestClientMessageRoundTrip(t *testing.T) {
	c := Client{
		Group:    uuid.New(),
		ID:       uuid.New(),
		Nickname: "alice",
		Files: FileMap{
			OS:      OSInfo{Name: "linux"},
			Files:   []File{{Name: "home/a.txt"}},
			Folders: []Folder{{Name: "home/"}},
		},
	}
	orig := ClientRegister(c)
	b, err := EncodeClientMessage(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeClientMessage(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Register == nil || got.Register.Client.ID != c.ID {
		t.Fatalf("got %+v, want Register with client %+v", got, c)
	}
}

func TestUnknownVariantIsProtocolError(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"Foo":{}}`))
	if err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestFileClaimSendReceive(t *testing.T) {
	sc := NewSendClaim(42)
	if !sc.IsSend() || sc.IsReceive() {
		t.Fatalf("NewSendClaim produced %+v", sc)
	}
	if sc.Send.Pending != 42 {
		t.Errorf("Send.Pending = %d, want 42", sc.Send.Pending)
	}

	var rid uint64 = 7
	rc := NewReceiveClaim(&rid)
	if !rc.IsReceive() || rc.IsSend() {
		t.Fatalf("NewReceiveClaim produced %+v", rc)
	}

	nilRC := NewReceiveClaim(nil)
	if nilRC.Receive.Pending != nil {
		t.Errorf("expected nil Pending for relay-opener forward")
	}
}

func TestFileClaimMessageRewritesPeerID(t *testing.T) {
	sender := uuid.New()
	target := uuid.New()
	claim := NewSendClaim(1)
	msg := ClientFileClaim(claim, Peer{ID: target, Source: "home/a.txt", Target: "/tmp/a.txt"})

	b, err := EncodeClientMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeClientMessage(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Server-side rewrite: peer.id becomes the sender's id before fan-out.
	rewritten := got.FileClaim.Peer
	rewritten.ID = sender
	fwd := ServerFileClaim(got.FileClaim.Claim, rewritten)
	if fwd.FileClaim.Peer.ID != sender {
		t.Errorf("rewritten peer id = %v, want %v", fwd.FileClaim.Peer.ID, sender)
	}
}

func TestServerMessageVariantRejectsMultiple(t *testing.T) {
	m := ServerMessage{HealthCheck: &struct{}{}, ClientsUpdate: &ClientsUpdateMsg{}}
	if _, err := m.Variant(); err == nil {
		t.Fatal("expected error for multiply-populated union")
	}
}
