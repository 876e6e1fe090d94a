package peer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDeriveKeyIsDeterministic(t *testing.T) {
	seed := uuid.New().String()
	k1, err := deriveKey(seed)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	k2, err := deriveKey(seed)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	b1, _ := k1.Raw()
	b2, _ := k2.Raw()
	if !bytes.Equal(b1, b2) {
		t.Fatalf("deriveKey(%q) produced different keys across calls", seed)
	}
}

func TestDeriveKeyDiffersAcrossSeeds(t *testing.T) {
	k1, _ := deriveKey(uuid.New().String())
	k2, _ := deriveKey(uuid.New().String())
	b1, _ := k1.Raw()
	b2, _ := k2.Raw()
	if bytes.Equal(b1, b2) {
		t.Fatalf("distinct seeds produced identical keys")
	}
}

func TestPeerIDForMatchesDerivedKey(t *testing.T) {
	seed := uuid.New().String()
	id1, err := peerIDFor(seed)
	if err != nil {
		t.Fatalf("peerIDFor: %v", err)
	}
	priv, err := deriveKey(seed)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	pub := priv.GetPublic()
	wantID, err := peerIDFromPublic(pub)
	if err != nil {
		t.Fatalf("peerIDFromPublic: %v", err)
	}
	if id1 != wantID {
		t.Fatalf("peerIDFor(%q) = %s, want %s derived from the same key's public half", seed, id1, wantID)
	}
}

func TestFileResponseErrorSentinel(t *testing.T) {
	resp := errorResponse("report.pdf", "/home/report.pdf", "/tmp/report.pdf", errors.New("permission denied"))
	if !resp.isError() {
		t.Fatalf("errorResponse did not produce an error-flagged response")
	}
	if resp.errorMessage() != "permission denied" {
		t.Fatalf("errorMessage() = %q, want %q", resp.errorMessage(), "permission denied")
	}
	if resp.Content != nil {
		t.Fatalf("error response carries content: %v", resp.Content)
	}
}

func TestFileResponseSuccessIsNotFlaggedAsError(t *testing.T) {
	resp := fileResponse{FileName: "report.pdf", Content: []byte("data")}
	if resp.isError() {
		t.Fatalf("success response flagged as error")
	}
}

func TestFileRequestRoundTripsOverJSON(t *testing.T) {
	var buf bytes.Buffer
	req := fileRequest{FileName: "a.txt", TargetPath: "/home/a.txt", SavePath: "/tmp/a.txt"}
	if err := writeJSON(&buf, req); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	var got fileRequest
	if err := readJSON(&buf, &got); err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if got != req {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}
