package peer

import (
	"bytes"

	"github.com/libp2p/go-libp2p/core/crypto"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
)

// deriveKey builds the deterministic Ed25519 keypair described in
// §6.2: copy up to 32 bytes of seed into a zero-padded 32-byte
// buffer, and use those bytes directly as the Ed25519 seed. Unlike
// goop2's loadOrCreateKey (which persists a random key to disk), a
// node derives the same key from the same seed on every run; the seed
// is the client id, so any agent can compute a peer's libp2p identity
// from its client id alone.
func deriveKey(seed string) (crypto.PrivKey, error) {
	var buf [32]byte
	copy(buf[:], seed)
	priv, _, err := crypto.GenerateEd25519Key(bytes.NewReader(buf[:]))
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// peerIDFor returns the libp2p peer.ID a node identified by seed would
// derive, without needing its private key. Used to address a remote
// client by its KUDrive client id.
func peerIDFor(seed string) (libp2ppeer.ID, error) {
	priv, err := deriveKey(seed)
	if err != nil {
		return "", err
	}
	return libp2ppeer.IDFromPrivateKey(priv)
}

func peerIDFromPublic(pub crypto.PubKey) (libp2ppeer.ID, error) {
	return libp2ppeer.IDFromPublicKey(pub)
}
