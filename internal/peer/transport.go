// Package peer implements the libp2p-backed peer transport (§4.10):
// a command-queue actor fronting a libp2p host, circuit-relay
// bootstrapping, and the file-transfer stream codec. It is the
// concrete implementation behind the peerTransport interface
// internal/agent depends on.
package peer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/host/autorelay"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/kudrive/kudrive/internal/agent"
	"github.com/kudrive/kudrive/internal/config"
	"github.com/kudrive/kudrive/internal/message"
)

const (
	connectTimeout   = 15 * time.Second
	transferTimeout  = 30 * time.Second
	relayWaitTimeout = 10 * time.Second
	fileSendTimeout  = 2 * time.Minute
	maxDialRetry     = 5

	// relayConnectTimeout and listenTimeout bound Execute's wait for
	// ConnectToRelay/ListenToPeer; both must cover the worst case of the
	// dispatch-side work they wait on (connectToRelay's dial plus its
	// own circuit-addr wait, and listenToPeer's maxDialRetry attempts).
	relayConnectTimeout = connectTimeout + relayWaitTimeout
	listenTimeout       = time.Duration(maxDialRetry) * relayWaitTimeout
)

// Transport owns the libp2p host and the single goroutine that
// serializes every command against it, the way internal/server.Handler
// and internal/agent.Handler each own a single inbox goroutine.
type Transport struct {
	host      host.Host
	self      uuid.UUID
	relayAddr ma.Multiaddr
	relayID   libp2ppeer.ID

	commands chan commandEnvelope
	inbox    chan<- agent.ClientEvent

	mu          sync.Mutex
	pendingOpen map[string]chan<- Response
	connected   map[uuid.UUID]struct{}
}

// New constructs the host from cfg (§6.2's deterministic Ed25519
// identity and relay bootstrap multiaddr) and starts the actor
// goroutine. inbox is the owning agent.Handler's event inbox, used to
// deliver Opened and Consequence events asynchronously.
func New(cfg config.Config, inbox chan<- agent.ClientEvent) (*Transport, error) {
	priv, err := deriveKey(cfg.ID.MyID.String())
	if err != nil {
		return nil, fmt.Errorf("peer: deriving identity: %w", err)
	}

	relayAddr, err := ma.NewMultiaddr(cfg.Server.P2PRelayAddr)
	if err != nil {
		return nil, fmt.Errorf("peer: parsing relay address %q: %w", cfg.Server.P2PRelayAddr, err)
	}
	relayInfo, err := libp2ppeer.AddrInfoFromP2pAddr(relayAddr)
	if err != nil {
		return nil, fmt.Errorf("peer: relay address %q has no /p2p suffix: %w", cfg.Server.P2PRelayAddr, err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Server.P2PPort)),
		libp2p.EnableRelay(),
		libp2p.EnableHolePunching(),
		libp2p.EnableAutoRelayWithStaticRelays([]libp2ppeer.AddrInfo{*relayInfo},
			autorelay.WithBootDelay(0),
			autorelay.WithBackoff(30*time.Second),
		),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("peer: constructing host: %w", err)
	}

	t := &Transport{
		host:        h,
		self:        cfg.ID.MyID,
		relayAddr:   relayAddr,
		relayID:     relayInfo.ID,
		commands:    make(chan commandEnvelope, 64),
		inbox:       inbox,
		pendingOpen: make(map[string]chan<- Response),
		connected:   make(map[uuid.UUID]struct{}),
	}
	h.SetStreamHandler(fileTransferProtocol, t.handleIncomingStream)
	go t.run()
	return t, nil
}

// run is the transport's driver goroutine: the only goroutine that
// ever touches t.host. Every operation — including the ones exposed
// through SendOpen/Receive/Close — is submitted here through Execute
// and processed one at a time by dispatch.
func (t *Transport) run() {
	for env := range t.commands {
		if env.cmd.Exit != nil {
			err := t.host.Close()
			env.responder <- Response{Err: err}
			return
		}
		t.dispatch(env)
	}
}

func (t *Transport) dispatch(env commandEnvelope) {
	switch {
	case env.cmd.GetId != nil:
		id := t.self
		env.responder <- Response{Id: &id}
	case env.cmd.GetStatus != nil:
		status := t.status()
		env.responder <- Response{Status: &status}
	case env.cmd.GetListenAddr != nil:
		addrs := make([]string, 0, len(t.host.Addrs()))
		for _, a := range t.host.Addrs() {
			addrs = append(addrs, a.String())
		}
		env.responder <- Response{ListenAddr: addrs}
	case env.cmd.GetPendingRequests != nil:
		t.mu.Lock()
		keys := make([]string, 0, len(t.pendingOpen))
		for k := range t.pendingOpen {
			keys = append(keys, k)
		}
		t.mu.Unlock()
		env.responder <- Response{PendingRequests: keys}
	case env.cmd.ConnectToRelay != nil:
		env.responder <- Response{Err: t.connectToRelay()}
	case env.cmd.ListenToPeer != nil:
		env.responder <- Response{Err: t.listenToPeer()}
	case env.cmd.ConnectToPeer != nil:
		env.responder <- Response{Err: t.connectToPeer(env.cmd.ConnectToPeer.Remote)}
	case env.cmd.SendFileOpen != nil:
		// Deferred: resolved by handleIncomingStream once a matching
		// request arrives, per §4.10's correlation-by-source-path rule.
		t.mu.Lock()
		t.pendingOpen[env.cmd.SendFileOpen.Source] = env.responder
		t.mu.Unlock()
	case env.cmd.RecvFile != nil:
		c := env.cmd.RecvFile
		err := t.connectToPeer(c.Remote)
		if err == nil {
			err = t.recvFile(c.Remote, c.Source, c.Target)
		}
		env.responder <- Response{Err: err}
	}
}

// connectToRelay dials the configured relay and waits for a
// circuit-relay address to appear, the Go analogue of goop2's
// WaitForRelay polling loop (observed-addr-told/learned identify
// events are not exposed as a public libp2p API to wait on directly,
// so polling Host.Addrs() is the grounded substitute).
func (t *Transport) connectToRelay() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	info := libp2ppeer.AddrInfo{ID: t.relayID, Addrs: []ma.Multiaddr{t.relayAddr}}
	if err := t.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("peer: connecting to relay: %w", err)
	}
	return t.waitForCircuitAddr(relayWaitTimeout)
}

// listenToPeer waits for a circuit-relay listen address to appear on
// the host, for up to maxDialRetry windows of relayWaitTimeout. It
// requests no reservation itself: the reservation is made in the
// background by the host's static-relay autorelay option.
func (t *Transport) listenToPeer() error {
	var lastErr error
	for attempt := 0; attempt < maxDialRetry; attempt++ {
		if err := t.waitForCircuitAddr(relayWaitTimeout); err == nil {
			return nil
		} else {
			lastErr = err
		}
		log.Printf("peer: circuit-relay reservation attempt %d/%d failed: %v", attempt+1, maxDialRetry, lastErr)
	}
	return fmt.Errorf("peer: no circuit-relay listener after %d attempts: %w", maxDialRetry, lastErr)
}

func (t *Transport) waitForCircuitAddr(timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	if t.hasCircuitAddr() {
		return nil
	}
	for {
		select {
		case <-deadline:
			return fmt.Errorf("peer: timed out waiting for circuit-relay address")
		case <-tick.C:
			if t.hasCircuitAddr() {
				return nil
			}
		}
	}
}

func (t *Transport) hasCircuitAddr() bool {
	for _, a := range t.host.Addrs() {
		for _, p := range a.Protocols() {
			if p.Code == ma.P_CIRCUIT {
				return true
			}
		}
	}
	return false
}

// connectToPeer dials remote through the relay's circuit address, per
// §4.10's dial discipline ("relay /p2p-circuit /p2p/<remote>").
func (t *Transport) connectToPeer(remote uuid.UUID) error {
	remoteID, err := peerIDFor(remote.String())
	if err != nil {
		return fmt.Errorf("peer: deriving id for %s: %w", remote, err)
	}
	circuit, err := ma.NewMultiaddr(fmt.Sprintf("%s/p2p-circuit/p2p/%s", t.relayAddr, remoteID))
	if err != nil {
		return fmt.Errorf("peer: building circuit address for %s: %w", remote, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := t.host.Connect(ctx, libp2ppeer.AddrInfo{ID: remoteID, Addrs: []ma.Multiaddr{circuit}}); err != nil {
		return fmt.Errorf("peer: connecting to %s via relay: %w", remote, err)
	}
	t.mu.Lock()
	t.connected[remote] = struct{}{}
	t.mu.Unlock()
	return nil
}

func (t *Transport) status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.connected) > 0 {
		ids := make([]uuid.UUID, 0, len(t.connected))
		for id := range t.connected {
			ids = append(ids, id)
		}
		return Status{Kind: PeerConnected, Peers: ids}
	}
	if t.hasCircuitAddr() {
		return Status{Kind: RelayConnected}
	}
	return Status{Kind: NotConnected}
}

// recvFile implements the requester side of the file-transfer codec
// (§4.10): open a stream, send the request, write the response's
// content to target (or surface the remote's sentinel error).
func (t *Transport) recvFile(remote uuid.UUID, source, target string) error {
	remoteID, err := peerIDFor(remote.String())
	if err != nil {
		return fmt.Errorf("peer: deriving id for %s: %w", remote, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()
	s, err := t.host.NewStream(ctx, remoteID, fileTransferProtocol)
	if err != nil {
		return fmt.Errorf("peer: opening stream to %s: %w", remote, err)
	}
	defer s.Close()

	req := fileRequest{FileName: filepath.Base(source), TargetPath: source, SavePath: target}
	if err := writeJSON(s, req); err != nil {
		return fmt.Errorf("peer: sending file request: %w", err)
	}
	var resp fileResponse
	if err := readJSON(s, &resp); err != nil {
		return fmt.Errorf("peer: reading file response: %w", err)
	}
	if resp.isError() {
		return fmt.Errorf("peer: remote reported: %s", resp.errorMessage())
	}
	if err := os.WriteFile(target, resp.Content, 0o644); err != nil {
		return fmt.Errorf("peer: writing %s: %w", target, err)
	}
	return nil
}

// handleIncomingStream serves the provider side of the file-transfer
// codec and resolves any Command::SendFileOpen waiting on this source
// path, per §4.10's correlation rule.
func (t *Transport) handleIncomingStream(s network.Stream) {
	defer s.Close()

	var req fileRequest
	if err := readJSON(s, &req); err != nil {
		log.Printf("peer: decoding file request: %v", err)
		return
	}

	data, readErr := os.ReadFile(req.TargetPath)
	var resp fileResponse
	if readErr != nil {
		resp = errorResponse(req.FileName, req.TargetPath, req.SavePath, readErr)
	} else {
		resp = fileResponse{FileName: req.FileName, SrcPath: req.TargetPath, TgtPath: req.SavePath, Content: data}
	}
	if err := writeJSON(s, resp); err != nil {
		log.Printf("peer: writing file response: %v", err)
	}

	t.mu.Lock()
	responder, ok := t.pendingOpen[req.TargetPath]
	if ok {
		delete(t.pendingOpen, req.TargetPath)
	}
	t.mu.Unlock()
	if ok {
		responder <- Response{Err: readErr}
	}
}

// The methods below satisfy internal/agent's peerTransport interface.

func (t *Transport) ID() uuid.UUID { return t.self }

// SendOpen implements §4.11 step 4/5 and its sender-initiated mirror.
// Both branches first wait for a circuit-relay listen address
// (ListenToPeer), since the always-on stream handler can only serve a
// fetcher that can actually reach us through the relay; if that wait
// fails it is logged and the listener is declared open anyway. own=false: a counterpart's SendClaim named us as the file
// holder. own=true: a local Command::FileSend registers readiness and
// resolves its own Consequence once the listener is up. All host work
// runs on the driver goroutine via Execute; this goroutine only waits.
func (t *Transport) SendOpen(own bool, pending uint64, p message.Peer) {
	id := pending
	go func() {
		if _, err := Execute(t, CmdListenToPeer(), listenTimeout); err != nil {
			log.Printf("peer: reserving relay listener for %s: %v", p.Source, err)
		}

		if !own {
			t.inbox <- agent.EventOpened(nil, &id, p)
			return
		}

		t.inbox <- agent.EventOpened(&id, nil, p)

		resp, err := Execute(t, CmdSendFileOpen(p.Source), fileSendTimeout)
		if err != nil {
			t.clearPendingOpen(p.Source)
			t.inbox <- agent.EventConsequence(pending, agent.ConsequenceFileSend(err))
			return
		}
		t.inbox <- agent.EventConsequence(pending, agent.ConsequenceFileSend(resp.Err))
	}()
}

// clearPendingOpen drops a stale registration left behind when Execute
// gave up waiting on Command::SendFileOpen before a matching inbound
// request ever arrived.
func (t *Transport) clearPendingOpen(source string) {
	t.mu.Lock()
	delete(t.pendingOpen, source)
	t.mu.Unlock()
}

// Receive implements §4.11 step 8: ensure the relay connection is up,
// then drive the connect-and-fetch through the actor, then resolve
// pending (if present) with the outcome. All host work runs on the
// driver goroutine via Execute; this goroutine only waits.
func (t *Transport) Receive(pending *uint64, p message.Peer) {
	go func() {
		if _, err := Execute(t, CmdConnectToRelay(), relayConnectTimeout); err != nil {
			log.Printf("peer: connecting to relay before receiving %s: %v", p.Source, err)
		}

		resp, err := Execute(t, CmdRecvFile(p.ID, p.Source, p.Target), connectTimeout+transferTimeout)
		if err == nil {
			err = resp.Err
		}
		if pending != nil {
			t.inbox <- agent.EventConsequence(*pending, agent.ConsequenceFileReceive(err))
		}
	}()
}

// Close submits Exit through the command queue so the host is still
// only ever touched by the driver goroutine, even on shutdown.
func (t *Transport) Close() error {
	_, err := Execute(t, CmdExit(), connectTimeout)
	return err
}
