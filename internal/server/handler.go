package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/kudrive/kudrive/internal/health"
	"github.com/kudrive/kudrive/internal/message"
	"github.com/kudrive/kudrive/internal/wire"
)

// handlerState is the per-connection state machine from the component
// design: Accepted -> Registered -> Removed. Modeled explicitly so
// illegal transitions (e.g. a FileMapUpdate before Register) are
// unrepresentable rather than guarded by a nullable field.
type handlerState int

const (
	stateAccepted handlerState = iota
	stateRegistered
	stateRemoved
)

const healthTimeout = 5 * time.Second

// Handler is the per-connection actor: it owns the framed stream, its
// watchdog, and — once registered — the group handle it was assigned.
type Handler struct {
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer

	meta   chan<- MetaEvent
	inbox  chan ServerEvent
	state  handlerState

	client *message.Client
	group  *Group

	watchdog *health.Watchdog[ServerEvent]
}

// NewHandler wires a freshly accepted connection: a frame reader goroutine
// feeds inbox, and a watchdog bound to healthTimeout sits alongside it
// so HealthCheck resets compete fairly with decoded frames.
func NewHandler(conn net.Conn, meta chan<- MetaEvent) *Handler {
	inbox := make(chan ServerEvent, 1024)
	h := &Handler{
		conn:   conn,
		reader: wire.NewReader(conn),
		writer: wire.NewWriter(conn),
		meta:   meta,
		inbox:  inbox,
		state:  stateAccepted,
	}
	h.watchdog = health.New[ServerEvent](inbox, EventUnhealthy(), healthTimeout)
	go h.readLoop()
	return h
}

// readLoop decodes frames off the connection and feeds them into the
// same inbox the rest of the handler's events arrive on, so Run can
// stay single-threaded.
func (h *Handler) readLoop() {
	for {
		payload, err := h.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, wire.ErrProtocol) {
				h.inbox <- ServerEvent{Unhealthy: true}
				return
			}
			log.Printf("server: read error: %v", err)
			h.inbox <- ServerEvent{Unhealthy: true}
			return
		}
		msg, err := message.DecodeClientMessage(payload)
		if err != nil {
			log.Printf("server: protocol error decoding frame: %v", err)
			h.inbox <- ServerEvent{Unhealthy: true}
			return
		}
		h.inbox <- EventMessage(msg)
	}
}

// Run drives the handler's event loop until the connection is removed.
// It is the single place that mutates h.state, h.client, and h.group.
func (h *Handler) Run() {
	defer h.conn.Close()
	defer h.watchdog.Stop()
	for h.state != stateRemoved {
		event := <-h.inbox
		if err := h.handle(event); err != nil {
			log.Printf("server: handler error: %v", err)
			h.remove()
			return
		}
	}
}

func (h *Handler) handle(event ServerEvent) error {
	switch {
	case event.Message != nil:
		return h.handleMessage(*event.Message)
	case event.Peer != nil:
		return h.handlePeer(*event.Peer)
	case event.Unhealthy:
		h.remove()
		return nil
	default:
		return fmt.Errorf("server: empty ServerEvent")
	}
}

func (h *Handler) handleMessage(msg message.ClientMessage) error {
	variant, err := msg.Variant()
	if err != nil {
		return err
	}

	if h.state == stateAccepted {
		if variant != "HealthCheck" && variant != "Register" {
			return fmt.Errorf("protocol error: %s before Register", variant)
		}
	}

	switch variant {
	case "HealthCheck":
		h.watchdog.Check()
		return h.transmit(message.ServerHealthCheck())
	case "Register":
		return h.register(msg.Register.Client)
	case "FileMapUpdate":
		if h.state != stateRegistered {
			return fmt.Errorf("protocol error: FileMapUpdate before Register")
		}
		return h.updateFileMap(msg.FileMapUpdate.FileMap)
	case "FileClaim":
		if h.state != stateRegistered {
			return fmt.Errorf("protocol error: FileClaim before Register")
		}
		return h.forwardClaim(msg.FileClaim.Claim, msg.FileClaim.Peer)
	default:
		return fmt.Errorf("unhandled client message variant %q", variant)
	}
}

func (h *Handler) handlePeer(event PeerEvent) error {
	switch {
	case event.Update:
		return h.propagate()
	case event.FileClaim != nil:
		return h.transmit(message.ServerFileClaim(event.FileClaim.Claim, event.FileClaim.Peer))
	default:
		return fmt.Errorf("server: empty PeerEvent")
	}
}

// register blocks until the server's dispatch goroutine hands back this
// client's Group over a dedicated channel, applying the assignment
// itself rather than waiting for a PeerEvent to surface from the
// shared inbox. This keeps Register's effect synchronous from the
// caller's perspective: by the time register returns, h.state is
// already stateRegistered, so a FileMapUpdate or FileClaim the readLoop
// decodes immediately afterward is never mistaken for a protocol
// violation.
func (h *Handler) register(client message.Client) error {
	h.client = &client
	ready := make(chan *Group, 1)
	h.meta <- NewMetaRegister(client, h.inbox, ready)
	h.group = <-ready
	h.state = stateRegistered
	return nil
}

func (h *Handler) updateFileMap(fm message.FileMap) error {
	if h.client == nil || h.group == nil {
		return fmt.Errorf("server: FileMapUpdate with no registered client")
	}
	h.client.Files = fm
	h.group.Update(*h.client)
	h.group.Broadcast(PeerEventUpdate())
	return nil
}

// forwardClaim rewrites peer.id to this handler's own client id
// (§4.2: the server always stamps the claim with the originator, not
// whatever the sender happened to put there) and unicasts to the
// target. An unknown target is dropped with a warning, not an error —
// the originating connection is otherwise healthy.
func (h *Handler) forwardClaim(claim message.FileClaim, peer message.Peer) error {
	if h.client == nil || h.group == nil {
		return fmt.Errorf("server: FileClaim with no registered client")
	}
	target := peer.ID
	peer.ID = h.client.ID
	if ok := h.group.Unicast(target, PeerEventFileClaim(claim, peer)); !ok {
		log.Printf("server: FileClaim target %s not connected, dropping", target)
	}
	return nil
}

func (h *Handler) propagate() error {
	if h.group == nil {
		return nil
	}
	return h.transmit(message.ServerClientsUpdate(h.group.Flatten()))
}

func (h *Handler) transmit(msg message.ServerMessage) error {
	b, err := message.EncodeServerMessage(msg)
	if err != nil {
		return fmt.Errorf("encoding server message: %w", err)
	}
	if err := h.writer.WriteFrame(b); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (h *Handler) remove() {
	if h.state == stateRemoved {
		return
	}
	h.state = stateRemoved
	if h.client != nil && h.group != nil {
		h.group.Remove(h.client.ID)
		h.group.Broadcast(PeerEventUpdate())
	}
}
