package agent

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kudrive/kudrive/internal/health"
	"github.com/kudrive/kudrive/internal/message"
	"github.com/kudrive/kudrive/internal/pending"
)

var errNoPeerTransport = errors.New("agent: no peer transport configured")

const (
	healthTimeout = 5 * time.Second
	timerInterval = 1 * time.Second
)

// Handler is the client-side event loop (§4.8): a single inbox
// multiplexing server messages, local commands, file-map updates,
// consequences, claim-handshake Opened notifications, timer ticks, and
// unhealthy alerts.
type Handler struct {
	addr     string
	group    uuid.UUID
	id       uuid.UUID
	nickname string

	peer peerTransport

	inbox chan ClientEvent
	sc    *serverConn

	pendings *pending.Registry[chan<- Consequence]
	watchdog *health.Watchdog[ClientEvent]

	files          message.FileMap
	lastClients    []message.Client

	stopTimer chan struct{}
}

// New constructs a Handler. peer may be nil in tests that don't
// exercise the claim handshake; Run will log and skip peer-transport
// calls in that case rather than panic.
func New(addr string, group, id uuid.UUID, nickname string, peer peerTransport) *Handler {
	return &Handler{
		addr:      addr,
		group:     group,
		id:        id,
		nickname:  nickname,
		peer:      peer,
		inbox:     make(chan ClientEvent, 1024),
		pendings:  pending.New[chan<- Consequence](),
		stopTimer: make(chan struct{}),
	}
}

// Inbox lets external producers (the filesystem watcher, the command
// API) post events without depending on Handler internals.
func (h *Handler) Inbox() chan<- ClientEvent { return h.inbox }

// SetPeer attaches the peer transport after construction, for callers
// that must build the transport from this Handler's own Inbox() (the
// transport posts Opened/Consequence events back into it) before a
// transport value exists to pass to New. Call before Start/Run; it is
// not safe to call once the event loop is running.
func (h *Handler) SetPeer(p peerTransport) { h.peer = p }

// Start connects and registers (retrying forever, per §7's client
// retry policy), arms the watchdog, and starts the 1s health-check
// timer. It blocks until the first successful connection.
func (h *Handler) Start() {
	h.connectAndRegister()
	go h.runTimer()
}

// runTimer emits ClientEvent::Timer once a second until Stop.
func (h *Handler) runTimer() {
	ticker := time.NewTicker(timerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.inbox <- EventTimer()
		case <-h.stopTimer:
			return
		}
	}
}

// connectAndRegister implements the reconnect-forever-with-visible-
// logging policy from §7 and §4.8's Unhealthy handler: dial, send
// Register, rearm the watchdog. Retries indefinitely on failure.
func (h *Handler) connectAndRegister() {
	delay := time.Second
	for {
		sc, err := dialServer(h.addr, h.inbox)
		if err != nil {
			log.Printf("agent: connect to %s failed: %v — retrying in %s", h.addr, err, delay)
			time.Sleep(delay)
			delay = backoff(delay)
			continue
		}
		client := message.Client{Group: h.group, ID: h.id, Nickname: h.nickname, Files: h.files}
		if err := sc.transmit(message.ClientRegister(client)); err != nil {
			log.Printf("agent: register with %s failed: %v — retrying in %s", h.addr, err, delay)
			sc.close()
			time.Sleep(delay)
			delay = backoff(delay)
			continue
		}
		h.sc = sc
		h.watchdog = health.New[ClientEvent](h.inbox, EventUnhealthy(), healthTimeout)
		h.watchdog.Check()
		log.Printf("agent: connected and registered with %s", h.addr)
		return
	}
}

func backoff(d time.Duration) time.Duration {
	d *= 2
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}

// Run drives the event loop until stopped. It is the sole writer of
// h.lastClients and h.files; h.sc and h.watchdog are written by Start's
// first connect on the caller's goroutine and afterwards only here.
func (h *Handler) Run() {
	for event := range h.inbox {
		h.handle(event)
	}
}

// Stop ends the timer goroutine and closes the server connection. The
// inbox itself is left open; callers that own Handler are expected to
// stop feeding it before Run returns control.
func (h *Handler) Stop() {
	close(h.stopTimer)
	if h.watchdog != nil {
		h.watchdog.Stop()
	}
	if h.sc != nil {
		h.sc.close()
	}
}

func (h *Handler) handle(event ClientEvent) {
	switch {
	case event.Message != nil:
		h.handleServerMessage(*event.Message)
	case event.Command != nil:
		h.handleCommand(event.Command.Cmd, event.Command.Responder)
	case event.FileMapUpdate != nil:
		h.files = *event.FileMapUpdate
		h.transmit(message.ClientFileMapUpdate(h.files))
	case event.Consequence != nil:
		h.handleConsequence(event.Consequence.ID, event.Consequence.Consequence)
	case event.Opened != nil:
		h.handleOpened(*event.Opened)
	case event.Timer:
		h.transmit(message.ClientHealthCheck())
	case event.Unhealthy:
		select {
		case <-h.stopTimer:
			// Stop closed the connection on purpose; do not reconnect.
			return
		default:
		}
		log.Printf("agent: connection to %s unhealthy, reconnecting", h.addr)
		if h.sc != nil {
			h.sc.close()
		}
		h.connectAndRegister()
	}
}

// handleServerMessage implements §4.9's dispatch table.
func (h *Handler) handleServerMessage(msg message.ServerMessage) {
	switch {
	case msg.HealthCheck != nil:
		if h.watchdog == nil {
			h.inbox <- EventUnhealthy()
			return
		}
		h.watchdog.Check()
	case msg.ClientsUpdate != nil:
		h.lastClients = msg.ClientsUpdate.Clients
	case msg.FileClaim != nil:
		h.handleFileClaim(msg.FileClaim.Claim, msg.FileClaim.Peer)
	}
}

func (h *Handler) handleFileClaim(claim message.FileClaim, peer message.Peer) {
	if h.peer == nil {
		log.Printf("agent: received FileClaim with no peer transport configured, dropping")
		return
	}
	switch {
	case claim.IsSend():
		h.peer.SendOpen(false, claim.Send.Pending, peer)
	case claim.IsReceive():
		h.peer.Receive(claim.Receive.Pending, peer)
	}
}

func (h *Handler) handleCommand(cmd Command, responder chan<- Consequence) {
	id := h.pendings.Insert(responder)
	switch {
	case cmd.Clients != nil:
		clients := h.lastClients
		h.inbox <- EventConsequence(id, ConsequenceClients(clients, nil))
	case cmd.FileSend != nil:
		if h.peer == nil {
			h.inbox <- EventConsequence(id, ConsequenceFileSend(errNoPeerTransport))
			return
		}
		h.peer.SendOpen(true, id, cmd.FileSend.Peer)
	case cmd.FileReceive != nil:
		h.transmit(message.ClientFileClaim(message.NewSendClaim(id), cmd.FileReceive.Peer))
	}
}

func (h *Handler) handleConsequence(id uint64, c Consequence) {
	responder, ok := h.pendings.Remove(id)
	if !ok {
		return
	}
	select {
	case responder <- c:
	default:
	}
}

// handleOpened implements §4.11 step 6 and its sender-initiated
// mirror: when wid is set, this side opened its own FileSend listener
// and the command itself is done, so the waiting responder is
// resolved directly. Otherwise this is the receiver-initiated path:
// forward a ReceiveClaim carrying rid (the counterpart's pending id
// from its SendClaim) back through the server so the counterpart's
// FileReceive path proceeds.
func (h *Handler) handleOpened(o Opened) {
	if o.WID != nil {
		h.handleConsequence(*o.WID, ConsequenceFileSend(nil))
		return
	}
	h.transmit(message.ClientFileClaim(message.NewReceiveClaim(o.RID), o.Peer))
}

func (h *Handler) transmit(msg message.ClientMessage) {
	if h.sc == nil {
		return
	}
	if err := h.sc.transmit(msg); err != nil {
		log.Printf("agent: transmit failed: %v", err)
		h.inbox <- EventUnhealthy()
	}
}

// Clients returns the locally cached last ClientsUpdate, matching the
// synchronous Command::Clients semantics.
func (h *Handler) Clients() []message.Client { return h.lastClients }
