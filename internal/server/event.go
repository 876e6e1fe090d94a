package server

import (
	"github.com/kudrive/kudrive/internal/message"
)

// PeerEvent is the internal notification a ClientHandler receives from
// outside its own connection: a membership update that should trigger
// a fresh ClientsUpdate snapshot, or a claim being forwarded to it from
// another member. Group assignment is NOT delivered this way — see
// MetaEvent.Ready — because this inbox is fed concurrently by readLoop,
// and a business frame arriving ahead of the Group case here would
// violate the "Group is processed before the next ClientMessage"
// invariant.
type PeerEvent struct {
	Update    bool
	FileClaim *PeerFileClaim
}

type PeerFileClaim struct {
	Claim message.FileClaim
	Peer  message.Peer
}

func PeerEventUpdate() ServerEvent {
	return ServerEvent{Peer: &PeerEvent{Update: true}}
}

func PeerEventFileClaim(claim message.FileClaim, peer message.Peer) ServerEvent {
	return ServerEvent{Peer: &PeerEvent{FileClaim: &PeerFileClaim{Claim: claim, Peer: peer}}}
}

// ServerEvent is everything a ClientHandler's inbox can carry: a
// decoded frame from its own stream, a PeerEvent from the group, or an
// Unhealthy alert from its watchdog.
type ServerEvent struct {
	Message   *message.ClientMessage
	Peer      *PeerEvent
	Unhealthy bool
}

func EventMessage(m message.ClientMessage) ServerEvent {
	return ServerEvent{Message: &m}
}

func EventUnhealthy() ServerEvent {
	return ServerEvent{Unhealthy: true}
}

// MetaEvent is the single event type accepted on the server's meta
// channel. Its only variant today is Register, mirroring the original
// design's single-variant meta event; kept as a struct gated by one
// constructor rather than speculatively adding more union arms. Ready
// is a dedicated, single-use handoff: the registering handler blocks
// reading it right after sending the MetaEvent, so its own group
// assignment is applied before it returns to draining its inbox —
// guaranteeing Register's effect lands before the next ClientMessage
// on that connection is processed (§8 invariant 2).
type MetaEvent struct {
	Client message.Client
	Sender chan<- ServerEvent
	Ready  chan<- *Group
}

func NewMetaRegister(client message.Client, sender chan<- ServerEvent, ready chan<- *Group) MetaEvent {
	return MetaEvent{Client: client, Sender: sender, Ready: ready}
}
