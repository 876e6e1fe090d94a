// Package agent implements the client-side event loop: connection
// lifecycle to the rendezvous server, command dispatch, the claim
// handshake, and the health/timer/watcher plumbing around it.
package agent

import (
	"github.com/google/uuid"

	"github.com/kudrive/kudrive/internal/message"
)

// Command is the control-API surface exposed to the shell (§6.4),
// reduced to the three operations that flow through the event loop's
// pending registry. cmd/kudrive-agent covers init/is_first_run/
// set_config with its init command, set_config_path with its --config
// flag, and shutdown with signal handling in run, none of which needs a
// pending id; it has no get_current_config command.
type Command struct {
	Clients      *struct{}
	FileSend     *CommandPeer
	FileReceive  *CommandPeer
}

type CommandPeer struct {
	Peer message.Peer
}

func CmdClients() Command                  { return Command{Clients: &struct{}{}} }
func CmdFileSend(peer message.Peer) Command { return Command{FileSend: &CommandPeer{Peer: peer}} }
func CmdFileReceive(peer message.Peer) Command {
	return Command{FileReceive: &CommandPeer{Peer: peer}}
}

// Consequence is the asynchronous outcome delivered back through a
// command's pending responder.
type Consequence struct {
	Clients     *ClientsResult
	FileSend    *ErrResult
	FileReceive *ErrResult
}

type ClientsResult struct {
	Clients []message.Client
	Err     error
}

type ErrResult struct {
	Err error
}

func ConsequenceClients(clients []message.Client, err error) Consequence {
	return Consequence{Clients: &ClientsResult{Clients: clients, Err: err}}
}

func ConsequenceFileSend(err error) Consequence {
	return Consequence{FileSend: &ErrResult{Err: err}}
}

func ConsequenceFileReceive(err error) Consequence {
	return Consequence{FileReceive: &ErrResult{Err: err}}
}

// Opened carries the outcome of a peer-transport listener being
// established for a transfer (§4.11 step 5): wid is this side's local
// pending id if it called FileSend itself (own=true), rid is the
// counterpart's pending id forwarded through the claim envelope.
// Exactly the pairing named in the spec's Opened.ids tuple.
type Opened struct {
	WID   *uint64
	RID   *uint64
	Peer  message.Peer
}

// ClientEvent is the single inbox type the event loop multiplexes.
type ClientEvent struct {
	Message       *message.ServerMessage
	Command       *CommandEnvelope
	FileMapUpdate *message.FileMap
	Consequence   *ConsequenceEnvelope
	Opened        *Opened
	Timer         bool
	Unhealthy     bool
}

type CommandEnvelope struct {
	Cmd       Command
	Responder chan<- Consequence
}

type ConsequenceEnvelope struct {
	ID          uint64
	Consequence Consequence
}

func EventMessage(m message.ServerMessage) ClientEvent {
	return ClientEvent{Message: &m}
}

func EventCommand(cmd Command, responder chan<- Consequence) ClientEvent {
	return ClientEvent{Command: &CommandEnvelope{Cmd: cmd, Responder: responder}}
}

func EventFileMapUpdate(fm message.FileMap) ClientEvent {
	return ClientEvent{FileMapUpdate: &fm}
}

func EventConsequence(id uint64, c Consequence) ClientEvent {
	return ClientEvent{Consequence: &ConsequenceEnvelope{ID: id, Consequence: c}}
}

func EventOpened(wid, rid *uint64, peer message.Peer) ClientEvent {
	return ClientEvent{Opened: &Opened{WID: wid, RID: rid, Peer: peer}}
}

func EventTimer() ClientEvent     { return ClientEvent{Timer: true} }
func EventUnhealthy() ClientEvent { return ClientEvent{Unhealthy: true} }

// peerTransport is the subset of internal/peer.Transport the event
// loop depends on; kept as an interface here so agent tests can supply
// a fake without standing up a real libp2p host.
type peerTransport interface {
	SendOpen(own bool, pending uint64, peer message.Peer)
	Receive(pending *uint64, peer message.Peer)
	ID() uuid.UUID
}
