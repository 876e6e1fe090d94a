package peer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusKind is the peer transport's connectivity state (§4.10).
type StatusKind int

const (
	NotConnected StatusKind = iota
	RelayConnected
	PeerConnected
)

// Status reports connectivity plus, once any direct/relayed peer
// session exists, the ids of the connected peers.
type Status struct {
	Kind  StatusKind
	Peers []uuid.UUID
}

// Command is the peer transport's command-queue surface (§4.10).
type Command struct {
	Exit               *struct{}
	GetId              *struct{}
	GetStatus          *struct{}
	GetListenAddr      *struct{}
	GetPendingRequests *struct{}
	ConnectToRelay     *struct{}
	ListenToPeer       *struct{}
	ConnectToPeer      *ConnectToPeerCmd
	SendFileOpen       *SendFileOpenCmd
	RecvFile           *RecvFileCmd
}

type ConnectToPeerCmd struct{ Remote uuid.UUID }
type SendFileOpenCmd struct{ Source string }
type RecvFileCmd struct {
	Remote uuid.UUID
	Source string
	Target string
}

func CmdExit() Command              { return Command{Exit: &struct{}{}} }
func CmdGetId() Command              { return Command{GetId: &struct{}{}} }
func CmdGetStatus() Command          { return Command{GetStatus: &struct{}{}} }
func CmdGetListenAddr() Command      { return Command{GetListenAddr: &struct{}{}} }
func CmdGetPendingRequests() Command { return Command{GetPendingRequests: &struct{}{}} }
func CmdConnectToRelay() Command     { return Command{ConnectToRelay: &struct{}{}} }
func CmdListenToPeer() Command       { return Command{ListenToPeer: &struct{}{}} }

func CmdConnectToPeer(remote uuid.UUID) Command {
	return Command{ConnectToPeer: &ConnectToPeerCmd{Remote: remote}}
}

func CmdSendFileOpen(source string) Command {
	return Command{SendFileOpen: &SendFileOpenCmd{Source: source}}
}

func CmdRecvFile(remote uuid.UUID, source, target string) Command {
	return Command{RecvFile: &RecvFileCmd{Remote: remote, Source: source, Target: target}}
}

// Response is the one-shot reply delivered through a command's
// response channel; exactly one field is populated, matching which
// Command was issued.
type Response struct {
	Id              *uuid.UUID
	Status          *Status
	ListenAddr      []string
	PendingRequests []string
	Err             error
}

type commandEnvelope struct {
	cmd       Command
	responder chan<- Response
}

// Execute submits cmd to the transport's actor and waits up to timeout
// for its Response, following the same submit-then-await pattern as
// internal/agent's ExecuteCommand.
func Execute(t *Transport, cmd Command, timeout time.Duration) (Response, error) {
	responder := make(chan Response, 1)
	select {
	case t.commands <- commandEnvelope{cmd: cmd, responder: responder}:
	case <-time.After(timeout):
		return Response{}, fmt.Errorf("peer: command queue full after %s", timeout)
	}
	select {
	case r := <-responder:
		return r, nil
	case <-time.After(timeout):
		return Response{}, fmt.Errorf("peer: command timed out after %s", timeout)
	}
}

// GetID, GetStatus, GetListenAddr, GetPendingRequests, and ConnectToPeer
// are the query/diagnostic half of §4.10's command surface — the half
// SendOpen/Receive/Close don't already exercise internally. They back
// cmd/kudrive-agent's status and connect subcommands.

func GetID(t *Transport, timeout time.Duration) (uuid.UUID, error) {
	resp, err := Execute(t, CmdGetId(), timeout)
	if err != nil {
		return uuid.UUID{}, err
	}
	if resp.Id == nil {
		return uuid.UUID{}, fmt.Errorf("peer: unexpected response for get_id")
	}
	return *resp.Id, nil
}

func GetStatus(t *Transport, timeout time.Duration) (Status, error) {
	resp, err := Execute(t, CmdGetStatus(), timeout)
	if err != nil {
		return Status{}, err
	}
	if resp.Status == nil {
		return Status{}, fmt.Errorf("peer: unexpected response for get_status")
	}
	return *resp.Status, nil
}

func GetListenAddr(t *Transport, timeout time.Duration) ([]string, error) {
	resp, err := Execute(t, CmdGetListenAddr(), timeout)
	return resp.ListenAddr, err
}

func GetPendingRequests(t *Transport, timeout time.Duration) ([]string, error) {
	resp, err := Execute(t, CmdGetPendingRequests(), timeout)
	return resp.PendingRequests, err
}

func ConnectToPeer(t *Transport, remote uuid.UUID, timeout time.Duration) error {
	_, err := Execute(t, CmdConnectToPeer(remote), timeout)
	return err
}

func (k StatusKind) String() string {
	switch k {
	case RelayConnected:
		return "relay-connected"
	case PeerConnected:
		return "peer-connected"
	default:
		return "not-connected"
	}
}
