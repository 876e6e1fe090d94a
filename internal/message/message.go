// Package message defines the tagged-union wire types exchanged
// between client agents and the rendezvous server, and the domain
// records (Client, FileMap, Peer) those unions carry.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Client is a group member's published record.
type Client struct {
	Group    uuid.UUID `json:"group"`
	ID       uuid.UUID `json:"id"`
	Nickname string    `json:"nickname"`
	Files    FileMap   `json:"files"`
}

// FileMap is a whole-state snapshot of a workspace tree. Name fields
// hold forward-slash logical paths rooted at the literal token "home".
type FileMap struct {
	OS      OSInfo   `json:"os"`
	Files   []File   `json:"files"`
	Folders []Folder `json:"folders"`
}

type OSInfo struct {
	Name string `json:"name"`
}

type File struct {
	Name string `json:"name"`
}

type Folder struct {
	Name string `json:"name"`
}

// Peer addresses one side of a transfer.
type Peer struct {
	ID     uuid.UUID `json:"id"`
	Source string    `json:"source"`
	Target string    `json:"target"`
}

// FileClaim is the sum of SendClaim and ReceiveClaim. Exactly one of
// Send/Receive is non-nil; construct via NewSendClaim/NewReceiveClaim.
type FileClaim struct {
	Send    *SendClaim    `json:"SendClaim,omitempty"`
	Receive *ReceiveClaim `json:"ReceiveClaim,omitempty"`
}

type SendClaim struct {
	Pending uint64 `json:"pending"`
}

// ReceiveClaim's Pending is the counterpart's local pending id; nil
// means no local caller is waiting on the receive side (a relay-opener
// forwarding a claim it never solicited).
type ReceiveClaim struct {
	Pending *uint64 `json:"pending"`
}

func NewSendClaim(pending uint64) FileClaim {
	return FileClaim{Send: &SendClaim{Pending: pending}}
}

func NewReceiveClaim(pending *uint64) FileClaim {
	return FileClaim{Receive: &ReceiveClaim{Pending: pending}}
}

func (c FileClaim) IsSend() bool { return c.Send != nil }
func (c FileClaim) IsReceive() bool { return c.Receive != nil }

// ClientMessage is the client→server tagged union. Exactly one field
// is populated at a time; use the constructors below.
type ClientMessage struct {
	HealthCheck   *struct{}           `json:"HealthCheck,omitempty"`
	Register      *RegisterMsg        `json:"Register,omitempty"`
	FileMapUpdate *FileMapUpdateMsg   `json:"FileMapUpdate,omitempty"`
	FileClaim     *FileClaimMsg       `json:"FileClaim,omitempty"`
}

type RegisterMsg struct {
	Client Client `json:"client"`
}

type FileMapUpdateMsg struct {
	FileMap FileMap `json:"file_map"`
}

type FileClaimMsg struct {
	Claim FileClaim `json:"claim"`
	Peer  Peer      `json:"peer"`
}

func ClientHealthCheck() ClientMessage {
	return ClientMessage{HealthCheck: &struct{}{}}
}

func ClientRegister(c Client) ClientMessage {
	return ClientMessage{Register: &RegisterMsg{Client: c}}
}

func ClientFileMapUpdate(fm FileMap) ClientMessage {
	return ClientMessage{FileMapUpdate: &FileMapUpdateMsg{FileMap: fm}}
}

func ClientFileClaim(claim FileClaim, peer Peer) ClientMessage {
	return ClientMessage{FileClaim: &FileClaimMsg{Claim: claim, Peer: peer}}
}

// Variant identifies which field of a tagged union is populated, for
// exactly-one validation and logging.
func (m ClientMessage) Variant() (string, error) {
	set := 0
	name := ""
	if m.HealthCheck != nil {
		set++
		name = "HealthCheck"
	}
	if m.Register != nil {
		set++
		name = "Register"
	}
	if m.FileMapUpdate != nil {
		set++
		name = "FileMapUpdate"
	}
	if m.FileClaim != nil {
		set++
		name = "FileClaim"
	}
	if set != 1 {
		return "", fmt.Errorf("client message has %d populated variants, want exactly 1", set)
	}
	return name, nil
}

// ServerMessage is the server→client tagged union.
type ServerMessage struct {
	HealthCheck   *struct{}          `json:"HealthCheck,omitempty"`
	ClientsUpdate *ClientsUpdateMsg  `json:"ClientsUpdate,omitempty"`
	FileClaim     *FileClaimMsg      `json:"FileClaim,omitempty"`
}

type ClientsUpdateMsg struct {
	Clients []Client `json:"clients"`
}

func ServerHealthCheck() ServerMessage {
	return ServerMessage{HealthCheck: &struct{}{}}
}

func ServerClientsUpdate(clients []Client) ServerMessage {
	return ServerMessage{ClientsUpdate: &ClientsUpdateMsg{Clients: clients}}
}

func ServerFileClaim(claim FileClaim, peer Peer) ServerMessage {
	return ServerMessage{FileClaim: &FileClaimMsg{Claim: claim, Peer: peer}}
}

func (m ServerMessage) Variant() (string, error) {
	set := 0
	name := ""
	if m.HealthCheck != nil {
		set++
		name = "HealthCheck"
	}
	if m.ClientsUpdate != nil {
		set++
		name = "ClientsUpdate"
	}
	if m.FileClaim != nil {
		set++
		name = "FileClaim"
	}
	if set != 1 {
		return "", fmt.Errorf("server message has %d populated variants, want exactly 1", set)
	}
	return name, nil
}

// DecodeClientMessage parses a frame payload into a ClientMessage,
// rejecting unknown variants as a protocol error rather than silently
// decoding to a zero value.
func DecodeClientMessage(b []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return ClientMessage{}, fmt.Errorf("decoding client message: %w", err)
	}
	if _, err := m.Variant(); err != nil {
		return ClientMessage{}, fmt.Errorf("unknown client message variant: %w", err)
	}
	return m, nil
}

func DecodeServerMessage(b []byte) (ServerMessage, error) {
	var m ServerMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return ServerMessage{}, fmt.Errorf("decoding server message: %w", err)
	}
	if _, err := m.Variant(); err != nil {
		return ServerMessage{}, fmt.Errorf("unknown server message variant: %w", err)
	}
	return m, nil
}

func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	if _, err := m.Variant(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	if _, err := m.Variant(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
