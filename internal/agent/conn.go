package agent

import (
	"fmt"
	"log"
	"net"

	"github.com/kudrive/kudrive/internal/message"
	"github.com/kudrive/kudrive/internal/wire"
)

// serverConn owns the agent's single connection to the rendezvous
// server: the framed stream, its read-loop goroutine, and the inbox it
// feeds. One serverConn is replaced wholesale on every reconnect.
type serverConn struct {
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer
}

// dialServer connects to addr and starts a goroutine that decodes
// frames and feeds them into inbox as ClientEvents, the Go analogue of
// Listener::spawn in the original's net/server/listener.rs.
func dialServer(addr string, inbox chan<- ClientEvent) (*serverConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("agent: connecting to %s: %w", addr, err)
	}
	sc := &serverConn{
		conn:   conn,
		reader: wire.NewReader(conn),
		writer: wire.NewWriter(conn),
	}
	go sc.readLoop(inbox)
	return sc, nil
}

func (sc *serverConn) readLoop(inbox chan<- ClientEvent) {
	for {
		payload, err := sc.reader.ReadFrame()
		if err != nil {
			log.Printf("agent: server connection lost: %v", err)
			inbox <- EventUnhealthy()
			return
		}
		msg, err := message.DecodeServerMessage(payload)
		if err != nil {
			log.Printf("agent: protocol error decoding server frame: %v", err)
			inbox <- EventUnhealthy()
			return
		}
		inbox <- EventMessage(msg)
	}
}

func (sc *serverConn) transmit(msg message.ClientMessage) error {
	b, err := message.EncodeClientMessage(msg)
	if err != nil {
		return fmt.Errorf("agent: encoding client message: %w", err)
	}
	if err := sc.writer.WriteFrame(b); err != nil {
		return fmt.Errorf("agent: writing frame: %w", err)
	}
	return nil
}

func (sc *serverConn) close() error {
	return sc.conn.Close()
}
