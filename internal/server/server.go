// Package server implements the rendezvous server: the accept loop,
// the meta-channel group dispatcher, the per-group client table, and
// the per-connection handler state machine.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Server holds the group table. Group creation and member insertion
// happen only on the single goroutine draining the meta channel, which
// serializes registrations across every connection; file-map updates
// and removals are applied by each connection's Handler directly,
// under the Group's own lock.
type Server struct {
	mu     sync.Mutex // guards groups map only; Group itself has its own RWMutex
	groups map[uuid.UUID]*Group

	meta chan MetaEvent
}

func New() *Server {
	return &Server{
		groups: make(map[uuid.UUID]*Group),
		meta:   make(chan MetaEvent, 1024),
	}
}

// ListenAndServe binds addr and runs the accept loop and the meta
// dispatcher as sibling goroutines until ctx is cancelled or either
// fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop and meta dispatcher against an
// already-bound listener. Split out from ListenAndServe so tests can
// bind an ephemeral port and read back its address before Serve
// blocks.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Printf("server: listening on %s", ln.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(ctx, ln) })
	g.Go(func() error { return s.dispatchLoop(ctx) })

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		log.Printf("server: connection from %s", conn.RemoteAddr())
		handler := NewHandler(conn, s.meta)
		go handler.Run()
	}
}

func (s *Server) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-s.meta:
			s.register(event)
		}
	}
}

// register implements §4.7 step 1-4: find-or-create the group, hand
// the group back to the registering handler over its dedicated Ready
// channel (buffered, so this send never blocks the dispatcher), insert
// the member, then broadcast an Update so every handler refreshes its
// ClientsUpdate snapshot — including the originator.
func (s *Server) register(event MetaEvent) {
	group := s.groupFor(event.Client.Group)

	event.Ready <- group

	group.Insert(event.Client, event.Sender)
	group.Broadcast(PeerEventUpdate())
}

func (s *Server) groupFor(id uuid.UUID) *Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		g = NewGroup()
		s.groups[id] = g
	}
	return g
}
