package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kudrive/kudrive/internal/message"
)

// Sink is the per-connection event channel a Group holds for each
// member so it can unicast or broadcast without knowing anything about
// the transport underneath.
type Sink chan<- ServerEvent

// Group is the per-group client table: client id -> (client record,
// event sink). Every key present in one map is present in the other.
// Created lazily by the Server on first member join; never destroyed.
type Group struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]message.Client
	sinks   map[uuid.UUID]Sink
}

func NewGroup() *Group {
	return &Group{
		clients: make(map[uuid.UUID]message.Client),
		sinks:   make(map[uuid.UUID]Sink),
	}
}

func (g *Group) Insert(client message.Client, sink Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[client.ID] = client
	g.sinks[client.ID] = sink
}

func (g *Group) Update(client message.Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[client.ID] = client
}

func (g *Group) Remove(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, id)
	delete(g.sinks, id)
}

// Flatten returns a snapshot of every current member. Order is
// unspecified.
func (g *Group) Flatten() []message.Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]message.Client, 0, len(g.clients))
	for _, c := range g.clients {
		out = append(out, c)
	}
	return out
}

// FindByNickname returns the id of a member with the given advisory
// nickname, if any. (group, nickname) is not unique; the first match
// found is returned.
func (g *Group) FindByNickname(nickname string) (uuid.UUID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, c := range g.clients {
		if c.Nickname == nickname {
			return id, true
		}
	}
	return uuid.UUID{}, false
}

// Unicast delivers event to exactly one member's sink. A full or
// missing sink is reported to the caller but does not mutate the
// table; it is the caller's responsibility to decide whether a failed
// unicast means the target is gone.
func (g *Group) Unicast(id uuid.UUID, event ServerEvent) bool {
	g.mu.RLock()
	sink, ok := g.sinks[id]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case sink <- event:
		return true
	default:
		return false
	}
}

// Broadcast delivers event to every current sink, best-effort: a full
// channel is skipped rather than blocking the broadcaster or aborting
// delivery to the rest of the group. Each send runs in its own
// goroutine so one slow recipient can't hold up the others (avoids
// head-of-line blocking per the concurrency model).
func (g *Group) Broadcast(event ServerEvent) {
	g.mu.RLock()
	sinks := make([]Sink, 0, len(g.sinks))
	for _, s := range g.sinks {
		sinks = append(sinks, s)
	}
	g.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			select {
			case s <- event:
			default:
			}
		}(s)
	}
	wg.Wait()
}
