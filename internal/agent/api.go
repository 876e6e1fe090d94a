package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kudrive/kudrive/internal/config"
	"github.com/kudrive/kudrive/internal/message"
	"github.com/kudrive/kudrive/internal/watcher"
)

// ExecuteCommand is the control API's async call pattern (§6.4):
// submit a Command, get back its Consequence or a timeout error.
func ExecuteCommand(h *Handler, cmd Command, timeout time.Duration) (Consequence, error) {
	responder := make(chan Consequence, 1)
	h.Inbox() <- EventCommand(cmd, responder)
	select {
	case c := <-responder:
		return c, nil
	case <-time.After(timeout):
		return Consequence{}, fmt.Errorf("agent: command timed out after %s", timeout)
	}
}

func FileSend(h *Handler, id uuid.UUID, source, target string, timeout time.Duration) error {
	peer := message.Peer{ID: id, Source: source, Target: target}
	c, err := ExecuteCommand(h, CmdFileSend(peer), timeout)
	if err != nil {
		return err
	}
	if c.FileSend == nil {
		return fmt.Errorf("agent: unexpected consequence for file_send")
	}
	return c.FileSend.Err
}

func FileReceive(h *Handler, id uuid.UUID, source, target string, timeout time.Duration) error {
	peer := message.Peer{ID: id, Source: source, Target: target}
	c, err := ExecuteCommand(h, CmdFileReceive(peer), timeout)
	if err != nil {
		return err
	}
	if c.FileReceive == nil {
		return fmt.Errorf("agent: unexpected consequence for file_receive")
	}
	return c.FileReceive.Err
}

func Clients(h *Handler, timeout time.Duration) ([]message.Client, error) {
	c, err := ExecuteCommand(h, CmdClients(), timeout)
	if err != nil {
		return nil, err
	}
	if c.Clients == nil {
		return nil, fmt.Errorf("agent: unexpected consequence for clients")
	}
	return c.Clients.Clients, c.Clients.Err
}

// ClientByNickname is the (group, nickname) lookup recovered from
// original_source's find_by_nickname, exposed here on top of the
// cached ClientsUpdate rather than the server's own table, since the
// shell only ever has the agent's view of the group.
func ClientByNickname(h *Handler, nickname string) (message.Client, bool) {
	for _, c := range h.Clients() {
		if c.Nickname == nickname {
			return c, true
		}
	}
	return message.Client{}, false
}

// Agent wires a Handler to its filesystem watcher and owns the
// goroutines that bridge watcher snapshots into the event loop — the
// assembly cmd/kudrive-agent's main performs.
type Agent struct {
	Handler *Handler
	watcher *watcher.Watcher

	cancel context.CancelFunc
}

// Run starts the watcher and event loop around an already-constructed
// Handler and returns once both are up; it does not block — callers
// run their own lifecycle (signal handling, control API server) around
// the returned Agent. h's peer transport, if any, must already be set
// via SetPeer before calling Run.
func Run(cfg config.Config, h *Handler) (*Agent, error) {
	w := watcher.New(cfg.File.Workspace, time.Duration(cfg.File.RefreshTime)*time.Millisecond, &cfg.File.IgnoreList)
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("agent: starting watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{Handler: h, watcher: w, cancel: cancel}

	go h.Run()
	h.Start()
	go a.bridgeWatcher(ctx)

	return a, nil
}

func (a *Agent) bridgeWatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fm := <-a.watcher.Snapshots():
			a.Handler.Inbox() <- EventFileMapUpdate(fm)
		}
	}
}

// Shutdown disconnects from the server and stops the watcher, mirroring
// the original's Client::shutdown.
func (a *Agent) Shutdown() {
	a.cancel()
	a.watcher.Close()
	a.Handler.Stop()
}
