package main

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kudrive/kudrive/internal/agent"
	"github.com/kudrive/kudrive/internal/config"
	"github.com/kudrive/kudrive/internal/peer"
)

// attach loads configPath and brings up a throwaway Handler/Transport
// pair connected to the rendezvous server, for the one-shot control
// commands (clients/file-send/file-receive/status/connect) that don't
// run the full agent process.
func attach(configPath string) (*agent.Handler, *peer.Transport, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("kudrive-agent: %w", err)
	}

	h := agent.New(cfg.Server.Address(), cfg.ID.GroupID, cfg.ID.MyID, cfg.ID.Nickname, nil)
	transport, err := peer.New(cfg, h.Inbox())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("kudrive-agent: starting peer transport: %w", err)
	}
	h.SetPeer(transport)

	go h.Run()
	h.Start()

	stop := func() {
		h.Stop()
		transport.Close()
	}
	return h, transport, stop, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("kudrive-agent: invalid id %q: %w", s, err)
	}
	return id, nil
}
