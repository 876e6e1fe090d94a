package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kudrive/kudrive/internal/agent"
	"github.com/kudrive/kudrive/internal/config"
	"github.com/kudrive/kudrive/internal/peer"
)

const commandTimeout = 10 * time.Second

func main() {
	root := rootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "kudrive-agent",
		Short: "kudrive-agent — the KUDrive client agent",
		Long:  "Watches a workspace, registers with a group's rendezvous server, and serves/fetches files over the peer overlay.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the agent's config.yaml")

	root.AddCommand(
		initCmd(&configPath),
		runCmd(&configPath),
		clientsCmd(&configPath),
		fileSendCmd(&configPath),
		fileReceiveCmd(&configPath),
		statusCmd(&configPath),
		connectCmd(&configPath),
	)
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return home + "/.kudrive/config.yaml"
}

// initCmd implements the control API's init/set_config/is_first_run
// surface (§6.4) as a single first-run command: derive a fresh config
// from the given workspace/group/nickname and persist it, unless one
// already exists.
func initCmd(configPath *string) *cobra.Command {
	var workspace, group, nickname string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new agent config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.IsFirstRun(*configPath) {
				return fmt.Errorf("kudrive-agent: %s already exists", *configPath)
			}
			cfg := config.NewConfig(workspace, group, nickname, config.ServerConfig{})
			if err := config.Save(*configPath, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s (group=%s my_id=%s)\n", *configPath, cfg.ID.GroupID, cfg.ID.MyID)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", ".", "directory to watch and share")
	cmd.Flags().StringVar(&group, "group", "default", "group name (hashed into a stable group id)")
	cmd.Flags().StringVar(&nickname, "nickname", "", "advisory display name")
	return cmd
}

// runCmd is the long-lived agent process: watcher + event loop + peer
// transport, running until interrupted.
func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent (watcher, event loop, peer transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("kudrive-agent: %w", err)
			}

			h := agent.New(cfg.Server.Address(), cfg.ID.GroupID, cfg.ID.MyID, cfg.ID.Nickname, nil)
			transport, err := peer.New(cfg, h.Inbox())
			if err != nil {
				return fmt.Errorf("kudrive-agent: starting peer transport: %w", err)
			}
			h.SetPeer(transport)

			a, err := agent.Run(cfg, h)
			if err != nil {
				return fmt.Errorf("kudrive-agent: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Printf("kudrive-agent: shutting down")
			a.Shutdown()
			return nil
		},
	}
}

// clientsCmd/fileSendCmd/fileReceiveCmd are one-shot control-API calls
// against an already-running agent process would normally cross a
// local IPC socket; here they assemble a throwaway event loop, issue a
// single command, and exit — the control surface's semantics without
// the shell's persistent connection.
func clientsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List the group's current members",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, stop, err := attach(*configPath)
			if err != nil {
				return err
			}
			defer stop()

			clients, err := agent.Clients(h, commandTimeout)
			if err != nil {
				return err
			}
			for _, c := range clients {
				fmt.Printf("%s\t%s\n", c.ID, c.Nickname)
			}
			return nil
		},
	}
}

func fileSendCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file-send [peer-id] [source] [target]",
		Short: "Open a listener so peer-id can pull source into target",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, stop, err := attach(*configPath)
			if err != nil {
				return err
			}
			defer stop()

			id, err := parseUUID(args[0])
			if err != nil {
				return err
			}
			return agent.FileSend(h, id, args[1], args[2], commandTimeout)
		},
	}
	return cmd
}

// statusCmd surfaces the peer transport's §4.10 Status/GetListenAddr/
// GetPendingRequests queries, which otherwise have no caller.
func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the peer transport's connectivity and listen addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, transport, stop, err := attach(*configPath)
			if err != nil {
				return err
			}
			defer stop()

			id, err := peer.GetID(transport, commandTimeout)
			if err != nil {
				return err
			}
			fmt.Printf("id\t%s\n", id)

			status, err := peer.GetStatus(transport, commandTimeout)
			if err != nil {
				return err
			}
			fmt.Printf("status\t%s\n", status.Kind)
			for _, p := range status.Peers {
				fmt.Printf("peer\t%s\n", p)
			}

			addrs, err := peer.GetListenAddr(transport, commandTimeout)
			if err != nil {
				return err
			}
			for _, a := range addrs {
				fmt.Printf("listen\t%s\n", a)
			}

			pending, err := peer.GetPendingRequests(transport, commandTimeout)
			if err != nil {
				return err
			}
			for _, p := range pending {
				fmt.Printf("pending\t%s\n", p)
			}
			return nil
		},
	}
}

// connectCmd drives a direct §4.10 ConnectToPeer dial outside of any
// claim handshake, for diagnosing reachability to a known peer id.
func connectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "connect [peer-id]",
		Short: "Dial peer-id directly over the peer overlay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, transport, stop, err := attach(*configPath)
			if err != nil {
				return err
			}
			defer stop()

			id, err := parseUUID(args[0])
			if err != nil {
				return err
			}
			if err := peer.ConnectToPeer(transport, id, commandTimeout); err != nil {
				return err
			}
			fmt.Printf("connected\t%s\n", id)
			return nil
		},
	}
}

func fileReceiveCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file-receive [peer-id] [source] [target]",
		Short: "Fetch source from peer-id into target",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, stop, err := attach(*configPath)
			if err != nil {
				return err
			}
			defer stop()

			id, err := parseUUID(args[0])
			if err != nil {
				return err
			}
			return agent.FileReceive(h, id, args[1], args[2], commandTimeout)
		},
	}
	return cmd
}
