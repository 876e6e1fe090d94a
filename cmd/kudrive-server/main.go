package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kudrive/kudrive/internal/server"
)

func main() {
	root := rootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "kudrive-server",
		Short: "kudrive-server — the KUDrive rendezvous server",
		Long:  "Accepts client connections, maintains per-group client tables, and mediates the file-claim handshake between agents.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := server.New()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Printf("kudrive-server: listening on %s", addr)
			errCh := make(chan error, 1)
			go func() {
				errCh <- s.ListenAndServe(ctx, addr)
			}()

			select {
			case <-ctx.Done():
				log.Printf("kudrive-server: shutting down")
				<-errCh
				return nil
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("kudrive-server: %w", err)
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0:7878", "listen address")
	return cmd
}
