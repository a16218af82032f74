// Command crdtcollabd runs the broadcast relay server as a standalone
// binary.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Polqt/crdtcollab/relay"
	"github.com/spf13/cobra"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "crdtcollabd",
		Short: "Real-time collaborative text-editing relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr)
		},
	}
	root.Flags().StringVar(&addr, "addr", ":8080", "host:port to listen on")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(addr string) error {
	srv := relay.New(relay.Options{})
	stopped, err := srv.Start(addr)
	if err != nil {
		return err
	}
	slog.Info("crdtcollab relay listening", "addr", addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	slog.Info("shutting down")
	srv.Shutdown()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		slog.Warn("relay did not confirm shutdown within 5s")
	}
	return nil
}
