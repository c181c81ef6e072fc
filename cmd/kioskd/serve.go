package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/kiosksync/cmd/kioskd/handlers"
	"github.com/kimhsiao/kiosksync/internal/app"
	"github.com/kimhsiao/kiosksync/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "daemon",
	Short:   "Run the sync daemon",
	Long: `Run the sync daemon in the foreground.

The daemon loads the persisted queue, watches connectivity, drains the queue
whenever the kiosk comes back online and serves the control API:

  http://<addr>/api/sync/...   REST endpoints
  ws://<addr>/ws               sync event stream

Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := NewWSHub()
	defer hub.Stop()
	unsubscribe := a.Manager.Subscribe(hub.Publish)
	defer unsubscribe()

	online := a.Start(ctx)

	addr := cfg.Server.Addr
	if daemonAddr != "" {
		addr = daemonAddr
	}
	router := handlers.NewRouter(handlers.NewSyncHandler(a.Manager, a.Telemetry, a), HandleWebSocket(hub))
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Printf("%s kioskd listening on http://%s (%s)\n", renderPass("✓"), addr, renderOnline(online))
	fmt.Printf("   Events: ws://%s/ws\n", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down kioskd")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
