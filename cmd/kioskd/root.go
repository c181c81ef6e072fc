package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/kiosksync/internal/client"
	"github.com/kimhsiao/kiosksync/internal/config"
	"github.com/kimhsiao/kiosksync/internal/logging"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	daemonAddr string
	logLevel   string

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "kioskd",
	Short: "Offline sync daemon for attendance kiosks",
	Long: `kioskd buffers attendance operations while the kiosk is offline and
delivers them in order once connectivity returns.

Run 'kioskd serve' on the kiosk. The other commands talk to the running
daemon over its local HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.App.LogLevel = logLevel
		}
		cfg = loaded

		closer, err := logging.Setup(logging.Options{
			Env:        cfg.App.Env,
			Level:      cfg.App.LogLevel,
			File:       cfg.App.LogFile,
			MaxBackups: 3,
			MaxAgeDays: 28,
		})
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		logCloser = closer
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "queue", Title: "Queue:"},
	)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: kiosksync.{toml,yaml,json} in . or ~/.kiosksync)")
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "", "daemon address (default: server.addr from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// apiClient returns a client for the configured daemon address.
func apiClient() (*client.Client, error) {
	addr := daemonAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	return client.New(addr)
}
