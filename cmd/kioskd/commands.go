package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/kiosksync/internal/config"
	"github.com/kimhsiao/kiosksync/internal/models"
)

var outputFormat string

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "daemon",
	Short:   "Show connectivity, queue counts and the last sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(outputFormat); err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		status, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		if outputFormat != formatTable {
			return writeStructured(cmd.OutOrStdout(), outputFormat, status)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderStatus(status))
		return nil
	},
}

var itemsCmd = &cobra.Command{
	Use:     "items",
	GroupID: "queue",
	Short:   "List queued items in delivery order",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(outputFormat); err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		items, err := c.Items(cmd.Context())
		if err != nil {
			return err
		}
		if outputFormat != formatTable {
			return writeStructured(cmd.OutOrStdout(), outputFormat, items)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderItems(items))
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:     "enqueue <type> <url> [json-payload]",
	GroupID: "queue",
	Short:   "Buffer an operation for delivery",
	Long: `Buffer an operation for delivery.

The payload is read from the third argument, or from stdin when it is "-".

Example:
  kioskd enqueue attendance /api/attendance '{"userId":"U1","eventType":"check_in"}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := "{}"
		if len(args) == 3 {
			payload = args[2]
		}
		if payload == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			payload = string(data)
		}
		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("payload is not valid JSON")
		}

		method, _ := cmd.Flags().GetString("method")
		c, err := apiClient()
		if err != nil {
			return err
		}
		id, err := c.Enqueue(cmd.Context(), models.EnqueueRequest{
			Type:   args[0],
			URL:    args[1],
			Data:   json.RawMessage(payload),
			Method: method,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Queued %s\n", renderPass("✓"), id)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "queue",
	Short:   "Drain the queue now",
	Long: `Drain the queue now.

Without --force a rejected drain (offline or already running) is reported
and the command succeeds. With --force a rejection is an error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if force, _ := cmd.Flags().GetBool("force"); force {
			result, err := c.Force(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderResult(result))
			return nil
		}

		outcome, err := c.Run(cmd.Context())
		if err != nil {
			return err
		}
		if !outcome.Success {
			fmt.Fprintf(out, "%s Sync skipped: %s\n", renderWarn("⚠"), outcome.Reason)
			return nil
		}
		fmt.Fprintln(out, renderResult(outcome.Results))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <id>",
	GroupID: "queue",
	Short:   "Remove one queued item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", renderPass("✓"), args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "queue",
	Short:   "Drop every queued item",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		n, err := c.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared %d item(s)\n", renderPass("✓"), n)
		return nil
	},
}

var abandonedCmd = &cobra.Command{
	Use:     "abandoned",
	GroupID: "queue",
	Short:   "List or clear items evicted without delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(outputFormat); err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}

		if clear, _ := cmd.Flags().GetBool("clear"); clear {
			n, err := c.ClearAbandoned(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared %d abandoned item(s)\n", renderPass("✓"), n)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		items, err := c.Abandoned(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if outputFormat != formatTable {
			return writeStructured(cmd.OutOrStdout(), outputFormat, items)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderAbandoned(items))
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:     "metrics",
	GroupID: "daemon",
	Short:   "Show local sync counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(outputFormat); err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		snap, err := c.Metrics(cmd.Context())
		if err != nil {
			return err
		}
		if outputFormat != formatTable {
			return writeStructured(cmd.OutOrStdout(), outputFormat, snap)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderMetrics(snap))
		return nil
	},
}

var onlineCmd = &cobra.Command{
	Use:     "online <true|false>",
	GroupID: "daemon",
	Short:   "Push connectivity to a daemon in manual reachability mode",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		want, err := strconv.ParseBool(args[0])
		if err != nil {
			return fmt.Errorf("invalid state %q: %w", args[0], err)
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		online, err := c.SetOnline(cmd.Context(), want)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Kiosk is %s\n", renderOnline(online))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write a default configuration file",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"skipConfig": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "kiosksync.toml"
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", renderPass("✓"), path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version",
	Annotations: map[string]string{"skipConfig": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kioskd %s\n", version)
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, itemsCmd, abandonedCmd, metricsCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", formatTable, "output format: table, json or yaml")
	}
	enqueueCmd.Flags().StringP("method", "X", "", "HTTP method (default POST)")
	syncCmd.Flags().Bool("force", false, "fail when the drain is rejected")
	abandonedCmd.Flags().Bool("clear", false, "delete every abandoned item")
	abandonedCmd.Flags().Int("limit", 0, "show at most this many items (0 = all)")
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(statusCmd, itemsCmd, enqueueCmd, syncCmd, removeCmd, clearCmd,
		abandonedCmd, metricsCmd, onlineCmd, configCmd, versionCmd)
}
