package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var Version = "dev"

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "opsync",
		Short:         "Sync Jira and Cost Explorer data, forecast spend and track integration health",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("OPSYNC_CONFIG"), "path to a YAML config file")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(migrateCmd(opts))
	root.AddCommand(syncCmd(opts))
	root.AddCommand(forecastCmd(opts))
	root.AddCommand(creditsCmd(opts))
	root.AddCommand(storecheckCmd(opts))
	root.AddCommand(sealCmd(opts))
	return root
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
