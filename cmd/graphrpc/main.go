package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"graph-rpc/config"
	"graph-rpc/internal/demo"
	"graph-rpc/schema"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	stderr     io.Writer
}

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}
	root := &cobra.Command{
		Use:           "graphrpc",
		Short:         "Schema-driven RPC over compact binary and JSON encodings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: $"+config.EnvVar+")")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newCallCmd(a))
	root.AddCommand(newSchemaCmd(a))
	root.AddCommand(newConvertCmd(a))
	return root
}

func (a *app) load() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	a.logger = a.cfg.Log.NewLogger(a.stderr)
	return nil
}

func (a *app) registry() (*schema.Registry, error) {
	return demo.NewRegistry(a.logger)
}
