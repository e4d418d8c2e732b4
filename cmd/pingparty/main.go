package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryandielhenn/pingparty/internal/config"
)

var version = "dev"

var (
	configPath string
	envFile    string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pingparty",
		Short: "pingparty - UDP broadcast heartbeats between machines on a subnet",
		Long: `pingparty checks network connectivity between machines on a network.
Every node broadcasts "I am here." on a jittered interval and logs a
warning when a peer it has heard from misses its announced deadline.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			l := config.NewLoader()
			if err := l.BindFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := l.Load(configPath, envFile)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), cfg)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to yaml configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file with PINGPARTY_* overrides")
	config.RegisterFlags(rootCmd.Flags())

	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(stopCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
