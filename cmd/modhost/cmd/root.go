// Package cmd implements the modhost command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// OsExit is replaced in tests.
var OsExit = os.Exit

// NewRootCommand creates the root command for the modhost application
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modhost",
		Short: "modhost - a dynamic module runtime",
		Long: `modhost is a dynamic module runtime. It runs modules packaged as
archives with a MODULE-INF descriptor. Modules are wired by the packages
they export and import, started on a pool of lifecycle workers and publish
services and components to each other.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML, TOML or JSON configuration file")
	cmd.PersistentFlags().String("config-section", "", "Dotted table of the configuration file holding the runtime settings")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides the configuration)")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text, logfmt or json")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewInspectCommand())

	return cmd
}

// PrintVersion returns version information
func PrintVersion() string {
	return fmt.Sprintf("modhost v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
