// Excelmind answers natural-language questions about spreadsheet data by
// driving a model through a bounded tool-calling loop.
//
// Usage:
//
//	# Run one task and print the result as JSON
//	excelmind run --prompt "Total sales per region" --data files.json
//
//	# Serve the HTTP API
//	excelmind serve --config ~/.config/excelmind/config.yaml
//
// Configuration is read from the config file and EXCELMIND_* environment
// variables. See internal/config for details.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "excelmind",
		Short: "Agentic analysis of spreadsheet data",
		Long: `excelmind turns a natural-language request and a set of parsed workbooks
into a validated result. A model plans the work, calls spreadsheet tools,
and its answer is checked for fabricated numbers before it is returned.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/excelmind/config.yaml)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newToolsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "excelmind by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
