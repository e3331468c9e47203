package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to the model",
		Long: `List the spreadsheet tools the model may call, with their descriptions.

Examples:
  excelmind tools
  excelmind tools --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := tools.NewRegistry()
			if err := tools.RegisterBuiltins(registry); err != nil {
				return err
			}
			return printTools(cmd.OutOrStdout(), registry.Definitions(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print definitions as JSON")
	return cmd
}

func printTools(w io.Writer, defs []tools.Definition, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%s\n", d.Name, d.Description)
	}
	return tw.Flush()
}
