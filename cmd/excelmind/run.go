package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/excelmind/internal/orchestrator"
	"github.com/fyrsmithlabs/excelmind/internal/workbook"
)

type runOptions struct {
	prompt string
	data   string
	watch  bool
	pretty bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one task and print the result",
		Long: `Execute one task against parsed spreadsheet data and print the TaskResult as JSON.

The data file holds either a JSON array of files or an object with a "files"
key. Each file has an id, a fileName and a map of sheet name to rows.

Examples:
  excelmind run --prompt "Total sales per region" --data sales.json
  cat sales.json | excelmind run --prompt "Which rep sold the most?" --data - --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, appOptions{logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			return runTask(ctx, a.orch, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.prompt, "prompt", "p", "", "natural-language request (required)")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "JSON file with parsed workbooks, or - for stdin (required)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "print progress to stderr")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent the JSON result")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// runTask executes one task with o and writes the result to out. A result
// that is not successful is still printed, and reported as an error.
func runTask(ctx context.Context, o *orchestrator.Orchestrator, opts *runOptions, in io.Reader, out, errOut io.Writer) error {
	files, err := readFiles(opts.data, in)
	if err != nil {
		return err
	}

	if opts.watch {
		o.UpdateProgress(func(s orchestrator.TaskState) {
			fmt.Fprintf(errOut, "[%3d%%] %-10s %s\n", s.Progress.Percentage, s.Status, s.Progress.Message)
		})
	}

	res := o.ExecuteTask(ctx, opts.prompt, files)

	enc := json.NewEncoder(out)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("task %s %s: %s", res.Metadata.TaskID, res.Status, res.Error)
	}
	return nil
}

// filesEnvelope is the object form of the data file.
type filesEnvelope struct {
	Files []workbook.File `json:"files"`
}

// readFiles decodes the data file named by path, or in when path is "-".
func readFiles(path string, in io.Reader) ([]workbook.File, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(in)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	var files []workbook.File
	if err := json.Unmarshal(raw, &files); err == nil {
		return files, nil
	}
	var env filesEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}
	if env.Files == nil {
		return nil, errors.New(`data must be an array of files or an object with a "files" key`)
	}
	return env.Files, nil
}
