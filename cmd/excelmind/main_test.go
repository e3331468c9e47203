package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/excelmind/internal/config"
	"github.com/fyrsmithlabs/excelmind/internal/llm"
	"github.com/fyrsmithlabs/excelmind/internal/llm/llmtest"
	"github.com/fyrsmithlabs/excelmind/internal/orchestrator"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

const salesJSON = `[{
  "id": "f1",
  "fileName": "sales.xlsx",
  "sheets": {
    "Sales": [
      {"Region": "North", "Amount": 100},
      {"Region": "South", "Amount": 50},
      {"Region": "North", "Amount": 25}
    ]
  }
}]`

func TestReadFiles(t *testing.T) {
	t.Run("array from stdin", func(t *testing.T) {
		files, err := readFiles("-", strings.NewReader(salesJSON))
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "sales.xlsx", files[0].FileName)
		assert.Len(t, files[0].Sheets["Sales"], 3)
	})

	t.Run("envelope from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"files": `+salesJSON+`}`), 0o600))

		files, err := readFiles(path, nil)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "f1", files[0].ID)
	})

	t.Run("object without files", func(t *testing.T) {
		_, err := readFiles("-", strings.NewReader(`{"other": 1}`))
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := readFiles("-", strings.NewReader("Region,Amount"))
		assert.ErrorContains(t, err, "failed to parse data")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readFiles(filepath.Join(t.TempDir(), "nope.json"), nil)
		assert.ErrorContains(t, err, "failed to read data")
	})
}

func testApp(t *testing.T, client llm.Client) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Retry.Policy = "immediate"
	a, err := newApp(context.Background(), cfg, appOptions{client: client, logOutput: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Orchestrator.MaxRetries = -1
	_, err := newApp(context.Background(), cfg, appOptions{logOutput: io.Discard})
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestRunTask(t *testing.T) {
	client := llmtest.NewScripted(
		llmtest.Reply(llm.ToolCallResponse(llm.ToolCall{
			ID:        "call_1",
			Name:      tools.GroupSum,
			Arguments: map[string]any{"group_by": "Region", "value_column": "Amount"},
		})),
		llmtest.Reply(llm.TextResponse("```json\n"+`[{"Region":"North","Total":125},{"Region":"South","Total":50}]`+"\n```")),
	)
	a := testApp(t, client)

	var out, progress bytes.Buffer
	opts := &runOptions{prompt: "Total sales amount per region", data: "-", watch: true}
	err := runTask(context.Background(), a.orch, opts, strings.NewReader(salesJSON), &out, &progress)
	require.NoError(t, err)

	var res orchestrator.TaskResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, orchestrator.StatusCompleted, res.Status)
	assert.NotEmpty(t, res.Steps)

	assert.Contains(t, progress.String(), "[100%] COMPLETED")
	assert.Contains(t, progress.String(), "OBSERVING")
}

func TestRunTask_FailureStillPrintsResult(t *testing.T) {
	a := testApp(t, llmtest.NewScripted())

	var out bytes.Buffer
	opts := &runOptions{prompt: "anything", data: "-"}
	err := runTask(context.Background(), a.orch, opts, strings.NewReader(`[]`), &out, io.Discard)
	require.Error(t, err)

	var res orchestrator.TaskResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, orchestrator.StatusFailed, res.Status)
	assert.Equal(t, orchestrator.KindValidation, res.ErrorKind)
}

func TestToolsCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tools"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), tools.GroupSum)
	assert.Contains(t, out.String(), tools.AnalyzeSheet)
}

func TestToolsCommand_JSON(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tools", "--json"})
	require.NoError(t, cmd.Execute())

	var defs []tools.Definition
	require.NoError(t, json.Unmarshal(out.Bytes(), &defs))
	assert.NotEmpty(t, defs)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "excelmind by Fyrsmith Labs")
	assert.Contains(t, out.String(), "Version:    dev")
}

func TestRunCommand_RequiresFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"run", "--prompt", "x"})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "data")
}
