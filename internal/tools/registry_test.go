package tools

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Tool {
	return Tool{
		Definition: Definition{
			Name:        name,
			Description: "echo " + name,
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"msg":   {Type: "string"},
					"count": {Type: "integer"},
					"mode":  {Type: "string", Enum: []any{"loud", "quiet"}},
				},
				Required: []string{"msg"},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["msg"], nil
		},
	}
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	out, err := r.Execute(context.Background(), "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.True(t, r.Has("echo"))
}

func TestRegistry_UnknownToolNamesIt(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "nope", nil)
	require.Error(t, err)

	var nf *ToolNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Name)
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Contains(t, err.Error(), "nope")
	assert.Contains(t, err.Error(), "not found")
}

func TestRegistry_HandlerErrorUnwrapped(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Definition: Definition{Name: "fail"},
		Handler:    func(context.Context, map[string]any) (any, error) { return nil, boom },
	}))

	_, err := r.Execute(context.Background(), "fail", nil)
	assert.Same(t, boom, err)
}

func TestRegistry_RegisterRejectsMalformed(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Tool{Handler: echoTool("x").Handler}))
	assert.Error(t, r.Register(Tool{Definition: Definition{Name: "nohandler"}}))
}

func TestRegistry_RegisterBatchAllOrNothing(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterBatch(echoTool("a"), Tool{Definition: Definition{Name: "broken"}})
	require.Error(t, err)
	assert.Empty(t, r.Names())

	require.NoError(t, r.RegisterBatch(echoTool("b"), echoTool("a")))
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterBatch(echoTool("zeta"), echoTool("alpha"), echoTool("mid")))

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "mid", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)
	assert.Equal(t, []string{"msg"}, defs[0].InputSchema.Required)
}

func TestRegistry_ReplaceSameName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))
	replacement := echoTool("echo")
	replacement.Handler = func(context.Context, map[string]any) (any, error) { return "v2", nil }
	require.NoError(t, r.Register(replacement))

	out, err := r.Execute(context.Background(), "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "v2", out)
	assert.Len(t, r.Names(), 1)
}

func TestRegistry_ArgumentValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{name: "valid", args: map[string]any{"msg": "x", "count": float64(2), "mode": "loud"}},
		{name: "int count", args: map[string]any{"msg": "x", "count": 3}},
		{name: "missing required", args: map[string]any{"count": float64(1)}, wantErr: true},
		{name: "nil required", args: map[string]any{"msg": nil}, wantErr: true},
		{name: "wrong type", args: map[string]any{"msg": 12}, wantErr: true},
		{name: "fractional integer", args: map[string]any{"msg": "x", "count": 1.5}, wantErr: true},
		{name: "bad enum", args: map[string]any{"msg": "x", "mode": "shout"}, wantErr: true},
		{name: "unknown extra ignored", args: map[string]any{"msg": "x", "extra": true}},
	}

	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(context.Background(), "echo", tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArguments)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_SchemaErrorIsNotRetryable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	_, err := r.Execute(context.Background(), "echo", map[string]any{"msg": "x", "mode": "shout"})
	require.Error(t, err)

	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "echo", argErr.Tool)
	assert.False(t, argErr.Retryable())
	assert.Contains(t, err.Error(), "enum")
	assert.NotNil(t, errors.Unwrap(err))
}

func TestRegistry_RegisterRejectsUnresolvableSchema(t *testing.T) {
	r := NewRegistry()
	shared := &jsonschema.Schema{Type: "string"}
	tool := echoTool("dup")
	tool.InputSchema = &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{"a": shared, "b": shared},
	}

	err := r.Register(tool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input schema")
	assert.False(t, r.Has("dup"))
}

func TestRegistry_NilSchemaSkipsValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Definition: Definition{Name: "free"},
		Handler:    func(_ context.Context, args map[string]any) (any, error) { return len(args), nil },
	}))

	out, err := r.Execute(context.Background(), "free", map[string]any{"anything": []any{1, "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestRegistry_ValidationDisabled(t *testing.T) {
	r := NewRegistry(WithArgValidation(false))
	require.NoError(t, r.Register(echoTool("echo")))

	out, err := r.Execute(context.Background(), "echo", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.Execute(context.Background(), "echo", map[string]any{"msg": "x"})
		}()
		go func() {
			defer wg.Done()
			_ = r.Definitions()
		}()
	}
	wg.Wait()
}
