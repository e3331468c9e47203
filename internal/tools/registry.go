// Package tools provides the registry of callable tools the orchestrator
// exposes to the model, plus the built-in spreadsheet tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrToolNotFound is matched by errors.Is for every ToolNotFoundError.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidArguments is matched by errors.Is for every ArgumentError.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// ToolNotFoundError is returned by Execute for an unregistered name.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found in registry", e.Name)
}

// Is makes errors.Is(err, ErrToolNotFound) true.
func (e *ToolNotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// Retryable reports false; unknown tools stay unknown.
func (e *ToolNotFoundError) Retryable() bool { return false }

// ArgumentError reports arguments that do not satisfy a tool's schema.
// Field is empty when the schema validator rejected the arguments as a whole.
type ArgumentError struct {
	Tool   string
	Field  string
	Reason string
	Err    error
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tool %q: arguments %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tool %q: argument %q %s", e.Tool, e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalidArguments) true.
func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArguments }

// Retryable reports false.
func (e *ArgumentError) Retryable() bool { return false }

// Definition is what the model sees of a tool.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema,omitempty"`
}

// Handler executes a tool call.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named, described, executable capability.
type Tool struct {
	Definition
	Handler Handler
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]entry
	validateArgs bool
}

// entry pairs a tool with its resolved input schema. schema is nil when the
// tool declares none.
type entry struct {
	tool   Tool
	schema *jsonschema.Resolved
}

// Option configures a Registry.
type Option func(*Registry)

// WithArgValidation toggles schema checks on Execute. On by default.
func WithArgValidation(enabled bool) Option {
	return func(r *Registry) { r.validateArgs = enabled }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:        make(map[string]entry),
		validateArgs: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. A tool with the same name is replaced.
func (r *Registry) Register(tool Tool) error {
	e, err := checkTool(tool)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.tools[tool.Name] = e
	r.mu.Unlock()
	return nil
}

// RegisterBatch adds every tool, or none if any is malformed.
func (r *Registry) RegisterBatch(tools ...Tool) error {
	entries := make([]entry, 0, len(tools))
	for _, t := range tools {
		e, err := checkTool(t)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.tools[e.tool.Name] = e
	}
	return nil
}

func checkTool(t Tool) (entry, error) {
	if t.Name == "" {
		return entry{}, fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return entry{}, fmt.Errorf("tool %q: handler is required", t.Name)
	}
	e := entry{tool: t}
	if t.InputSchema != nil {
		resolved, err := t.InputSchema.Resolve(nil)
		if err != nil {
			return entry{}, fmt.Errorf("tool %q: input schema: %w", t.Name, err)
		}
		e.schema = resolved
	}
	return e, nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.lookup(name)
	return e.tool, ok
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Definitions returns every tool's definition, sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.tool.Definition)
	}
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Execute runs the named tool. Handler errors are returned unwrapped so the
// caller can classify them.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if r.validateArgs && e.schema != nil {
		if err := e.schema.Validate(args); err != nil {
			return nil, &ArgumentError{Tool: name, Reason: err.Error(), Err: err}
		}
	}
	return e.tool.Handler(ctx, args)
}
