// Package llm defines the model client the orchestrator talks to.
//
// A Client takes a Request (system prompt, conversation, tool definitions)
// and returns a Response that is either text or a set of tool calls.
// Implementations classify failures into an Error with a Kind so callers
// can decide whether to retry.
package llm

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IsError reports whether the call failed.
func (r ToolResult) IsError() bool { return r.Error != "" }

// Message is one conversation turn. Assistant turns may carry ToolCalls;
// user turns may carry ToolResults answering them.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// UserText builds a plain user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// Request is one model call.
type Request struct {
	System    string             `json:"system"`
	Messages  []Message          `json:"messages"`
	Tools     []tools.Definition `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`

	// ToolChoice is empty to let the model decide, or ToolChoiceNone to
	// forbid tool calls while keeping Tools declared for the transcript.
	ToolChoice string `json:"tool_choice,omitempty"`
}

// ToolChoiceNone forbids tool calls for one request.
const ToolChoiceNone = "none"

// Kind tags a Response.
type Kind string

const (
	KindText      Kind = "text"
	KindToolCalls Kind = "tool_calls"
)

// Usage counts tokens.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is either text (Kind == KindText) or tool calls
// (Kind == KindToolCalls). A tool-call response may also carry the text the
// model produced alongside the calls.
type Response struct {
	Kind       Kind       `json:"kind"`
	Text       string     `json:"text,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
}

// TextResponse builds a text response.
func TextResponse(text string) *Response {
	return &Response{Kind: KindText, Text: text, StopReason: "end_turn"}
}

// ToolCallResponse builds a tool-call response.
func ToolCallResponse(calls ...ToolCall) *Response {
	return &Response{Kind: KindToolCalls, ToolCalls: calls, StopReason: "tool_use"}
}

// Validate reports a malformed response.
func (r *Response) Validate() error {
	if r == nil {
		return &Error{Kind: ErrMalformed, Err: fmt.Errorf("nil response")}
	}
	switch r.Kind {
	case KindText:
		return nil
	case KindToolCalls:
		if len(r.ToolCalls) == 0 {
			return &Error{Kind: ErrMalformed, Err: fmt.Errorf("tool_calls response without calls")}
		}
		for _, c := range r.ToolCalls {
			if c.ID == "" || c.Name == "" {
				return &Error{Kind: ErrMalformed, Err: fmt.Errorf("tool call missing id or name")}
			}
		}
		return nil
	}
	return &Error{Kind: ErrMalformed, Err: fmt.Errorf("unknown response kind %q", r.Kind)}
}

// Client sends requests to a model. Implementations must be safe for
// concurrent use.
type Client interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Send calls f.
func (f ClientFunc) Send(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
