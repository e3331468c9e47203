package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/excelmind/internal/config"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5-20250929"
	defaultAnthropicMaxTokens = 4096
	defaultAnthropicTimeout   = 60 * time.Second
)

// Anthropic implements Client with the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropic creates a client from settings. The API key is required.
func NewAnthropic(cfg config.LLMConfig, logger *zap.Logger) (*Anthropic, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("anthropic API key required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultAnthropicTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey.Value()),
		option.WithRequestTimeout(timeout),
		// Retries are owned by the orchestrator's retry strategy.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Send implements Client.
func (a *Anthropic) Send(ctx context.Context, req Request) (*Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, &Error{Kind: ErrMalformed, Err: err}
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		classified := Classify(err)
		a.logger.Debug("anthropic request failed",
			zap.String("model", a.model),
			zap.Duration("duration", time.Since(start)),
			zap.String("kind", string(KindOf(classified))),
			zap.Error(err),
		)
		return nil, classified
	}

	resp, err := convertResponse(msg)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("anthropic request completed",
		zap.String("model", a.model),
		zap.Duration("duration", time.Since(start)),
		zap.String("stop_reason", resp.StopReason),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func (a *Anthropic) buildParams(req Request) (anthropic.MessageNewParams, error) {
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, m := range req.Messages {
		mp, err := convertMessage(m)
		if err != nil {
			return params, err
		}
		params.Messages = append(params.Messages, mp)
	}
	if len(params.Messages) == 0 {
		return params, fmt.Errorf("request has no messages")
	}

	for _, def := range req.Tools {
		params.Tools = append(params.Tools, convertTool(def))
	}
	if req.ToolChoice == ToolChoiceNone && len(params.Tools) > 0 {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	}
	return params, nil
}

func convertTool(def tools.Definition) anthropic.ToolUnionParam {
	var schema anthropic.ToolInputSchemaParam
	if in := def.InputSchema; in != nil {
		schema.Required = in.Required
		if len(in.Properties) > 0 {
			schema.Properties = in.Properties
		}
	}
	toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
	if toolParam.OfTool != nil && def.Description != "" {
		toolParam.OfTool.Description = param.NewOpt(def.Description)
	}
	return toolParam
}

func convertMessage(m Message) (anthropic.MessageParam, error) {
	switch m.Role {
	case RoleAssistant:
		var blocks []anthropic.ContentBlockParamUnion
		if m.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Text))
		}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
		}
		if len(blocks) == 0 {
			return anthropic.MessageParam{}, fmt.Errorf("empty assistant message")
		}
		return anthropic.NewAssistantMessage(blocks...), nil

	case RoleUser:
		var blocks []anthropic.ContentBlockParamUnion
		for _, tr := range m.ToolResults {
			content := tr.Output
			if tr.IsError() {
				content = tr.Error
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, content, tr.IsError()))
		}
		if m.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Text))
		}
		if len(blocks) == 0 {
			return anthropic.MessageParam{}, fmt.Errorf("empty user message")
		}
		return anthropic.NewUserMessage(blocks...), nil
	}
	return anthropic.MessageParam{}, fmt.Errorf("unknown role %q", m.Role)
}

func convertResponse(msg *anthropic.Message) (*Response, error) {
	resp := &Response{
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, &Error{Kind: ErrMalformed, Err: fmt.Errorf("tool_use %s input: %w", block.Name, err)}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	if len(resp.ToolCalls) > 0 {
		resp.Kind = KindToolCalls
	} else {
		resp.Kind = KindText
		if resp.Text == "" && msg.StopReason != anthropic.StopReasonEndTurn {
			return nil, &Error{Kind: ErrMalformed, Err: fmt.Errorf("empty response (stop_reason %s)", msg.StopReason)}
		}
	}
	return resp, resp.Validate()
}

var _ Client = (*Anthropic)(nil)
