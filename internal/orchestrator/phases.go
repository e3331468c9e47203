package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/excelmind/internal/llm"
	"github.com/fyrsmithlabs/excelmind/internal/quality"
	"github.com/fyrsmithlabs/excelmind/internal/retry"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

// repairKeyAct counts repair cycles caused by a failed ACT phase.
const repairKeyAct = "act"

const (
	toolLimitExceeded = "tool call limit exceeded"
	toolDepthExceeded = "tool depth limit reached"
)

func (s *session) observePhase(ctx context.Context) {
	ctx, end := s.phase(ctx, "observe")
	defer end()

	start := time.Now()
	idx := s.beginStep(StepObserve, StageObserve)
	s.obs = observe(s.files, s.o.cfg.SampleRows, s.o.masker)
	s.memo.Append("Observation", s.obs.Digest(), StageObserve)
	s.endStep(idx, map[string]int{
		"files":          s.obs.Files,
		"sheets":         s.obs.Sheets,
		"rows":           s.obs.TotalRows,
		"missing_values": s.obs.DataQuality.MissingValues,
		"comments":       s.obs.Metadata.CommentCount,
		"notes":          s.obs.Metadata.NoteCount,
	}, nil, 0, time.Since(start))

	s.log(ctx, zapcore.DebugLevel, "data observed",
		zap.Int("sheets", s.obs.Sheets),
		zap.Int("rows", s.obs.TotalRows),
	)
	if n := s.obs.DataQuality.MissingValues; n > 0 {
		s.log(ctx, zapcore.WarnLevel, fmt.Sprintf("found %d missing values", n), zap.Int("missing_values", n))
	}
	if n := s.obs.Metadata.CommentCount; n > 0 {
		s.log(ctx, zapcore.InfoLevel, fmt.Sprintf("found %d comments in data", n), zap.Int("comments", n))
	}
	if n := s.obs.Metadata.NoteCount; n > 0 {
		s.log(ctx, zapcore.InfoLevel, fmt.Sprintf("found %d notes in data", n), zap.Int("notes", n))
	}
	s.fire(ctx, EventObserved, fmt.Sprintf("Observed %d sheet(s)", s.obs.Sheets))
}

func (s *session) thinkPhase(ctx context.Context) {
	ctx, end := s.phase(ctx, "think")
	defer end()

	s.conversation = []llm.Message{
		llm.UserText(thinkPrompt(s.prompt, s.obs.Text(), s.memo.Read(s.o.cfg.MemoMaxChars))),
	}

	start := time.Now()
	idx := s.beginStep(StepThink, StageThink)
	usedFallback := false
	plan := retry.Fallback[*llm.Response]{
		Name: "basic_plan",
		Fn: func(ctx context.Context) (*llm.Response, error) {
			if err := s.checkCancelled(ctx); err != nil {
				return nil, err
			}
			usedFallback = true
			return s.basicPlan(), nil
		},
	}
	resp, attempts, err := retry.RunWithFallback(ctx, s.retry, StageThink, s.modelAttempt(s.request(false)), plan)
	if err != nil {
		s.endStep(idx, nil, err, attempts-1, time.Since(start))
		if s.interrupted(ctx) {
			return
		}
		s.stop(ctx, err)
		return
	}
	if usedFallback {
		LLMCallsTotal.WithLabelValues("fallback").Inc()
		s.log(ctx, zapcore.WarnLevel, "model unavailable, using basic plan")
	}
	s.endStep(idx, responseSummary(resp, usedFallback), nil, attempts-1, time.Since(start))

	if m := assistantMessage(resp, false); m.Text != "" || len(m.ToolCalls) > 0 {
		s.conversation = append(s.conversation, m)
	}
	s.pending = resp
	s.memo.Append("Plan", planDigest(resp), StageThink)
	s.fire(ctx, EventPlanned, "Plan ready")
}

// basicPlan analyzes every sheet of every file.
func (s *session) basicPlan() *llm.Response {
	var calls []llm.ToolCall
	for _, f := range s.files {
		for _, name := range f.SheetNames() {
			calls = append(calls, llm.ToolCall{
				ID:        fmt.Sprintf("plan_%d", len(calls)+1),
				Name:      tools.AnalyzeSheet,
				Arguments: map[string]any{"file_id": f.ID, "sheet": name},
			})
		}
	}
	return llm.ToolCallResponse(calls...)
}

func (s *session) actPhase(ctx context.Context) {
	ctx, end := s.phase(ctx, "act")
	defer end()

	answer, err := s.act(ctx)
	if err != nil {
		if s.interrupted(ctx) {
			return
		}
		s.lastErr = err
		s.repairKey = repairKeyAct
		s.log(ctx, zapcore.WarnLevel, "act phase failed", zap.Error(err))
		if s.o.cfg.EnableAutoRepair && repairable(err) {
			s.fire(ctx, EventActRepair, "Action failed, repairing")
			return
		}
		s.final = err
		s.fire(ctx, EventActFailed, "Action failed: "+err.Error())
		return
	}
	s.answer = answer
	s.fire(ctx, EventActOK, "Evaluating result")
}

// act runs the model/tool loop until the model answers in text.
func (s *session) act(ctx context.Context) (string, error) {
	resp := s.pending
	s.pending = nil
	if resp == nil {
		var err error
		if resp, err = s.modelTurn(ctx, false); err != nil {
			return "", err
		}
	}

	for depth := 0; ; depth++ {
		if resp.Kind == llm.KindText {
			return resp.Text, nil
		}
		if depth >= s.o.cfg.MaxToolDepth {
			return s.finalAnswer(ctx, resp.ToolCalls)
		}

		results, toolErr := s.runTools(ctx, resp.ToolCalls)
		s.conversation = append(s.conversation, llm.Message{Role: llm.RoleUser, ToolResults: results})
		if toolErr != nil {
			return "", toolErr
		}

		var err error
		if resp, err = s.modelTurn(ctx, false); err != nil {
			return "", err
		}
	}
}

// finalAnswer declines the outstanding calls and asks for an answer with
// tool use disabled.
func (s *session) finalAnswer(ctx context.Context, calls []llm.ToolCall) (string, error) {
	results := make([]llm.ToolResult, len(calls))
	for i, c := range calls {
		results[i] = llm.ToolResult{ToolCallID: c.ID, Error: toolDepthExceeded}
	}
	s.conversation = append(s.conversation, llm.Message{
		Role:        llm.RoleUser,
		ToolResults: results,
		Text:        finalAnswerPrompt,
	})

	resp, err := s.modelTurn(ctx, true)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", &AIServiceError{
			Kind: llm.ErrMalformed,
			Err:  errors.New("model requested tools after tool use was disabled"),
		}
	}
	return resp.Text, nil
}

// modelTurn sends the conversation and records the reply.
func (s *session) modelTurn(ctx context.Context, final bool) (*llm.Response, error) {
	if err := s.checkCancelled(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	idx := s.beginStep(StepAct, StageLLM)
	resp, attempts, err := retry.Run(ctx, s.retry, StageLLM, s.modelAttempt(s.request(final)))
	if err != nil {
		s.endStep(idx, nil, err, attempts-1, time.Since(start))
		return nil, err
	}
	s.endStep(idx, responseSummary(resp, false), nil, attempts-1, time.Since(start))
	if m := assistantMessage(resp, final); m.Text != "" || len(m.ToolCalls) > 0 {
		s.conversation = append(s.conversation, m)
	}
	return resp, nil
}

func (s *session) request(final bool) llm.Request {
	req := llm.Request{
		System:    systemPrompt,
		Messages:  append([]llm.Message(nil), s.conversation...),
		Tools:     s.o.registry.Definitions(),
		MaxTokens: s.o.cfg.MaxTokens,
	}
	if final {
		req.ToolChoice = llm.ToolChoiceNone
	}
	return req
}

// modelAttempt is one guarded model call.
func (s *session) modelAttempt(req llm.Request) func(context.Context, int) (*llm.Response, error) {
	return func(ctx context.Context, attempt int) (*llm.Response, error) {
		if err := s.checkCancelled(ctx); err != nil {
			return nil, retry.Permanent(err)
		}

		ctx, span := s.o.tracer.Start(ctx, "orchestrator.llm", trace.WithAttributes(
			attribute.Int("llm.attempt", attempt+1),
			attribute.Int("llm.messages", len(req.Messages)),
		))
		defer span.End()

		resp, err := s.o.client.Send(ctx, req)
		if err == nil {
			err = resp.Validate()
		}
		if err != nil {
			LLMCallsTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			classified := llm.Classify(err)
			return nil, &AIServiceError{Kind: llm.KindOf(classified), Err: classified}
		}

		LLMCallsTotal.WithLabelValues("success").Inc()
		span.SetAttributes(
			attribute.String("llm.kind", string(resp.Kind)),
			attribute.Int64("llm.input_tokens", resp.Usage.InputTokens),
			attribute.Int64("llm.output_tokens", resp.Usage.OutputTokens),
		)
		return resp, nil
	}
}

type toolOutcome struct {
	output   any
	text     string
	err      error
	attempts int
	duration time.Duration
	started  bool
}

// runTools executes up to MaxToolsPerTurn calls and answers every call.
// Steps are recorded in call order once all calls have finished.
func (s *session) runTools(ctx context.Context, calls []llm.ToolCall) ([]llm.ToolResult, error) {
	limit := len(calls)
	if limit > s.o.cfg.MaxToolsPerTurn {
		limit = s.o.cfg.MaxToolsPerTurn
	}

	outcomes := make([]toolOutcome, limit)
	if s.o.cfg.EnableParallel && limit > 1 {
		var wg sync.WaitGroup
		for i := 0; i < limit; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = s.callTool(ctx, calls[i])
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < limit; i++ {
			outcomes[i] = s.callTool(ctx, calls[i])
		}
	}

	results := make([]llm.ToolResult, len(calls))
	var firstErr error
	for i, c := range calls {
		if i >= limit {
			ToolCallsTotal.WithLabelValues(c.Name, "rejected").Inc()
			results[i] = llm.ToolResult{ToolCallID: c.ID, Error: toolLimitExceeded}
			continue
		}

		oc := outcomes[i]
		if oc.err != nil {
			results[i] = llm.ToolResult{ToolCallID: c.ID, Error: oc.err.Error()}
			if firstErr == nil {
				firstErr = oc.err
			}
		} else {
			results[i] = llm.ToolResult{ToolCallID: c.ID, Output: oc.text}
			s.toolOutputs = append(s.toolOutputs, oc.output)
			s.memo.Append("Tool "+c.Name, oc.text, ToolStage(c.Name))
		}
		if !oc.started {
			continue
		}

		step := ExecutionStep{
			Type:       StepAct,
			Stage:      ToolStage(c.Name),
			Code:       argumentsJSON(c.Arguments),
			Status:     StepCompleted,
			Duration:   oc.duration,
			RetryCount: max(oc.attempts-1, 0),
		}
		if oc.err != nil {
			step.Status = StepFailed
			if isCancellation(oc.err) {
				step.Status = StepCancelled
			}
			step.Error = oc.err.Error()
		} else {
			step.Result = oc.output
		}
		s.addStep(step)
	}
	return results, firstErr
}

// callTool runs one call under the retry strategy. It must not touch
// driver state; calls may run in parallel.
func (s *session) callTool(ctx context.Context, call llm.ToolCall) toolOutcome {
	if err := s.checkCancelled(ctx); err != nil {
		return toolOutcome{err: err}
	}

	ctx, span := s.o.tracer.Start(ctx, "orchestrator.tool", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
	))
	defer span.End()

	if !s.o.registry.Has(call.Name) {
		err := &ToolExecutionError{Tool: call.Name, Err: &tools.ToolNotFoundError{Name: call.Name}}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log(ctx, zapcore.WarnLevel, "model requested unknown tool",
			zap.String("tool", call.Name),
			zap.Strings("available", s.o.registry.Names()),
		)
		return toolOutcome{err: err, attempts: 1, started: true}
	}

	start := time.Now()
	out, attempts, err := retry.Run(ctx, s.retry, ToolStage(call.Name), func(ctx context.Context, attempt int) (any, error) {
		if err := s.checkCancelled(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		v, err := s.o.registry.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			return nil, &ToolExecutionError{Tool: call.Name, Err: err}
		}
		return v, nil
	})
	oc := toolOutcome{output: out, attempts: attempts, duration: time.Since(start), started: true}
	if err == nil {
		var data []byte
		if data, err = json.Marshal(out); err != nil {
			err = &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("encode result: %w", err)}
		} else {
			oc.text = string(data)
		}
	}
	if err != nil {
		oc.err = err
		ToolCallsTotal.WithLabelValues(call.Name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log(ctx, zapcore.WarnLevel, "tool call failed",
			zap.String("tool", call.Name),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return oc
	}
	ToolCallsTotal.WithLabelValues(call.Name, "success").Inc()
	return oc
}

func (s *session) evaluatePhase(ctx context.Context) {
	ctx, end := s.phase(ctx, "evaluate")
	defer end()

	start := time.Now()
	idx := s.beginStep(StepEvaluate, StageEvaluate)
	artifact := parseAnswer(s.answer)
	report := s.o.validator.Evaluate(ctx, artifact, quality.EvalContext{
		Prompt:      s.prompt,
		Files:       s.files,
		ToolOutputs: s.toolOutputs,
	})
	QualityScore.Observe(report.OverallQuality)

	s.mu.Lock()
	s.state.QualityReport = report
	s.mu.Unlock()
	s.endStep(idx, map[string]any{
		"overallQuality": report.OverallQuality,
		"totalIssues":    report.TotalIssues,
		"criticalIssues": report.CriticalIssues,
	}, nil, 0, time.Since(start))

	s.log(ctx, zapcore.InfoLevel, "result evaluated",
		zap.Float64("quality", report.OverallQuality),
		zap.Int("issues", report.TotalIssues),
		zap.Int("critical", report.CriticalIssues),
	)

	ev := Decide(report, s.o.cfg.QualityThreshold, s.o.cfg.EnableAutoRepair)
	switch ev {
	case EventQualityPassed, EventQualityAccepted:
		if ev == EventQualityAccepted {
			s.log(ctx, zapcore.WarnLevel, "result accepted below quality threshold",
				zap.Float64("quality", report.OverallQuality),
				zap.Float64("threshold", s.o.cfg.QualityThreshold),
			)
		}
		s.data = artifact
		s.addStep(ExecutionStep{Type: StepComplete, Stage: StageComplete, Status: StepCompleted})
		s.fire(ctx, ev, "Task completed")
	case EventQualityRepair:
		s.lastErr = nil
		s.repairKey = StageEvaluate
		s.fire(ctx, ev, fmt.Sprintf("Quality %.2f below threshold, repairing", report.OverallQuality))
	default:
		s.final = s.qualityFailure(report)
		s.fire(ctx, ev, s.final.Error())
	}
}

func (s *session) qualityFailure(r *quality.Report) error {
	return &QualityGateFailure{
		Score:     r.OverallQuality,
		Threshold: s.o.cfg.QualityThreshold,
		Issues:    r.Issues,
	}
}

func (s *session) repairPhase(ctx context.Context) {
	ctx, end := s.phase(ctx, "repair")
	defer end()

	start := time.Now()
	key := s.repairKey
	s.mu.Lock()
	s.state.RetryCount[key]++
	cycle := s.state.RetryCount[key]
	report := s.state.QualityReport
	s.mu.Unlock()

	idx := s.beginStep(StepRepair, StageRepair)

	var cause error
	if key == repairKeyAct {
		cause = s.lastErr
	} else {
		cause = s.qualityFailure(report)
	}
	var exhausted error
	switch {
	case cycle > s.o.cfg.MaxRetries:
		exhausted = cause
	case !s.budget.Take():
		exhausted = fmt.Errorf("%w: %w", retry.ErrBudgetExhausted, cause)
	}
	if exhausted != nil {
		s.endStep(idx, nil, exhausted, 0, time.Since(start))
		s.log(ctx, zapcore.WarnLevel, "repair attempts exhausted",
			zap.String("trigger", key),
			zap.Int("cycle", cycle),
			zap.Error(exhausted),
		)
		s.final = exhausted
		s.fire(ctx, EventRepairExhausted, "Repair attempts exhausted")
		return
	}
	RetriesTotal.WithLabelValues("repair").Inc()

	var issues *quality.Report
	if key == StageEvaluate {
		issues = report
	}
	s.addUserText(repairPrompt(cycle, issues, s.lastErr, s.memo.Read(s.o.cfg.MemoMaxChars)))
	s.memo.Append(fmt.Sprintf("Repair %d", cycle), cause.Error(), StageRepair)
	s.endStep(idx, map[string]any{"cycle": cycle, "trigger": key}, nil, 0, time.Since(start))
	s.fire(ctx, EventRepaired, fmt.Sprintf("Repair %d prepared", cycle))
}

// addUserText adds an instruction, merging it into a trailing user turn so
// roles keep alternating.
func (s *session) addUserText(text string) {
	if n := len(s.conversation); n > 0 && s.conversation[n-1].Role == llm.RoleUser {
		last := s.conversation[n-1]
		if last.Text != "" {
			last.Text += "\n\n"
		}
		last.Text += text
		s.conversation[n-1] = last
		return
	}
	s.conversation = append(s.conversation, llm.UserText(text))
}

func assistantMessage(resp *llm.Response, textOnly bool) llm.Message {
	m := llm.Message{Role: llm.RoleAssistant, Text: resp.Text}
	if !textOnly {
		m.ToolCalls = resp.ToolCalls
	}
	return m
}

func responseSummary(resp *llm.Response, fallback bool) map[string]any {
	out := map[string]any{"kind": string(resp.Kind)}
	if len(resp.ToolCalls) > 0 {
		names := make([]string, len(resp.ToolCalls))
		for i, c := range resp.ToolCalls {
			names[i] = c.Name
		}
		out["toolCalls"] = names
	}
	if fallback {
		out["fallback"] = true
	}
	return out
}

func planDigest(resp *llm.Response) string {
	if resp.Kind == llm.KindText {
		return resp.Text
	}
	names := make([]string, len(resp.ToolCalls))
	for i, c := range resp.ToolCalls {
		names[i] = c.Name
	}
	return "call " + strings.Join(names, ", ")
}

func argumentsJSON(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}
