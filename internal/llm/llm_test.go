package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/excelmind/internal/cache"
	"github.com/fyrsmithlabs/excelmind/internal/config"
	"github.com/fyrsmithlabs/excelmind/internal/llm"
	"github.com/fyrsmithlabs/excelmind/internal/llm/llmtest"
	"github.com/fyrsmithlabs/excelmind/internal/retry"
	"github.com/fyrsmithlabs/excelmind/internal/tools"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		kind      llm.ErrorKind
		retryable bool
	}{
		{err: errors.New("401 Unauthorized: invalid api key"), kind: llm.ErrAuth},
		{err: errors.New("429 Too Many Requests"), kind: llm.ErrRateLimit, retryable: true},
		{err: errors.New("prompt is too long"), kind: llm.ErrContextLength},
		{err: errors.New("dial tcp: connection refused"), kind: llm.ErrConnection, retryable: true},
		{err: errors.New("i/o timeout"), kind: llm.ErrTimeout, retryable: true},
		{err: context.DeadlineExceeded, kind: llm.ErrTimeout, retryable: true},
		{err: errors.New("something odd"), kind: llm.ErrUnknown, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := llm.Classify(tt.err)
			assert.Equal(t, tt.kind, llm.KindOf(err))
			assert.Equal(t, tt.retryable, retry.IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_PassesCancellationThrough(t *testing.T) {
	assert.Same(t, context.Canceled, llm.Classify(context.Canceled))
	assert.Nil(t, llm.Classify(nil))

	already := &llm.Error{Kind: llm.ErrMalformed, Err: errors.New("x")}
	assert.Same(t, already, llm.Classify(already))
}

func TestResponse_Validate(t *testing.T) {
	assert.NoError(t, llm.TextResponse("hi").Validate())
	assert.NoError(t, llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "t"}).Validate())

	var nilResp *llm.Response
	for _, r := range []*llm.Response{
		nilResp,
		{Kind: llm.KindToolCalls},
		llm.ToolCallResponse(llm.ToolCall{Name: "t"}),
		{Kind: "weird"},
	} {
		err := r.Validate()
		require.Error(t, err)
		assert.Equal(t, llm.ErrMalformed, llm.KindOf(err))
	}
}

type fakeAPI struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
	reply  string
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.reply)
	}
}

func newAnthropicAgainst(t *testing.T, api *fakeAPI) *llm.Anthropic {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	c, err := llm.NewAnthropic(config.LLMConfig{
		APIKey:  config.Secret("test-key"),
		BaseURL: srv.URL,
		Model:   "claude-test",
		Timeout: config.Duration(5 * time.Second),
	}, nil)
	require.NoError(t, err)
	return c
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	_, err := llm.NewAnthropic(config.LLMConfig{}, nil)
	assert.Error(t, err)
}

func TestAnthropic_ToolUseRoundTrip(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, reply: `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [
			{"type": "text", "text": "Let me sum that."},
			{"type": "tool_use", "id": "toolu_1", "name": "group_sum", "input": {"group_by": "Region", "value_column": "Amount"}}
		],
		"stop_reason": "tool_use", "stop_sequence": null,
		"usage": {"input_tokens": 12, "output_tokens": 7}
	}`}
	c := newAnthropicAgainst(t, api)

	resp, err := c.Send(context.Background(), llm.Request{
		System: "You analyse spreadsheets.",
		Messages: []llm.Message{
			llm.UserText("sum Amount by Region"),
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "toolu_0", Name: "analyze_sheet", Arguments: map[string]any{}}}},
			{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{ToolCallID: "toolu_0", Output: `{"rows":3}`}}},
		},
		Tools: tools.Builtins()[:2],
	})
	require.NoError(t, err)

	assert.Equal(t, llm.KindToolCalls, resp.Kind)
	assert.Equal(t, "Let me sum that.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "group_sum", resp.ToolCalls[0].Name)
	assert.Equal(t, "Region", resp.ToolCalls[0].Arguments["group_by"])
	assert.Equal(t, int64(12), resp.Usage.InputTokens)

	require.Len(t, api.bodies, 1)
	body := api.bodies[0]
	assert.Equal(t, "claude-test", body["model"])
	assert.Len(t, body["messages"], 3)
	assert.Len(t, body["tools"], 2)
}

func TestAnthropic_TextResponse(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, reply: `{
		"id": "msg_2", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [{"type": "text", "text": "{\"total\": 5}"}],
		"stop_reason": "end_turn", "stop_sequence": null,
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`}
	c := newAnthropicAgainst(t, api)

	resp, err := c.Send(context.Background(), llm.Request{Messages: []llm.Message{llm.UserText("hi")}})
	require.NoError(t, err)
	assert.Equal(t, llm.KindText, resp.Kind)
	assert.Equal(t, `{"total": 5}`, resp.Text)
}

func TestAnthropic_ErrorStatusesAreClassified(t *testing.T) {
	tests := []struct {
		status int
		kind   llm.ErrorKind
	}{
		{http.StatusTooManyRequests, llm.ErrRateLimit},
		{http.StatusUnauthorized, llm.ErrAuth},
		{http.StatusInternalServerError, llm.ErrServer},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			api := &fakeAPI{status: tt.status, reply: `{"type":"error","error":{"type":"api_error","message":"nope"}}`}
			c := newAnthropicAgainst(t, api)

			_, err := c.Send(context.Background(), llm.Request{Messages: []llm.Message{llm.UserText("hi")}})
			require.Error(t, err)
			assert.Equal(t, tt.kind, llm.KindOf(err))
			assert.Len(t, api.bodies, 1, "client must not retry on its own")
		})
	}
}

func TestAnthropic_EmptyRequestIsMalformed(t *testing.T) {
	c := newAnthropicAgainst(t, &fakeAPI{status: http.StatusOK})
	_, err := c.Send(context.Background(), llm.Request{})
	assert.Equal(t, llm.ErrMalformed, llm.KindOf(err))
}

func TestCached_ServesRepeatsFromStore(t *testing.T) {
	m := &llmtest.MockClient{}
	m.On("Send", mock.Anything, mock.Anything).Return(llm.TextResponse("42"), nil).Once()

	var hits, misses int
	c := llm.NewCached(m, cache.NewMemory(10, time.Hour), time.Hour, nil, func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	})
	ctx := llm.WithFingerprint(context.Background(), "data-1")
	req := llm.Request{Messages: []llm.Message{llm.UserText("total?")}}

	r1, err := c.Send(ctx, req)
	require.NoError(t, err)
	r2, err := c.Send(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "42", r1.Text)
	assert.Equal(t, "42", r2.Text)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	m.AssertExpectations(t)
}

func TestCached_FingerprintSeparatesData(t *testing.T) {
	m := &llmtest.MockClient{}
	m.On("Send", mock.Anything, mock.Anything).Return(llm.TextResponse("x"), nil).Twice()

	c := llm.NewCached(m, cache.NewMemory(10, time.Hour), time.Hour, nil, nil)
	req := llm.Request{Messages: []llm.Message{llm.UserText("total?")}}

	_, err := c.Send(llm.WithFingerprint(context.Background(), "a"), req)
	require.NoError(t, err)
	_, err = c.Send(llm.WithFingerprint(context.Background(), "b"), req)
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	m := &llmtest.MockClient{}
	m.On("Send", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	m.On("Send", mock.Anything, mock.Anything).Return(llm.TextResponse("ok"), nil).Once()

	c := llm.NewCached(m, cache.NewMemory(10, time.Hour), time.Hour, nil, nil)
	req := llm.Request{Messages: []llm.Message{llm.UserText("q")}}

	_, err := c.Send(context.Background(), req)
	require.Error(t, err)
	resp, err := c.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

type brokenStore struct{ cache.Nop }

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }

func TestCached_StoreFailureFallsThrough(t *testing.T) {
	m := &llmtest.MockClient{}
	m.On("Send", mock.Anything, mock.Anything).Return(llm.TextResponse("ok"), nil)

	c := llm.NewCached(m, brokenStore{}, time.Hour, nil, nil)
	resp, err := c.Send(context.Background(), llm.Request{Messages: []llm.Message{llm.UserText("q")}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestRateLimited_HonoursContext(t *testing.T) {
	s := llmtest.NewScripted(llmtest.Reply(llm.TextResponse("ok")))
	rl := llm.NewRateLimited(s, 0.001, 1)

	_, err := rl.Send(context.Background(), llm.Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = rl.Send(ctx, llm.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, s.Calls())
}

func TestScripted_ReplaysInOrder(t *testing.T) {
	s := llmtest.NewScripted(
		llmtest.Fail(errors.New("first")),
		llmtest.Reply(llm.TextResponse("second")),
	)
	_, err := s.Send(context.Background(), llm.Request{})
	assert.EqualError(t, err, "first")
	r, err := s.Send(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "second", r.Text)
	r, err = s.Send(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "second", r.Text)
	assert.Equal(t, 3, s.Calls())
}
