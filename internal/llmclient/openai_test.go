package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/config"
)

func testLLMConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:   config.ProviderOpenAI,
		Model:      "gpt-4o-mini",
		APIKey:     "test-key",
		BaseURL:    baseURL,
		APITimeout: 5 * time.Second,
		MaxTokens:  1024,
		MaxRetries: 2,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewOpenAIClient(testLLMConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)
	return client, srv
}

func TestOpenAIGenerateText(t *testing.T) {
	var captured chatRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"The title is Example Domain."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":100,"completion_tokens":12,"total_tokens":112}
		}`))
	})

	gen, err := client.Generate(context.Background(), schemas.GenerationRequest{
		System: "You are a browser agent.",
		Turns: []schemas.Turn{
			{Role: schemas.RoleUser, Content: "find the title of example.com"},
		},
		Tools: []schemas.ToolDefinition{{
			Name:       "navigate",
			Parameters: schemas.ParameterSchema{Type: "object"},
		}},
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "The title is Example Domain.", gen.Text)
	assert.Empty(t, gen.ToolCalls)
	assert.Equal(t, 112, gen.Usage.TotalTokens)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "navigate", captured.Tools[0].Function.Name)
}

func TestOpenAIGenerateToolCalls(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"navigate","arguments":"{\"url\":\"https://example.com\"}"}}
			]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":50,"completion_tokens":20,"total_tokens":70}
		}`))
	})

	gen, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Turns: []schemas.Turn{{Role: schemas.RoleUser, Content: "go"}},
	})
	require.NoError(t, err)

	require.Len(t, gen.ToolCalls, 1)
	assert.Equal(t, "call_1", gen.ToolCalls[0].CallID)
	assert.Equal(t, "navigate", gen.ToolCalls[0].Name)
	assert.Equal(t, "https://example.com", gen.ToolCalls[0].Arguments["url"])
}

func TestOpenAIRepairsNearJSONArguments(t *testing.T) {
	// Trailing comma in the arguments payload.
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"memorize","arguments":"{\"note\":\"x\",}"}}
			]}}],
			"usage":{}
		}`))
	})

	gen, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Turns: []schemas.Turn{{Role: schemas.RoleUser, Content: "go"}},
	})
	require.NoError(t, err)
	require.Len(t, gen.ToolCalls, 1)
	assert.Equal(t, "x", gen.ToolCalls[0].Arguments["note"])
}

func TestOpenAIRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}],"usage":{}}`))
	})

	gen, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Turns: []schemas.Turn{{Role: schemas.RoleUser, Content: "go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", gen.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIPermanentErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Turns: []schemas.Turn{{Role: schemas.RoleUser, Content: "go"}},
	})
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIForceJSONDisablesTools(t *testing.T) {
	var captured chatRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}],"usage":{}}`))
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Turns:     []schemas.Turn{{Role: schemas.RoleUser, Content: "report"}},
		Tools:     []schemas.ToolDefinition{{Name: "navigate"}},
		ForceJSON: true,
	})
	require.NoError(t, err)

	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	assert.Empty(t, captured.Tools)
}

func TestOpenAIToolTurnEncoding(t *testing.T) {
	var captured chatRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}],"usage":{}}`))
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		Turns: []schemas.Turn{
			{Role: schemas.RoleUser, Content: "go"},
			{Role: schemas.RoleAgent, ToolCalls: []schemas.ToolCall{
				{CallID: "call_1", Name: "navigate", Arguments: map[string]any{"url": "https://x.test"}},
			}},
			{Role: schemas.RoleTool, ToolResults: []schemas.ToolResult{
				{CallID: "call_1", Value: map[string]any{"content": "page text"}},
				{CallID: "call_2", Err: &schemas.ToolError{Kind: schemas.ErrKindElementNotFound, Message: "gone"}},
			}},
		},
	})
	require.NoError(t, err)

	require.Len(t, captured.Messages, 4)
	assistant := captured.Messages[1]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	assert.JSONEq(t, `{"url":"https://x.test"}`, assistant.ToolCalls[0].Function.Arguments)

	assert.Equal(t, "tool", captured.Messages[2].Role)
	assert.Equal(t, "call_1", captured.Messages[2].ToolCallID)
	assert.JSONEq(t, `{"content":"page text"}`, captured.Messages[2].Content)
	assert.Contains(t, captured.Messages[3].Content, "ELEMENT_NOT_FOUND")
}

func TestDecodeArguments(t *testing.T) {
	args, err := decodeArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = decodeArguments(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, float64(1), args["a"])

	args, err = decodeArguments(`{'a': 'b'}`)
	require.NoError(t, err)
	assert.Equal(t, "b", args["a"])
}
