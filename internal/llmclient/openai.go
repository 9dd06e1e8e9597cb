package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OpenAIClient implements schemas.LLMClient against any chat-completions
// compatible endpoint. OpenRouter and DeepSeek share the wire format and
// differ only in base URL.
type OpenAIClient struct {
	endpoint   string
	apiKey     string
	cfg        config.LLMConfig
	httpClient *http.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
}

var _ schemas.LLMClient = (*OpenAIClient)(nil)

// -- Chat-completions wire structures (internal to this file) --

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatToolSpec `json:"function"`
}

type chatToolSpec struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Parameters  schemas.ParameterSchema `json:"parameters"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Tools          []chatTool      `json:"tools,omitempty"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client for the configured provider family.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}

	base := cfg.BaseURL
	if base == "" {
		switch cfg.Provider {
		case config.ProviderOpenRouter:
			base = "https://openrouter.ai/api/v1"
		case config.ProviderDeepSeek:
			base = "https://api.deepseek.com"
		default:
			base = "https://api.openai.com/v1"
		}
	}

	return &OpenAIClient{
		endpoint:   base + "/chat/completions",
		apiKey:     cfg.APIKey,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		logger:     logger.Named("llm_client." + string(cfg.Provider)),
		limiter:    newLimiter(cfg.RequestsPerMinute),
	}, nil
}

// Generate sends the conversation to the chat-completions endpoint with
// retries on transient failures.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.Generation, error) {
	payload, err := c.buildRequest(req)
	if err != nil {
		return nil, &providerError{err: err}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &providerError{err: fmt.Errorf("failed to marshal request payload: %w", err)}
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	var parsed chatResponse
	operation := func() error {
		if err := waitLimiter(ctx, c.limiter); err != nil {
			return backoff.Permanent(err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("Network error during LLM request, retrying.", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		parsed = chatResponse{}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("provider returned no choices"))
		}

		c.logger.Info("LLM generation complete.",
			zap.String("provider", string(c.cfg.Provider)),
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
			zap.Int("completion_tokens", parsed.Usage.CompletionTokens))
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, &providerError{err: fmt.Errorf("%s generation failed: %w", c.cfg.Provider, err)}
	}

	return c.buildGeneration(parsed)
}

func (c *OpenAIClient) buildRequest(req schemas.GenerationRequest) (chatRequest, error) {
	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}

	for _, turn := range req.Turns {
		switch turn.Role {
		case schemas.RoleUser:
			messages = append(messages, chatMessage{Role: "user", Content: turn.Content})

		case schemas.RoleAgent:
			msg := chatMessage{Role: "assistant", Content: turn.Content}
			for _, call := range turn.ToolCalls {
				args, err := json.MarshalToString(call.Arguments)
				if err != nil {
					return chatRequest{}, fmt.Errorf("failed to encode arguments for %s: %w", call.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
					ID:       call.CallID,
					Type:     "function",
					Function: chatFunction{Name: call.Name, Arguments: args},
				})
			}
			messages = append(messages, msg)

		case schemas.RoleTool:
			for _, result := range turn.ToolResults {
				var content string
				if result.Ok() {
					encoded, err := json.MarshalToString(result.Value)
					if err != nil {
						return chatRequest{}, fmt.Errorf("failed to encode tool result: %w", err)
					}
					content = encoded
				} else {
					content = fmt.Sprintf(`{"error":%q}`, result.Err.Error())
				}
				messages = append(messages, chatMessage{
					Role:       "tool",
					ToolCallID: result.CallID,
					Content:    content,
				})
			}
		}
	}

	out := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if req.ForceJSON {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	} else {
		for _, tool := range req.Tools {
			out.Tools = append(out.Tools, chatTool{
				Type: "function",
				Function: chatToolSpec{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			})
		}
	}
	return out, nil
}

func (c *OpenAIClient) buildGeneration(resp chatResponse) (*schemas.Generation, error) {
	msg := resp.Choices[0].Message
	gen := &schemas.Generation{
		Text: msg.Content,
		Usage: schemas.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, call := range msg.ToolCalls {
		args, err := decodeArguments(call.Function.Arguments)
		if err != nil {
			return nil, &providerError{
				err: fmt.Errorf("unparseable arguments for %s: %w", call.Function.Name, err),
			}
		}
		id := call.ID
		if id == "" {
			id = uuid.New().String()
		}
		gen.ToolCalls = append(gen.ToolCalls, schemas.ToolCall{
			CallID:    id,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return gen, nil
}

// decodeArguments parses the function-call arguments string. Models
// occasionally emit near-JSON (trailing commas, single quotes); repair it
// before giving up.
func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.UnmarshalFromString(raw, &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, err
	}
	if err := json.UnmarshalFromString(repaired, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func (c *OpenAIClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Provider returned error status.",
		zap.Int("status", statusCode), zap.ByteString("response", body))
	err := fmt.Errorf("provider API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return err // Transient, retry.
	default:
		return backoff.Permanent(err)
	}
}
