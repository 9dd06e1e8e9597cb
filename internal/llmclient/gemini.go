package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/config"
)

// GeminiClient implements schemas.LLMClient on top of the Gemini API,
// using native function calling for the tool surface.
type GeminiClient struct {
	client  *genai.Client
	cfg     config.LLMConfig
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client. The API key is required.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		cfg:     cfg,
		logger:  logger.Named("llm_client.gemini"),
		limiter: newLimiter(cfg.RequestsPerMinute),
	}, nil
}

// Generate sends the conversation and tool declarations to Gemini and maps
// the response back onto the provider-neutral Generation. Transient API
// failures retry under exponential backoff up to the configured cap.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.Generation, error) {
	contents := c.buildContents(req)
	genCfg := c.buildGenerateConfig(req)

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	var resp *genai.GenerateContentResponse
	operation := func() error {
		if err := waitLimiter(ctx, c.limiter); err != nil {
			return backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.APITimeout)
		defer cancel()

		start := time.Now()
		var err error
		resp, err = c.client.Models.GenerateContent(callCtx, c.cfg.Model, contents, genCfg)
		if err != nil {
			if isTransientAPIError(err) {
				c.logger.Warn("Transient Gemini error, retrying.", zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini returned no candidates"))
		}

		c.logger.Info("LLM generation complete (Gemini).",
			zap.Duration("duration", time.Since(start)),
			zap.String("model", c.cfg.Model))
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, &providerError{err: fmt.Errorf("gemini generation failed: %w", err)}
	}

	return c.buildGeneration(resp), nil
}

func (c *GeminiClient) buildContents(req schemas.GenerationRequest) []*genai.Content {
	var contents []*genai.Content
	// Tool results carry only the call ID; resolve names from the calls that
	// preceded them in the history.
	callNames := make(map[string]string)

	for _, turn := range req.Turns {
		switch turn.Role {
		case schemas.RoleUser:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))

		case schemas.RoleAgent:
			var parts []*genai.Part
			if turn.Content != "" {
				parts = append(parts, genai.NewPartFromText(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				callNames[call.CallID] = call.Name
				parts = append(parts, genai.NewPartFromFunctionCall(call.Name, call.Arguments))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case schemas.RoleTool:
			var parts []*genai.Part
			for _, result := range turn.ToolResults {
				name := callNames[result.CallID]
				response := map[string]any{}
				if result.Ok() {
					response = result.Value
				} else {
					response["error"] = result.Err.Error()
				}
				parts = append(parts, genai.NewPartFromFunctionResponse(name, response))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		}
	}
	return contents
}

func (c *GeminiClient) buildGenerateConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(c.cfg.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.ForceJSON {
		// JSON response mode and function calling are mutually exclusive.
		cfg.ResponseMIMEType = "application/json"
		return cfg
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
	}
	return cfg
}

func (c *GeminiClient) buildGeneration(resp *genai.GenerateContentResponse) *schemas.Generation {
	gen := &schemas.Generation{Text: resp.Text()}

	for _, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = uuid.New().String()
		}
		gen.ToolCalls = append(gen.ToolCalls, schemas.ToolCall{
			CallID:    id,
			Name:      fc.Name,
			Arguments: fc.Args,
		})
	}

	if um := resp.UsageMetadata; um != nil {
		gen.Usage = schemas.TokenUsage{
			PromptTokens:     int(um.PromptTokenCount),
			CompletionTokens: int(um.CandidatesTokenCount),
			TotalTokens:      int(um.TotalTokenCount),
		}
	}
	return gen
}

// toFunctionDeclarations converts the declarative tool schemas into the
// Gemini function-calling format.
func toFunctionDeclarations(tools []schemas.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGenaiSchema(tool.Parameters),
		})
	}
	return decls
}

func toGenaiSchema(p schemas.ParameterSchema) *genai.Schema {
	s := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(p.Properties)),
		Required:   p.Required,
	}
	for name, prop := range p.Properties {
		s.Properties[name] = toGenaiProperty(prop)
	}
	return s
}

func toGenaiProperty(p schemas.Property) *genai.Schema {
	s := &genai.Schema{Description: p.Description, Enum: p.Enum}
	switch p.Type {
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
		if p.Items != nil {
			s.Items = toGenaiProperty(*p.Items)
		}
	default:
		s.Type = genai.TypeObject
	}
	return s
}

// isTransientAPIError reports whether the Gemini failure is worth a retry:
// rate limiting and server-side errors are, everything else is permanent.
func isTransientAPIError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	// Network-level failures without an API status are treated as transient.
	return !errors.Is(err, context.Canceled)
}
