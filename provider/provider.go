package provider

import (
	"context"
	"errors"
	"fmt"

	"neopilot/client/ollama"
	"neopilot/client/openai"
	"neopilot/engine"
	"neopilot/logger"
	"neopilot/tokens"
	"neopilot/types"
)

// Compile-time check that Provider implements engine.Provider
var _ engine.Provider = (*Provider)(nil)

// Client streams one chat exchange (enables mocking in tests)
type Client interface {
	StreamChat(ctx context.Context, messages []types.Message, onDelta func(string)) (string, error)
}

// Context carries data through the completion pipeline
type Context struct {
	Request     *types.SuggestionRequest
	Lines       []string // document lines sent to the model
	WindowStart int      // 0-indexed row of Lines[0] in the document
	CursorLine  int      // 1-indexed cursor row within Lines
	Messages    []types.Message
	Result      string
}

// Provider implements engine.Provider with a configurable pipeline
type Provider struct {
	Name           string
	Config         *types.ProviderConfig
	Client         Client
	Counter        tokens.Counter
	Preprocessors  []Preprocessor
	PromptBuilder  PromptBuilder
	Postprocessors []Postprocessor
}

// NewProvider creates the pipeline for a backend
func NewProvider(kind types.ProviderType, config *types.ProviderConfig, counter tokens.Counter) (*Provider, error) {
	if counter == nil {
		counter = tokens.Estimator{}
	}

	var client Client
	switch kind {
	case types.ProviderTypeOpenAI:
		c := openai.NewClient(config.ProviderURL, config.APIKey)
		c.Compress = config.CompressRequests
		client = &openaiClient{client: c, config: config}
	case types.ProviderTypeOllama:
		client = &ollamaClient{client: ollama.NewClient(config.ProviderURL), config: config}
	default:
		return nil, fmt.Errorf("unknown provider type: %s", kind)
	}

	return &Provider{
		Name:    string(kind),
		Config:  config,
		Client:  client,
		Counter: counter,
		Preprocessors: []Preprocessor{
			RequireContext(),
			FitTokenBudget(),
		},
		PromptBuilder: ChatPrompt(),
		Postprocessors: []Postprocessor{
			RejectEmpty(),
		},
	}, nil
}

// StreamCompletion implements engine.Provider. It blocks until the exchange ends and
// reports through exactly one of handler.OnFinish or handler.OnError.
func (p *Provider) StreamCompletion(ctx context.Context, req *types.SuggestionRequest, handler types.StreamHandler) {
	defer logger.Trace(p.Name + ".StreamCompletion")()
	pctx := &Context{Request: req}

	for _, pre := range p.Preprocessors {
		if err := pre(p, pctx); err != nil {
			if errors.Is(err, ErrSkipCompletion) {
				finish(handler, "")
				return
			}
			fail(handler, fmt.Errorf("%s: %w", p.Name, err))
			return
		}
	}

	messages, err := p.PromptBuilder(p, pctx)
	if err != nil {
		fail(handler, fmt.Errorf("%s: %w", p.Name, err))
		return
	}
	pctx.Messages = messages
	p.logRequest(pctx)

	text, err := p.Client.StreamChat(ctx, pctx.Messages, handler.OnChunk)
	if err != nil {
		if ctx.Err() != nil {
			fail(handler, ctx.Err())
			return
		}
		fail(handler, types.WrapError(types.KindProviderConnection, p.Name, err))
		return
	}
	pctx.Result = text
	p.logResponse(pctx)

	for _, post := range p.Postprocessors {
		if err := post(p, pctx); err != nil {
			if errors.Is(err, ErrSkipCompletion) {
				finish(handler, "")
				return
			}
			fail(handler, fmt.Errorf("%s: %w", p.Name, err))
			return
		}
	}

	finish(handler, pctx.Result)
}

func finish(handler types.StreamHandler, text string) {
	if handler.OnFinish != nil {
		handler.OnFinish(text)
	}
}

func fail(handler types.StreamHandler, err error) {
	if handler.OnError != nil {
		handler.OnError(err)
	}
}

func (p *Provider) logRequest(ctx *Context) {
	size := 0
	for _, m := range ctx.Messages {
		size += len(m.Content)
	}
	logger.Debug("%s provider request:\n  URL: %s\n  Model: %s\n  Temperature: %.2f\n  MaxTokens: %d\n  Window: %d lines from row %d\n  Prompt length: %d chars",
		p.Name,
		p.Config.ProviderURL,
		p.Config.ProviderModel,
		p.Config.ProviderTemperature,
		p.Config.ProviderMaxTokens,
		len(ctx.Lines),
		ctx.WindowStart+1,
		size)
}

func (p *Provider) logResponse(ctx *Context) {
	logger.Debug("%s provider response:\n  Text length: %d chars\n  Text: %q",
		p.Name,
		len(ctx.Result),
		ctx.Result)
}

// openaiClient adapts the OpenAI chat client to Client
type openaiClient struct {
	client *openai.Client
	config *types.ProviderConfig
}

func (c *openaiClient) StreamChat(ctx context.Context, messages []types.Message, onDelta func(string)) (string, error) {
	res, err := c.client.DoStreamingChat(ctx, &openai.ChatRequest{
		Model:       c.config.ProviderModel,
		Messages:    messages,
		Temperature: c.config.ProviderTemperature,
		MaxTokens:   c.config.ProviderMaxTokens,
	}, onDelta)
	if err != nil {
		return "", err
	}
	if res.FinishReason == "length" {
		logger.Debug("openai: response hit max_tokens")
	}
	return res.Text, nil
}

// ollamaClient adapts the Ollama chat client to Client
type ollamaClient struct {
	client *ollama.Client
	config *types.ProviderConfig
}

func (c *ollamaClient) StreamChat(ctx context.Context, messages []types.Message, onDelta func(string)) (string, error) {
	res, err := c.client.DoStreamingChat(ctx, &ollama.ChatRequest{
		Model:    c.config.ProviderModel,
		Messages: messages,
		Options: map[string]any{
			"temperature": c.config.ProviderTemperature,
			"num_predict": c.config.ProviderMaxTokens,
		},
	}, onDelta)
	if err != nil {
		return "", err
	}
	if res.DoneReason == "length" {
		logger.Debug("ollama: response hit num_predict")
	}
	return res.Text, nil
}
