// Package openai implements models.AIProvider for any OpenAI-compatible chat
// completions endpoint (OpenAI itself, vLLM, Ollama).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/demandcast/internal/ai"
	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// Provider implements models.AIProvider using the chat completions API.
type Provider struct {
	name       string
	model      string
	client     *goopenai.Client
	httpClient *http.Client
	// seed is forwarded only by servers that accept it.
	seed bool
}

// Option adjusts a Provider.
type Option func(*Provider)

// WithName sets the provider identifier reported by Name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithoutSeed drops the seed parameter from requests.
func WithoutSeed() Option {
	return func(p *Provider) { p.seed = false }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

func NewProvider(cfg config.OpenAIConfig, opts ...Option) *Provider {
	p := &Provider{name: "openai", model: cfg.Model, seed: true}
	for _, opt := range opts {
		opt(p)
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if p.httpClient != nil {
		clientCfg.HTTPClient = p.httpClient
	}
	p.client = goopenai.NewClientWithConfig(clientCfg)
	return p
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Infer(ctx context.Context, req models.InferenceRequest) (string, error) {
	var messages []goopenai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := goopenai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      false,
	}
	if p.seed && req.Seed != 0 {
		seed := req.Seed
		chatReq.Seed = &seed
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ai.ErrInferenceMalformed)
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: first choice has no content", ai.ErrInferenceMalformed)
	}
	return content, nil
}

// classifyError maps go-openai errors to the inference sentinels.
func classifyError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return ai.StatusError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return ai.StatusError(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return ai.ClassifyError(err)
}

var _ models.AIProvider = (*Provider)(nil)
