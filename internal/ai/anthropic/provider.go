package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/demandcast/internal/ai"
	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

const defaultMaxTokens = 8192

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Provider{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.model }

// Infer sends a single user message. Only temperature is set as a sampling parameter,
// since current Claude models reject requests that set both temperature and top_p.
// The Messages API has no seed parameter.
func (p *Provider) Infer(ctx context.Context, req models.InferenceRequest) (string, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: sdk.Float(float64(req.Temperature)),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", ai.StatusError(apiErr.StatusCode, apiErr.Error())
		}
		return "", ai.ClassifyError(err)
	}

	var b strings.Builder
	found := false
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("%w: no text content in message", ai.ErrInferenceMalformed)
	}
	return b.String(), nil
}

var _ models.AIProvider = (*Provider)(nil)
