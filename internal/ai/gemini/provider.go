package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/demandcast/internal/ai"
	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	"google.golang.org/genai"
)

// Provider implements models.AIProvider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

func NewProvider(ctx context.Context, cfg config.GeminiConfig) (*Provider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

func (p *Provider) Name() string  { return "gemini" }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Infer(ctx context.Context, req models.InferenceRequest) (string, error) {
	gc := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(req.Temperature),
		CandidateCount: 1,
	}
	// A zero top_p would restrict sampling to the single most likely token.
	if req.TopP > 0 {
		gc.TopP = genai.Ptr(req.TopP)
	}
	if req.Seed != 0 {
		gc.Seed = genai.Ptr(int32(req.Seed))
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSONMode {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), gc)
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates in response", ai.ErrInferenceMalformed)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: candidate has no text", ai.ErrInferenceMalformed)
	}
	return b.String(), nil
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ai.StatusError(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return ai.StatusError(apiErrPtr.Code, apiErrPtr.Message)
	}
	return ai.ClassifyError(err)
}

var _ models.AIProvider = (*Provider)(nil)
