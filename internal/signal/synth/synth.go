// Package synth implements the second tier of the signal chain: asking the inference
// provider to estimate a signal when no live source answered.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/demandcast/internal/signal"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	"github.com/kiranshivaraju/demandcast/pkg/normalize"
	"github.com/kiranshivaraju/demandcast/pkg/prompt"
)

// Sampling keeps estimates close to the model's most likely values.
const (
	synthTemperature = 0.3
	synthTopP        = 0.9
)

// Provider synthesizes any signal kind through a models.AIProvider.
type Provider struct {
	ai  models.AIProvider
	now func() time.Time
}

// New returns nil when ai is nil, so the tier is skipped.
func New(ai models.AIProvider) *Provider {
	if ai == nil {
		return nil
	}
	return &Provider{ai: ai, now: time.Now}
}

func (p *Provider) Name() string { return p.ai.Name() }

func (p *Provider) Fetch(ctx context.Context, q signal.Query) (any, error) {
	text, err := prompt.BuildSignal(prompt.SignalInput{
		Kind: q.Kind,
		Location: prompt.Location{
			Name:      q.Region.Name,
			State:     q.Region.State,
			Country:   q.Region.Country,
			Latitude:  q.Region.Latitude,
			Longitude: q.Region.Longitude,
		},
		Sector: q.Sector,
		Date:   p.now(),
	})
	if err != nil {
		return nil, err
	}

	raw, err := p.ai.Infer(ctx, models.InferenceRequest{
		Prompt:      text,
		System:      prompt.System,
		Temperature: synthTemperature,
		TopP:        synthTopP,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	body, err := normalize.ExtractObject(raw)
	if err != nil {
		return nil, err
	}
	payload, err := models.NewPayload(q.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, payload); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", normalize.ErrResponseUnparsable, q.Kind, err)
	}
	return payload, nil
}

var _ signal.Provider = (*Provider)(nil)
