package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// TimedProvider bounds every inference call with a timeout and logs its outcome.
// Errors returned by the wrapped provider are classified onto the ai sentinels.
type TimedProvider struct {
	next    models.AIProvider
	timeout time.Duration
}

// WithTimeout wraps p. A zero timeout leaves calls bounded only by the caller's context.
func WithTimeout(p models.AIProvider, timeout time.Duration) *TimedProvider {
	return &TimedProvider{next: p, timeout: timeout}
}

func (t *TimedProvider) Name() string  { return t.next.Name() }
func (t *TimedProvider) Model() string { return t.next.Model() }

func (t *TimedProvider) Infer(ctx context.Context, req models.InferenceRequest) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := t.next.Infer(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		err = ClassifyError(err)
		slog.Warn("inference failed",
			"provider", t.next.Name(),
			"model", t.next.Model(),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return "", err
	}

	slog.Info("inference completed",
		"provider", t.next.Name(),
		"model", t.next.Model(),
		"prompt_bytes", len(req.Prompt),
		"response_bytes", len(text),
		"duration_ms", elapsed.Milliseconds(),
	)
	return text, nil
}

var _ models.AIProvider = (*TimedProvider)(nil)
