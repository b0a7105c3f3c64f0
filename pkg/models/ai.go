// Package models contains shared data models used across the demandcast codebase.
package models

import "context"

// AIProvider is the core interface that all generative-model integrations must implement.
// Never call specific providers directly; always inject this interface.
type AIProvider interface {
	// Infer sends one prompt and returns the raw generated text of the first choice.
	Infer(ctx context.Context, req InferenceRequest) (string, error)
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string
	// Model returns the model or deployment name used for inference.
	Model() string
}

// InferenceRequest is the input to a single inference call. Streaming is never used.
type InferenceRequest struct {
	Prompt      string
	System      string
	Temperature float32
	TopP        float32
	Seed        int
	// JSONMode asks the provider for a JSON-only response when it supports one.
	JSONMode bool
}
