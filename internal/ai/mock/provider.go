package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/demandcast/internal/ai"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// DefaultResponse is the text returned by NewMockProvider: three well-formed predictions
// wrapped in prose, the way chat models commonly answer.
const DefaultResponse = "Here is the forecast:\n```json\n[" +
	`{"itemName":"Urea","category":"Fertilizers","subcategory":"Nitrogenous","currentDemand":1000,"predictedDemand":1250,"demandChangePercentage":25,"demandTrend":"increase","confidence":0.82,"peakPeriod":"Week 2","reasoning":"Rabi sowing begins.","marketFactors":["sowing season"],"recommendations":["Increase stock"],"riskLevel":"Low"},` +
	`{"itemName":"Mustard seed","category":"Seeds","subcategory":"Oilseeds","currentDemand":400,"predictedDemand":420,"demandChangePercentage":5,"demandTrend":"increase","confidence":0.74,"peakPeriod":"Week 1","reasoning":"Stable acreage.","marketFactors":["MSP"],"recommendations":["Maintain stock"],"riskLevel":"Low"},` +
	`{"itemName":"Drip irrigation kit","category":"Irrigation","subcategory":"Micro irrigation","currentDemand":120,"predictedDemand":100,"demandChangePercentage":-16.67,"demandTrend":"decrease","confidence":0.68,"peakPeriod":"Week 4","reasoning":"Post-monsoon soil moisture.","marketFactors":["rainfall"],"recommendations":["Delay orders"],"riskLevel":"High"}` +
	"]\n```\nLet me know if you need anything else."

// MockProvider satisfies models.AIProvider for testing.
type MockProvider struct {
	Name_     string
	Model_    string
	InferFunc func(ctx context.Context, req models.InferenceRequest) (string, error)

	mu       sync.Mutex
	requests []models.InferenceRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Model() string { return m.Model_ }

func (m *MockProvider) Infer(ctx context.Context, req models.InferenceRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.InferFunc != nil {
		return m.InferFunc(ctx, req)
	}
	return "", nil
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []models.InferenceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.InferenceRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of Infer calls received so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// NewMockProvider returns a MockProvider answering with DefaultResponse.
func NewMockProvider() *MockProvider {
	return NewResponder(DefaultResponse)
}

// NewResponder returns a MockProvider that always answers with text.
func NewResponder(text string) *MockProvider {
	return &MockProvider{
		Name_:  "mock",
		Model_: "mock-v1",
		InferFunc: func(_ context.Context, _ models.InferenceRequest) (string, error) {
			return text, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_:  "mock-failing",
		Model_: "mock-v1",
		InferFunc: func(_ context.Context, _ models.InferenceRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock-timeout",
		Model_: "mock-v1",
		InferFunc: func(ctx context.Context, _ models.InferenceRequest) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
