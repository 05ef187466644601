package mock

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

// MockProvider satisfies models.Transformer for testing.
type MockProvider struct {
	Name_       string
	SubmitFunc  func(ctx context.Context, inputPath, directive string) (models.Handle, error)
	PollFunc    func(ctx context.Context, h models.Handle) (models.PollResult, error)
	FetchFunc   func(ctx context.Context, resultRef, outputPath string) (string, error)
	AnalyzeFunc func(ctx context.Context, resultPath string) (models.Analysis, error)

	SubmitCalls  atomic.Int32
	PollCalls    atomic.Int32
	FetchCalls   atomic.Int32
	AnalyzeCalls atomic.Int32
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Submit(ctx context.Context, inputPath, directive string) (models.Handle, error) {
	m.SubmitCalls.Add(1)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, inputPath, directive)
	}
	return "mock-handle", nil
}

func (m *MockProvider) Poll(ctx context.Context, h models.Handle) (models.PollResult, error) {
	m.PollCalls.Add(1)
	if m.PollFunc != nil {
		return m.PollFunc(ctx, h)
	}
	return models.PollResult{State: models.PollCompleted, ResultRef: string(h)}, nil
}

func (m *MockProvider) Fetch(ctx context.Context, resultRef, outputPath string) (string, error) {
	m.FetchCalls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, resultRef, outputPath)
	}
	return outputPath, nil
}

func (m *MockProvider) Analyze(ctx context.Context, resultPath string) (models.Analysis, error) {
	m.AnalyzeCalls.Add(1)
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, resultPath)
	}
	return models.Analysis{}, nil
}

// NewMockProvider returns a MockProvider that completes on the first poll
// and writes a small placeholder file on Fetch.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		SubmitFunc: func(_ context.Context, _, _ string) (models.Handle, error) {
			return "mock-handle", nil
		},
		PollFunc: func(_ context.Context, h models.Handle) (models.PollResult, error) {
			return models.PollResult{State: models.PollCompleted, ResultRef: string(h)}, nil
		},
		FetchFunc: func(_ context.Context, _, outputPath string) (string, error) {
			if err := artifact.WriteAtomic(outputPath, bytes.NewReader([]byte("mock result"))); err != nil {
				return "", err
			}
			return outputPath, nil
		},
		AnalyzeFunc: func(_ context.Context, _ string) (models.Analysis, error) {
			return models.Analysis{
				Description: "Mock analysis for testing",
				StyleNotes:  []string{"mock note"},
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider whose Submit and Analyze always fail with err.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		SubmitFunc: func(_ context.Context, _, _ string) (models.Handle, error) {
			return "", err
		},
		AnalyzeFunc: func(_ context.Context, _ string) (models.Analysis, error) {
			return models.Analysis{}, err
		},
	}
}

// NewPendingProvider returns a MockProvider that never leaves pending.
func NewPendingProvider() *MockProvider {
	m := NewMockProvider()
	m.Name_ = "mock-pending"
	m.PollFunc = func(_ context.Context, _ models.Handle) (models.PollResult, error) {
		progress := 0.1
		return models.PollResult{State: models.PollPending, Progress: &progress}, nil
	}
	return m
}

// Compile-time check that MockProvider implements Transformer.
var _ models.Transformer = (*MockProvider)(nil)
