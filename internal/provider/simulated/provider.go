// Package simulated is an offline Transformer. It reports success after a
// configurable delay and returns the input image unchanged.
package simulated

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/kiranshivaraju/stylizer/internal/config"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

type submission struct {
	input   string
	started time.Time
}

// Provider implements models.Transformer without any external calls.
type Provider struct {
	delay time.Duration
	now   func() time.Time

	mu   sync.Mutex
	jobs map[models.Handle]submission
}

func NewProvider(cfg config.SimulatedConfig) *Provider {
	return &Provider{
		delay: cfg.Delay,
		now:   time.Now,
		jobs:  make(map[models.Handle]submission),
	}
}

func (p *Provider) Name() string { return "simulated" }

func (p *Provider) Submit(_ context.Context, inputPath, _ string) (models.Handle, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: open input: %v", models.ErrProviderRejected, err)
	}
	_ = f.Close()

	h := models.Handle(uuid.NewString())
	p.mu.Lock()
	p.jobs[h] = submission{input: inputPath, started: p.now()}
	p.mu.Unlock()
	return h, nil
}

func (p *Provider) Poll(_ context.Context, h models.Handle) (models.PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.jobs[h]
	if !ok {
		return models.PollResult{}, fmt.Errorf("%w: %s", models.ErrUnknownHandle, h)
	}

	elapsed := p.now().Sub(sub.started)
	if elapsed < p.delay {
		progress := float64(elapsed) / float64(p.delay)
		return models.PollResult{State: models.PollPending, Progress: &progress}, nil
	}

	delete(p.jobs, h)
	return models.PollResult{State: models.PollCompleted, ResultRef: sub.input}, nil
}

// Fetch copies the result, which is the original input, to outputPath.
func (p *Provider) Fetch(_ context.Context, resultRef, outputPath string) (string, error) {
	in, err := os.Open(resultRef)
	if err != nil {
		return "", fmt.Errorf("open result: %w", err)
	}
	defer in.Close()

	if err := artifact.WriteAtomic(outputPath, in); err != nil {
		return "", err
	}
	return outputPath, nil
}

func (p *Provider) Analyze(_ context.Context, _ string) (models.Analysis, error) {
	return models.PresetAnalysis(), nil
}

var _ models.Transformer = (*Provider)(nil)
