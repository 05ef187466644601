// Package provider selects the stylization backend and holds the behavior
// shared by every backend: the fixed directive and analysis fallback.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/stylizer/internal/config"
	"github.com/kiranshivaraju/stylizer/internal/provider/openai"
	"github.com/kiranshivaraju/stylizer/internal/provider/replicate"
	"github.com/kiranshivaraju/stylizer/internal/provider/simulated"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

// StyleDirective is sent verbatim with every transformation request.
const StyleDirective = "Transform this image into Studio Ghibli art style. Keep the same composition and elements, " +
	"but apply the iconic Ghibli aesthetic with soft lighting, vibrant colors, hand-drawn quality, and dreamy atmosphere. " +
	"Match the style of Hayao Miyazaki's films like Spirited Away, Princess Mononoke, or My Neighbor Totoro."

const defaultAnalysisTimeout = 30 * time.Second

// New constructs the configured Transformer. Called once at server startup.
func New(cfg config.ProviderConfig, logger *slog.Logger) (models.Transformer, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	switch cfg.Name {
	case "simulated":
		return simulated.NewProvider(cfg.Simulated), nil
	case "replicate":
		return replicate.NewProvider(cfg.Replicate, client, logger.With("provider", "replicate")), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, client, logger.With("provider", "openai")), nil
	default:
		return nil, fmt.Errorf("unknown transform provider %q: must be one of simulated, replicate, openai", cfg.Name)
	}
}

// FallbackAnalysis is returned whenever a backend cannot describe a result.
func FallbackAnalysis() models.Analysis {
	return models.Analysis{
		Description: "Transformed with Ghibli's dreamy, hand-painted style",
		StyleNotes: []string{
			"Colors adjusted to match Ghibli's vibrant palette",
			"Hand-drawn style lines and textures applied",
			"Lighting enhanced for that dreamy Ghibli atmosphere",
			"Original image composition preserved",
		},
	}
}

// AnalyzeOrFallback never fails. Errors are logged and replaced by the
// fallback; missing fields are filled from it.
func AnalyzeOrFallback(ctx context.Context, t models.Transformer, resultPath string, timeout time.Duration, logger *slog.Logger) models.Analysis {
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fallback := FallbackAnalysis()

	a, err := analyze(ctx, t, resultPath)
	if err != nil {
		logger.Warn("analysis failed, using fallback", "provider", t.Name(), "path", resultPath, "error", err)
		return fallback
	}

	if a.Description == "" {
		a.Description = fallback.Description
	}
	if len(a.StyleNotes) == 0 {
		a.StyleNotes = fallback.StyleNotes
	}
	return a
}

func analyze(ctx context.Context, t models.Transformer, resultPath string) (a models.Analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panic: %v", r)
		}
	}()
	return t.Analyze(ctx, resultPath)
}
