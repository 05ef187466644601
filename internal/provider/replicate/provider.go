// Package replicate drives the Replicate predictions API: create a
// prediction, poll it, then download the first output.
package replicate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/kiranshivaraju/stylizer/internal/config"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

// Tuning sent with every prediction.
const (
	guidanceScale     = 7.5
	promptStrength    = 0.8
	numInferenceSteps = 50
)

const maxErrorBody = 4 << 10

// Provider implements models.Transformer against Replicate.
type Provider struct {
	cfg    config.ReplicateConfig
	client *http.Client
	log    *slog.Logger
}

func NewProvider(cfg config.ReplicateConfig, client *http.Client, logger *slog.Logger) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, client: client, log: logger}
}

func (p *Provider) Name() string { return "replicate" }

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	Image             string  `json:"image"`
	NumOutputs        int     `json:"num_outputs"`
	GuidanceScale     float64 `json:"guidance_scale"`
	PromptStrength    float64 `json:"prompt_strength"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

type createPredictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

func (p *Provider) Submit(ctx context.Context, inputPath, directive string) (models.Handle, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: read input: %v", models.ErrProviderRejected, err)
	}

	body := createPredictionRequest{
		Version: p.cfg.ModelVersion,
		Input: predictionInput{
			Prompt:            directive,
			Image:             dataURI(data),
			NumOutputs:        1,
			GuidanceScale:     guidanceScale,
			PromptStrength:    promptStrength,
			NumInferenceSteps: numInferenceSteps,
		},
	}

	var pred prediction
	if err := p.do(ctx, http.MethodPost, p.endpoint("predictions"), body, &pred); err != nil {
		return "", err
	}
	if pred.ID == "" {
		return "", fmt.Errorf("%w: prediction has no id", models.ErrInvalidResponse)
	}

	p.log.Debug("replicate prediction created", "prediction_id", pred.ID, "status", pred.Status)
	return models.Handle(pred.ID), nil
}

func (p *Provider) Poll(ctx context.Context, h models.Handle) (models.PollResult, error) {
	var pred prediction
	if err := p.do(ctx, http.MethodGet, p.endpoint("predictions/"+string(h)), nil, &pred); err != nil {
		return models.PollResult{}, err
	}

	switch pred.Status {
	case "succeeded":
		ref, err := firstOutput(pred.Output)
		if err != nil {
			return models.PollResult{}, err
		}
		return models.PollResult{State: models.PollCompleted, ResultRef: ref}, nil
	case "failed", "canceled":
		reason := errorText(pred.Error)
		if reason == "" {
			reason = "Transformation failed"
		}
		return models.PollResult{State: models.PollFailed, Reason: reason}, nil
	case "processing":
		return pending(0.5), nil
	default:
		return pending(0.1), nil
	}
}

// Fetch downloads the prediction output URL to outputPath.
func (p *Provider) Fetch(ctx context.Context, resultRef, outputPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultRef, nil)
	if err != nil {
		return "", fmt.Errorf("%w: bad output url: %v", models.ErrInvalidResponse, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download output: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: download output: status %d", models.ErrProviderUnavailable, resp.StatusCode)
	}
	if err := artifact.WriteAtomic(outputPath, resp.Body); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Analyze returns fixed commentary; Replicate offers no analysis endpoint.
func (p *Provider) Analyze(_ context.Context, _ string) (models.Analysis, error) {
	return models.PresetAnalysis(), nil
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/" + path
}

func (p *Provider) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", models.ErrInvalidResponse, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil {
		if apiErr.Detail != "" {
			msg = apiErr.Detail
		} else if apiErr.Error != "" {
			msg = apiErr.Error
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrUnknownHandle, msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", models.ErrProviderUnavailable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", models.ErrProviderRejected, resp.StatusCode, msg)
	}
}

// firstOutput accepts both the list and the single-string output shapes.
func firstOutput(raw json.RawMessage) (string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 && list[0] != "" {
			return list[0], nil
		}
		return "", fmt.Errorf("%w: empty output", models.ErrInvalidResponse)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	return "", fmt.Errorf("%w: unexpected output %s", models.ErrInvalidResponse, string(raw))
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func dataURI(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func pending(progress float64) models.PollResult {
	return models.PollResult{State: models.PollPending, Progress: &progress}
}

var _ models.Transformer = (*Provider)(nil)
