// Package openai stylizes through the OpenAI images edit endpoint and
// describes results with a vision chat completion.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/kiranshivaraju/stylizer/internal/config"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

const (
	imageSize    = "1024x1024"
	maxTokens    = 500
	maxErrorBody = 4 << 10
	// resultTTL bounds how long an unfetched image is held.
	resultTTL = 30 * time.Minute
)

const analysisSystemPrompt = "You are an art expert specializing in Studio Ghibli's style. " +
	"Analyze this Ghibli-style image and provide: 1) A brief description (max 30 words) " +
	"2) Four specific style elements applied (e.g., 'Colors adjusted to match Ghibli's vibrant palette'). " +
	"Format as JSON with 'description' and 'styleNotes' array fields."

const analysisUserPrompt = "Analyze this Ghibli-style image and provide the requested information."

// Provider implements models.Transformer using OpenAI. The edit call is
// synchronous, so Submit does the work and keeps the bytes until Fetch.
type Provider struct {
	cfg    config.OpenAIConfig
	client *http.Client
	log    *slog.Logger

	now     func() time.Time
	mu      sync.Mutex
	results map[models.Handle]heldResult
}

type heldResult struct {
	data    []byte
	expires time.Time
}

func NewProvider(cfg config.OpenAIConfig, client *http.Client, logger *slog.Logger) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:     cfg,
		client:  client,
		log:     logger,
		now:     time.Now,
		results: make(map[models.Handle]heldResult),
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Submit(ctx context.Context, inputPath, directive string) (models.Handle, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: read input: %v", models.ErrProviderRejected, err)
	}

	body, contentType, err := p.editForm(inputPath, data, directive)
	if err != nil {
		return "", err
	}

	start := time.Now()
	raw, err := p.send(ctx, p.endpoint("images/edits"), contentType, body)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: decode images response: %v", models.ErrInvalidResponse, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", fmt.Errorf("%w: no image data in response", models.ErrInvalidResponse)
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %v", models.ErrInvalidResponse, err)
	}

	h := models.Handle(uuid.NewString())
	now := p.now()
	p.mu.Lock()
	for old, r := range p.results {
		if now.After(r.expires) {
			delete(p.results, old)
		}
	}
	p.results[h] = heldResult{data: img, expires: now.Add(resultTTL)}
	p.mu.Unlock()

	p.log.Debug("openai image edit done", "handle", h, "bytes", len(img),
		"elapsed_ms", time.Since(start).Milliseconds())
	return h, nil
}

// Poll is always terminal for a known handle.
func (p *Provider) Poll(_ context.Context, h models.Handle) (models.PollResult, error) {
	p.mu.Lock()
	r, ok := p.results[h]
	p.mu.Unlock()
	if !ok || p.now().After(r.expires) {
		return models.PollResult{}, fmt.Errorf("%w: %s", models.ErrUnknownHandle, h)
	}
	return models.PollResult{State: models.PollCompleted, ResultRef: string(h)}, nil
}

// Fetch writes the held image. The image is released even when the write
// fails; a handle is good for one Fetch.
func (p *Provider) Fetch(_ context.Context, resultRef, outputPath string) (string, error) {
	h := models.Handle(resultRef)
	p.mu.Lock()
	r, ok := p.results[h]
	delete(p.results, h)
	p.mu.Unlock()
	if !ok || p.now().After(r.expires) {
		return "", fmt.Errorf("%w: %s", models.ErrUnknownHandle, resultRef)
	}

	if err := artifact.WriteAtomic(outputPath, bytes.NewReader(r.data)); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Analyze asks the vision model for a description and style notes. Fields the
// model leaves out are returned empty; callers fill them.
func (p *Provider) Analyze(ctx context.Context, resultPath string) (models.Analysis, error) {
	data, err := os.ReadFile(resultPath)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("read result: %w", err)
	}

	body := map[string]any{
		"model":           p.cfg.VisionModel,
		"max_tokens":      maxTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": analysisSystemPrompt},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": analysisUserPrompt},
				{"type": "image_url", "image_url": map[string]any{
					"url": "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data),
				}},
			}},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := p.send(ctx, p.endpoint("chat/completions"), "application/json", b)
	if err != nil {
		return models.Analysis{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return models.Analysis{}, fmt.Errorf("%w: decode chat response: %v", models.ErrInvalidResponse, err)
	}
	if len(cc.Choices) == 0 {
		return models.Analysis{}, fmt.Errorf("%w: no choices in response", models.ErrInvalidResponse)
	}

	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))
	if err := validateAnalysis(content); err != nil {
		p.log.Warn("openai analysis failed schema validation", "error", err, "content", string(content))
		return models.Analysis{}, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}

	var out models.Analysis
	if err := json.Unmarshal(content, &out); err != nil {
		return models.Analysis{}, fmt.Errorf("%w: unmarshal analysis: %v", models.ErrInvalidResponse, err)
	}
	return out, nil
}

func (p *Provider) editForm(inputPath string, data []byte, directive string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"model", p.cfg.ImageModel},
		{"prompt", directive},
		{"n", "1"},
		{"size", imageSize},
	}
	// gpt-image models always answer with b64_json and reject the parameter.
	if strings.HasPrefix(p.cfg.ImageModel, "dall-e") {
		fields = append(fields, [2]string{"response_format", "b64_json"})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", f[0], err)
		}
	}

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(inputPath)))
	hdr.Set("Content-Type", http.DetectContentType(data))
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/" + path
}

func (p *Provider) send(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			p.log.Warn("openai response body close error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := apiErrorMessage(raw)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d: %s", models.ErrProviderUnavailable, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrProviderRejected, resp.StatusCode, msg)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", models.ErrProviderUnavailable, err)
	}
	return raw, nil
}

func apiErrorMessage(raw []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

var _ models.Transformer = (*Provider)(nil)
