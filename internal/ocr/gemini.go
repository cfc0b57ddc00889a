package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/derivative"
)

// Model input is capped at this width to keep token costs flat.
const geminiInputWidth = 800

type GeminiProvider struct {
	client     *genai.Client
	flashModel string
	proModel   string
	timeout    time.Duration
}

// attemptContext bounds one model call so a hung provider cannot hold a
// worker until the queue redelivers the message.
func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func NewGeminiProvider(ctx context.Context, cfg config.GeminiConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:     client,
		flashModel: cfg.FlashModel,
		proModel:   cfg.ProModel,
		timeout:    cfg.Timeout,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) model(strategy Strategy) string {
	if strategy == StrategyPro {
		return p.proModel
	}
	return p.flashModel
}

func (p *GeminiProvider) DetectBibs(ctx context.Context, imageData []byte, strategy Strategy) ([]Detection, error) {
	const maxRetries = 3

	resized, err := derivative.Thumbnail(imageData, derivative.ThumbnailOptions{Width: geminiInputWidth, Quality: 85})
	if err != nil {
		return nil, fmt.Errorf("resize image for ocr: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: bibDetectionPrompt},
				{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}},
			},
		},
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	model := p.model(strategy)
	var lastError error
	var lastResponse string

	for range maxRetries {
		attemptCtx, cancel := attemptContext(ctx, p.timeout)
		result, err := p.client.Models.GenerateContent(attemptCtx, model, contents, cfg)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}

		content := result.Text()
		if content == "" {
			return nil, errors.New("no response from gemini")
		}
		lastResponse = content

		var resp bibResponse
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			lastError = err

			// Feed the broken output back so the model can correct it.
			contents = append(contents,
				&genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: content}},
				},
				&genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Remember to escape quotes inside strings with backslash.", err)}},
				},
			)
			continue
		}

		return resp.Bibs, nil
	}

	return nil, fmt.Errorf("failed to parse bib JSON after %d attempts: %w (last response: %s)", maxRetries, lastError, lastResponse)
}
