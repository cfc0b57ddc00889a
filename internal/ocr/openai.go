package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/derivative"
)

type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(cfg config.OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.Token)}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client: &client,
		model:  cfg.Model,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// The strategy tiers map onto the mini and full chat models.
func (p *OpenAIProvider) chatModel(strategy Strategy) string {
	if strategy == StrategyPro {
		return openai.ChatModelGPT4_1
	}
	if p.model != "" {
		return p.model
	}
	return openai.ChatModelGPT4_1Mini
}

func (p *OpenAIProvider) DetectBibs(ctx context.Context, imageData []byte, strategy Strategy) ([]Detection, error) {
	const maxRetries = 3

	resized, err := derivative.Thumbnail(imageData, derivative.ThumbnailOptions{Width: geminiInputWidth, Quality: 85})
	if err != nil {
		return nil, fmt.Errorf("resize image for ocr: %w", err)
	}

	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized)

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(bibDetectionPrompt),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart("Find the race bib numbers in this photo."),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    imageURL,
							Detail: "low",
						}),
					},
				},
			},
		},
	}

	model := p.chatModel(strategy)
	var lastError error
	var lastResponse string

	for range maxRetries {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    model,
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			MaxTokens: openai.Int(500),
		})
		if err != nil {
			return nil, fmt.Errorf("openai API error: %w", err)
		}

		if len(resp.Choices) == 0 {
			return nil, errors.New("no response from openai")
		}

		content := resp.Choices[0].Message.Content
		lastResponse = content

		var parsed bibResponse
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			lastError = err

			messages = append(messages,
				openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content: openai.ChatCompletionAssistantMessageParamContentUnion{
							OfString: openai.String(content),
						},
					},
				},
				openai.ChatCompletionMessageParamUnion{
					OfUser: &openai.ChatCompletionUserMessageParam{
						Content: openai.ChatCompletionUserMessageParamContentUnion{
							OfString: openai.String(fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Remember to escape quotes inside strings with backslash.", err)),
						},
					},
				},
			)
			continue
		}

		return parsed.Bibs, nil
	}

	return nil, fmt.Errorf("failed to parse bib JSON after %d attempts: %w (last response: %s)", maxRetries, lastError, lastResponse)
}
