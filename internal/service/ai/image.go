package ai

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/internal/config"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoImage is returned when the service answers without any image.
var ErrNoImage = errors.New("image response contained no data")

// ImageGenerator requests single images from the OpenAI images endpoint.
type ImageGenerator struct {
	client openai.Client
	model  string
	size   string
}

// NewImageGenerator configures the SDK client. SDK-level retries are disabled;
// a failed generation is reported to the user as is.
func NewImageGenerator(provCfg config.ProviderConfig, size string) (*ImageGenerator, error) {
	if provCfg.APIKey == "" {
		return nil, errors.New("image provider: api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(provCfg.APIKey),
		option.WithMaxRetries(0),
	}
	if provCfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(provCfg.BaseURL))
	}
	return &ImageGenerator{
		client: openai.NewClient(opts...),
		model:  provCfg.ImageModel,
		size:   size,
	}, nil
}

// Generate asks for exactly one image and returns its URL.
func (g *ImageGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	params := openai.ImageGenerateParams{
		Prompt:         prompt,
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(g.size),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	}
	if g.model != "" {
		params.Model = openai.ImageModel(g.model)
	}

	resp, err := g.client.Images.Generate(ctx, params)
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrNoImage
	}
	return resp.Data[0].URL, nil
}
