package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ImagineClient generates a reference image from a prompt, returned as PNG
// bytes.
type ImagineClient interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// OpenAIImagineClient calls the Images API.
type OpenAIImagineClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIImagineClient builds a client. Model defaults to dall-e-3.
func NewOpenAIImagineClient(apiKey, model string) *OpenAIImagineClient {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAIImagineClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Generate requests one 1024x1024 image and decodes the base64 payload.
func (c *OpenAIImagineClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image generation returned no data")
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}
	return img, nil
}

var referenceNamePattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// saveReference writes an imagine result into the references directory and
// returns the file name used.
func saveReference(dir, name string, img []byte) (string, error) {
	base := referenceNamePattern.ReplaceAllString(name, "_")
	if base == "" || base == "_" {
		base = fmt.Sprintf("reference_%d", time.Now().Unix())
	}
	file := base + ".png"
	if err := os.WriteFile(filepath.Join(dir, file), img, 0o644); err != nil {
		return file, fmt.Errorf("saving reference image: %w", err)
	}
	return file, nil
}
