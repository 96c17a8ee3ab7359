package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/harshtiwari/haral/internal/log"
)

const (
	imageCallTimeout = 60 * time.Second
	imageAspectRatio = "16:9"
)

// ImageProvider generates one image for a prompt and returns raw bytes
// plus the MIME type.
type ImageProvider interface {
	Generate(ctx context.Context, prompt string) ([]byte, string, error)
}

// ImageGenerator wraps an ImageProvider with the string-result tool
// contract: a markdown image on success, an "Error: ..." line on
// failure.
type ImageGenerator struct {
	provider ImageProvider
	logger   log.Logger
}

// NewImageGenerator creates an ImageGenerator.
func NewImageGenerator(provider ImageProvider, logger log.Logger) *ImageGenerator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &ImageGenerator{provider: provider, logger: logger}
}

// Generate renders the prompt as a markdown data-URI image. The result
// is embedded directly into the answer stream, so failures are reported
// inline rather than as errors.
func (ig *ImageGenerator) Generate(ctx context.Context, prompt string) string {
	ctx, cancel := context.WithTimeout(ctx, imageCallTimeout)
	defer cancel()

	data, mimeType, err := ig.provider.Generate(ctx, prompt)
	if err != nil {
		ig.logger.Warn("image generation failed", "error", err)
		return fmt.Sprintf("Error: Image generation failed. %v", err)
	}
	if len(data) == 0 {
		return "Error: Image generation failed. No image data received from API."
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	return fmt.Sprintf("![Generated Image](data:%s;base64,%s)", mimeType, encoded)
}

// ImagenProvider implements ImageProvider on the Imagen family of
// models.
type ImagenProvider struct {
	client *genai.Client
	model  string
}

// NewImagenProvider creates a provider bound to one image model.
func NewImagenProvider(client *genai.Client, model string) *ImagenProvider {
	return &ImagenProvider{client: client, model: model}
}

// Generate requests a single widescreen image.
func (p *ImagenProvider) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	resp, err := p.client.Models.GenerateImages(ctx, p.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    imageAspectRatio,
	})
	if err != nil {
		return nil, "", fmt.Errorf("calling %s: %w", p.model, err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, "", fmt.Errorf("%s returned no images", p.model)
	}

	img := resp.GeneratedImages[0].Image
	return img.ImageBytes, img.MIMEType, nil
}
