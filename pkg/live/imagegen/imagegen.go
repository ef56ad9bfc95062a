// Package imagegen generates images for the generateImage tool with the
// Gemini API.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-canvas/pkg/core/media"
	"github.com/vango-go/vai-canvas/pkg/live/tools"
)

// DefaultModel answers with interleaved text and image parts.
const DefaultModel = "gemini-2.5-flash-image"

// ErrNoImage is returned when the model answered without image data.
var ErrNoImage = errors.New("imagegen: response contained no image")

// Backend is the subset of the genai models service used here.
type Backend interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// Generator implements tools.ImageGenerator.
type Generator struct {
	backend Backend
	model   string
	logger  *slog.Logger
}

var _ tools.ImageGenerator = (*Generator)(nil)

type Option func(*Generator)

func WithModel(model string) Option {
	return func(g *Generator) {
		if m := strings.TrimSpace(model); m != "" {
			g.model = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New wraps a backend, usually the Models service of a genai client.
func New(backend Backend, opts ...Option) *Generator {
	g := &Generator{backend: backend, model: DefaultModel, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "imagegen", "model", g.model)
	return g
}

// NewFromAPIKey creates a Gemini API client for apiKey.
func NewFromAPIKey(ctx context.Context, apiKey string, opts ...Option) (*Generator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("imagegen: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("imagegen: new client: %w", err)
	}
	return New(client.Models, opts...), nil
}

// Generate returns the first image the model produced for prompt. Imagen
// models go through the dedicated image endpoint.
func (g *Generator) Generate(ctx context.Context, prompt string) (tools.Image, error) {
	if strings.HasPrefix(g.model, "imagen-") {
		return g.generateImages(ctx, prompt)
	}
	resp, err := g.backend.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityText), string(genai.ModalityImage)},
	})
	if err != nil {
		return tools.Image{}, fmt.Errorf("imagegen: generate content: %w", err)
	}
	img, ok := firstInlineImage(resp)
	if !ok {
		g.logger.Warn("imagegen: no image in response", "text", responseText(resp))
		return tools.Image{}, ErrNoImage
	}
	g.logger.Debug("imagegen: image generated", "bytes", len(img.Data), "mime_type", img.MIMEType)
	return img, nil
}

func (g *Generator) generateImages(ctx context.Context, prompt string) (tools.Image, error) {
	resp, err := g.backend.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{NumberOfImages: 1})
	if err != nil {
		return tools.Image{}, fmt.Errorf("imagegen: generate images: %w", err)
	}
	if resp == nil {
		return tools.Image{}, ErrNoImage
	}
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		mime := gi.Image.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return media.Blob{Data: gi.Image.ImageBytes, MIMEType: mime}, nil
	}
	return tools.Image{}, ErrNoImage
}

func firstInlineImage(resp *genai.GenerateContentResponse) (media.Blob, bool) {
	if resp == nil {
		return media.Blob{}, false
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if !strings.HasPrefix(part.InlineData.MIMEType, "image/") {
				continue
			}
			return media.Blob{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, true
		}
	}
	return media.Blob{}, false
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.Text != "" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}
