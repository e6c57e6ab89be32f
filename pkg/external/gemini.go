package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/monitoring"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-3-flash-preview"

// ErrMissingAPIKey is returned when no generative-language API key is configured.
var ErrMissingAPIKey = errors.New("generative-language API key is required")

// ContentGenerator sends a prompt to a generative-language model and returns the raw text of its
// schema-constrained JSON reply.
type ContentGenerator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator implements ContentGenerator on the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	schema *genai.Schema
}

// NewGeminiGenerator creates a new Gemini content generator
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		model:  model,
		schema: InsightSchema(),
	}, nil
}

// GenerateJSON requests a JSON reply constrained to the insight schema.
func (g *GeminiGenerator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   g.schema,
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	return resp.Text(), nil
}

// InsightSchema is the response schema of an insight: three required string fields.
func InsightSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":                 {Type: genai.TypeString},
			"therapeuticImplications": {Type: genai.TypeString},
			"prognosticValue":         {Type: genai.TypeString},
		},
		Required: []string{"summary", "therapeuticImplications", "prognosticValue"},
	}
}

// NewConfiguredInsightClient builds the insight client for config. Without an API key, or when the
// Gemini client cannot be created, the client has no generator and always answers with the
// placeholder.
func NewConfiguredInsightClient(ctx context.Context, config domain.InsightConfig, metrics *monitoring.Metrics, logger *logrus.Logger) *InsightClient {
	gemini, err := NewGeminiGenerator(ctx, config.APIKey, config.Model)
	if err != nil {
		logger.WithError(err).Warn("Generative language model unavailable, insights use the placeholder")
		return NewInsightClient(config, nil, metrics, logger)
	}
	return NewInsightClient(config, gemini, metrics, logger)
}
