package scriptgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// GeminiModel is the production ContentModel backed by the Gemini API.
type GeminiModel struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

var _ ContentModel = (*GeminiModel)(nil)

// NewGeminiModel creates a client for the given model name.
func NewGeminiModel(ctx context.Context, apiKey, modelName string) (*GeminiModel, error) {
	if modelName == "" {
		modelName = DefaultModelName
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("scriptgen: gemini client: %w", err)
	}
	return &GeminiModel{
		client: client,
		model:  client.GenerativeModel(modelName),
		name:   modelName,
	}, nil
}

// GenerateText sends the prompt and returns the first candidate's text.
func (m *GeminiModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := m.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("scriptgen: generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("scriptgen: no content returned from Gemini")
	}
	part := resp.Candidates[0].Content.Parts[0]
	text, ok := part.(genai.Text)
	if !ok {
		return "", errors.New("scriptgen: unexpected response type from Gemini")
	}
	return string(text), nil
}

// Name reports the model identifier stored with generated games.
func (m *GeminiModel) Name() string {
	return m.name
}

// Ping makes the cheapest authenticated call available, verifying the API
// key and model without spending generation quota.
func (m *GeminiModel) Ping(ctx context.Context) error {
	if _, err := m.model.CountTokens(ctx, genai.Text("ping")); err != nil {
		return fmt.Errorf("scriptgen: gemini ping: %w", err)
	}
	return nil
}

// Close releases the API client.
func (m *GeminiModel) Close() {
	m.client.Close()
}
