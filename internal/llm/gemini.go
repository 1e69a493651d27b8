package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shiranui/newsdigest/internal/apperr"
	"github.com/shiranui/newsdigest/internal/summary"
)

const geminiTemperature = 0.2

// Gemini is the primary summarization provider.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, prompt summary.Prompt) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(geminiTemperature)
	if prompt.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(prompt.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt.User))
	if err != nil {
		return "", wrapGeminiError(err)
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	if b.Len() == 0 {
		return "", &apperr.ExternalServiceError{Service: "gemini", Err: errors.New("response missing text content")}
	}
	return b.String(), nil
}

func wrapGeminiError(err error) error {
	var apiErr *googleapi.Error
	throttled := errors.As(err, &apiErr) && (apiErr.Code == 429 || apiErr.Code == 503)
	return &apperr.ExternalServiceError{Service: "gemini", Err: err, Throttled: throttled}
}
