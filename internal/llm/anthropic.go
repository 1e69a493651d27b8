package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shiranui/newsdigest/internal/apperr"
	"github.com/shiranui/newsdigest/internal/summary"
)

const (
	anthropicMaxTokens   = 2048
	anthropicTemperature = 0.2
)

// Anthropic is the fallback summarization provider.
type Anthropic struct {
	client anthropic.Client
	model  string
}

func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Generate(ctx context.Context, prompt summary.Prompt) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(anthropicTemperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapAnthropicError(err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &apperr.ExternalServiceError{Service: "anthropic", Err: errors.New("response missing text content")}
	}
	return b.String(), nil
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	throttled := errors.As(err, &apiErr) && (apiErr.StatusCode == 429 || apiErr.StatusCode == 529)
	return &apperr.ExternalServiceError{Service: "anthropic", Err: err, Throttled: throttled}
}
