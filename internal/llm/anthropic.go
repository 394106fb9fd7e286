package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicModel talks to the Anthropic Messages API. Retries and backoff are
// delegated to the SDK.
type AnthropicModel struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	logger      zerolog.Logger
}

func NewAnthropic(s Settings, logger zerolog.Logger) (*AnthropicModel, error) {
	s = s.withDefaults()
	if s.APIKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY", ErrMissingCredentials)
	}
	if s.Model == "" {
		s.Model = defaultAnthropicModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(s.MaxRetries),
		option.WithRequestTimeout(s.Timeout),
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return &AnthropicModel{
		client:      anthropic.NewClient(opts...),
		model:       s.Model,
		maxTokens:   s.MaxTokens,
		temperature: *s.Temperature,
		logger:      logger.With().Str("comp", "llm").Str("provider", ProviderAnthropic).Logger(),
	}, nil
}

func (m *AnthropicModel) Name() string {
	return m.model
}

func (m *AnthropicModel) Respond(ctx context.Context, req Request) (string, error) {
	params := m.buildParams(req)
	m.logger.Debug().
		Str("model", m.model).
		Int("messages", len(params.Messages)).
		Bool("screenshot", len(req.Screenshot) > 0).
		Int64("max_tokens", params.MaxTokens).
		Msg("Anthropic request")

	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			return "", fmt.Errorf("anthropic: %w", err)
		}
		return "", fmt.Errorf("anthropic: %w: %w", ErrTransport, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	m.logger.Debug().
		Str("stop_reason", string(msg.StopReason)).
		Int64("input_tokens", msg.Usage.InputTokens).
		Int64("output_tokens", msg.Usage.OutputTokens).
		Str("response_preview", truncateString(text.String(), 200)).
		Msg("Anthropic response")
	return text.String(), nil
}

func (m *AnthropicModel) buildParams(req Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, 2*len(req.History)+1)
	for _, ex := range req.History {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(ex.Prompt)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(ex.Response)),
		)
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
	if len(req.Screenshot) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			imageMediaType(req.Screenshot),
			base64.StdEncoding.EncodeToString(req.Screenshot),
		))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))
	messages = append(messages, anthropic.NewUserMessage(blocks...))

	maxTokens := m.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := m.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.model),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(float64(temperature)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}
