package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4o

// OpenAIModel talks to OpenAI or any OpenAI-compatible endpoint.
type OpenAIModel struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	maxRetries  int
	retryDelay  time.Duration
	logger      zerolog.Logger
}

func NewOpenAI(s Settings, logger zerolog.Logger) (*OpenAIModel, error) {
	s = s.withDefaults()
	if s.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingCredentials)
	}
	if s.Model == "" {
		s.Model = defaultOpenAIModel
	}
	cfg := openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		cfg.BaseURL = normalizeBaseURL(s.BaseURL)
	}
	cfg.HTTPClient = &http.Client{Timeout: s.Timeout}
	return &OpenAIModel{
		client:      openai.NewClientWithConfig(cfg),
		model:       s.Model,
		maxTokens:   s.MaxTokens,
		temperature: *s.Temperature,
		maxRetries:  s.MaxRetries,
		retryDelay:  retryBaseDelay,
		logger:      logger.With().Str("comp", "llm").Str("provider", ProviderOpenAI).Logger(),
	}, nil
}

// normalizeBaseURL accepts both "https://host" and "https://host/v1".
func normalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

func (m *OpenAIModel) Name() string {
	return m.model
}

func (m *OpenAIModel) Respond(ctx context.Context, req Request) (string, error) {
	chat := m.buildRequest(req)

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			m.logger.Info().Int("attempt", attempt).Err(lastErr).Msg("retrying OpenAI call")
			if err := backoff(ctx, m.retryDelay, attempt); err != nil {
				return "", err
			}
		}

		m.logger.Debug().
			Str("model", m.model).
			Int("messages", len(chat.Messages)).
			Bool("screenshot", len(req.Screenshot) > 0).
			Int("max_tokens", chat.MaxTokens).
			Msg("OpenAI request")

		resp, err := m.client.CreateChatCompletion(ctx, chat)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			lastErr = err
			if retryableOpenAI(err) {
				continue
			}
			return "", fmt.Errorf("openai: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai: no choices in response")
		}
		choice := resp.Choices[0]
		m.logger.Debug().
			Str("finish_reason", string(choice.FinishReason)).
			Int("prompt_tokens", resp.Usage.PromptTokens).
			Int("completion_tokens", resp.Usage.CompletionTokens).
			Str("response_preview", truncateString(choice.Message.Content, 200)).
			Msg("OpenAI response")
		return choice.Message.Content, nil
	}
	return "", fmt.Errorf("openai: %w: %w", ErrTransport, lastErr)
}

func (m *OpenAIModel) buildRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2*len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, ex := range req.History {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Prompt},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Response},
		)
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Screenshot) > 0 {
		dataURL := "data:" + imageMediaType(req.Screenshot) + ";base64," + base64.StdEncoding.EncodeToString(req.Screenshot)
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailHigh,
			}},
		}
	} else {
		user.Content = req.Prompt
	}
	messages = append(messages, user)

	maxTokens := m.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := m.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature == 0 {
		// go-openai omits a zero temperature, which the API reads as 1.
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// retryableOpenAI retries rate limits, server errors and transport failures.
func retryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
