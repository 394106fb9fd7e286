package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.1
	DefaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	retryBaseDelay     = 500 * time.Millisecond
)

var (
	// ErrMissingCredentials is returned when the selected provider has no API key.
	ErrMissingCredentials = errors.New("missing model credentials")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown LLM provider")
	// ErrTransport wraps a model call that still failed after retries.
	ErrTransport = errors.New("model transport failure")
)

// VisionModel answers a prompt about an optional screenshot.
type VisionModel interface {
	Respond(ctx context.Context, req Request) (string, error)
	Name() string
}

// Request is one model call. History is replayed before the prompt as
// alternating user and assistant turns.
type Request struct {
	System      string
	Prompt      string
	Screenshot  []byte
	History     []Exchange
	MaxTokens   int
	Temperature *float32
}

// Settings select and configure a provider.
type Settings struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	// Temperature is DefaultTemperature when nil; zero is a valid setting.
	Temperature *float32
	Timeout     time.Duration
	MaxRetries  int
	// RequestsPerMinute throttles Respond calls; zero means unlimited.
	RequestsPerMinute int
}

func (s Settings) withDefaults() Settings {
	if s.MaxTokens <= 0 {
		s.MaxTokens = DefaultMaxTokens
	}
	if s.Temperature == nil {
		t := float32(DefaultTemperature)
		s.Temperature = &t
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = defaultMaxRetries
	}
	s.Model = strings.Trim(strings.TrimSpace(s.Model), "\"'")
	s.APIKey = strings.TrimSpace(s.APIKey)
	return s
}

// New builds the model selected by s.Provider.
func New(s Settings, logger zerolog.Logger) (VisionModel, error) {
	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	var (
		model VisionModel
		err   error
	)
	switch provider {
	case ProviderOpenAI:
		model, err = NewOpenAI(s, logger)
	case ProviderAnthropic:
		model, err = NewAnthropic(s, logger)
	default:
		return nil, fmt.Errorf("%w: %s (use 'openai' or 'anthropic')", ErrUnknownProvider, s.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Throttle(model, s.RequestsPerMinute), nil
}

// imageMediaType sniffs the screenshot encoding; drivers produce JPEG by default.
func imageMediaType(shot []byte) string {
	switch ct := http.DetectContentType(shot); ct {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return ct
	default:
		return "image/jpeg"
	}
}

func backoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base * time.Duration(1<<uint(attempt-1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
