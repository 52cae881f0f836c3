// Package persona drives the simulated bank customer: a chat model invoked
// with a scenario persona prompt and the running conversation window.
package persona

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"ai-call-coach-service/internal/observability/logging"
	"ai-call-coach-service/internal/observability/metrics"
)

// Message roles in the conversation window.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the persona conversation window.
type Message struct {
	Role    string
	Content string
}

// Config configures the persona model client. The sampling parameters bias
// toward short, non-repetitive, reproducible replies that sound like a
// person on the phone rather than an essay.
type Config struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float32
	MaxTokens        int
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	Seed             int
}

// DefaultConfig returns the persona sampling defaults.
func DefaultConfig() Config {
	return Config{
		Model:            openai.GPT4oMini,
		Temperature:      0.4,
		MaxTokens:        50,
		TopP:             0.75,
		FrequencyPenalty: 0.3,
		PresencePenalty:  0.5,
		Seed:             42,
	}
}

// Responder generates the customer's next line from the representative's
// turn. Invoker is the model-backed implementation.
type Responder interface {
	Respond(ctx context.Context, representativeText string) (string, error)
}

// Invoker generates customer-side utterances for one session. It owns the
// conversation window; callers feed it the representative's turns.
type Invoker struct {
	client       *openai.Client
	cfg          Config
	interceptors []Interceptor
	logger       zerolog.Logger

	mu       sync.Mutex
	messages []Message
}

// NewInvoker creates a persona invoker seeded with the scenario system
// prompt. Interceptors run on every invocation, in order.
func NewInvoker(cfg Config, systemPrompt string, interceptors ...Interceptor) (*Invoker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("persona API key is not set")
	}
	if systemPrompt == "" {
		return nil, errors.New("persona system prompt is empty")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	return &Invoker{
		client:       openai.NewClientWithConfig(clientCfg),
		cfg:          cfg,
		interceptors: interceptors,
		logger:       logging.WithComponent("persona"),
		messages:     []Message{{Role: RoleSystem, Content: systemPrompt}},
	}, nil
}

// Respond generates the customer's reply to the representative's turn and
// records both in the conversation window.
func (i *Invoker) Respond(ctx context.Context, representativeText string) (string, error) {
	i.mu.Lock()
	i.messages = append(i.messages, Message{Role: RoleUser, Content: representativeText})
	window := make([]Message, len(i.messages))
	copy(window, i.messages)
	i.mu.Unlock()

	for _, ic := range i.interceptors {
		window = ic.BeforeGenerate(ctx, window)
	}

	start := time.Now()
	reply, err := i.complete(ctx, window)
	elapsed := time.Since(start)

	metrics.DefaultMetrics.PersonaInvocations.Inc()
	metrics.DefaultMetrics.PersonaLatency.Observe(elapsed.Seconds())
	if err != nil {
		metrics.DefaultMetrics.PersonaErrors.Inc()
		i.logger.Error().Err(err).Dur("elapsed", elapsed).Msg("Persona invocation failed")
		return "", fmt.Errorf("persona completion: %w", err)
	}

	i.mu.Lock()
	i.messages = append(i.messages, Message{Role: RoleAssistant, Content: reply})
	i.mu.Unlock()

	i.logger.Debug().Dur("elapsed", elapsed).Int("chars", len(reply)).Msg("Persona reply generated")
	return reply, nil
}

func (i *Invoker) complete(ctx context.Context, window []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(window))
	for n, m := range window {
		msgs[n] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	seed := i.cfg.Seed
	resp, err := i.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            i.cfg.Model,
		Messages:         msgs,
		Temperature:      i.cfg.Temperature,
		MaxTokens:        i.cfg.MaxTokens,
		TopP:             i.cfg.TopP,
		FrequencyPenalty: i.cfg.FrequencyPenalty,
		PresencePenalty:  i.cfg.PresencePenalty,
		Seed:             &seed,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// History returns a copy of the conversation window.
func (i *Invoker) History() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Message, len(i.messages))
	copy(out, i.messages)
	return out
}
