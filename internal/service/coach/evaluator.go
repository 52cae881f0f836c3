// Package coach scores the representative's turns and the whole session by
// invoking an external evaluation model off the conversational critical path.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/observability/logging"
	"ai-call-coach-service/internal/prompts"
)

// SessionContext identifies the session an evaluation belongs to.
type SessionContext struct {
	SessionID string
	Scenario  string
	Persona   string
}

// TurnRequest is one turn pair submitted for evaluation.
type TurnRequest struct {
	Session            SessionContext
	TurnIndex          int
	CustomerText       string
	RepresentativeText string
}

// SessionRequest is the end-of-session evaluation input: the ordered full
// transcript.
type SessionRequest struct {
	Session    SessionContext
	Transcript []models.Turn
}

// Evaluator invokes the external evaluation model. Implementations must
// return responses conforming to the rubric schema; the orchestrator treats
// anything else as an evaluation failure.
type Evaluator interface {
	EvaluateTurn(ctx context.Context, req TurnRequest) (models.EvaluationRecord, error)
	EvaluateSession(ctx context.Context, req SessionRequest) (models.SessionSummary, error)
	Close() error
}

// errSchema marks responses that failed schema validation.
var errSchema = errors.New("response violates rubric schema")

// OpenAIConfig configures the model-backed evaluator. BaseURL may point at
// any OpenAI-compatible gateway.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIEvaluator evaluates turns via a chat-completion model, prompted with
// the coach rubric and required to answer in JSON.
type OpenAIEvaluator struct {
	client  *openai.Client
	model   string
	temp    float32
	maxTok  int
	prompts *prompts.Repository
	logger  zerolog.Logger
}

// NewOpenAIEvaluator creates the evaluator client.
func NewOpenAIEvaluator(cfg OpenAIConfig, repo *prompts.Repository) (*OpenAIEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("evaluator API key is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	return &OpenAIEvaluator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		temp:    cfg.Temperature,
		maxTok:  cfg.MaxTokens,
		prompts: repo,
		logger:  logging.WithComponent("evaluator"),
	}, nil
}

// EvaluateTurn scores one turn pair against the rubric.
func (e *OpenAIEvaluator) EvaluateTurn(ctx context.Context, req TurnRequest) (models.EvaluationRecord, error) {
	prompt, err := e.buildTurnPrompt(req)
	if err != nil {
		return models.EvaluationRecord{}, fmt.Errorf("%w: %v", errSchema, err)
	}

	raw, err := e.complete(ctx, prompt, e.maxTok)
	if err != nil {
		return models.EvaluationRecord{}, err
	}

	var rec models.EvaluationRecord
	payload, ok := extractJSON(raw)
	if !ok {
		return models.EvaluationRecord{}, fmt.Errorf("%w: no JSON object in response", errSchema)
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return models.EvaluationRecord{}, fmt.Errorf("%w: %v", errSchema, err)
	}
	rec.TurnIndex = req.TurnIndex
	if err := rec.Validate(); err != nil {
		return models.EvaluationRecord{}, fmt.Errorf("%w: %v", errSchema, err)
	}

	e.logger.Debug().
		Int("turnIndex", req.TurnIndex).
		Interface("scores", rec.Scores).
		Msg("Turn evaluation parsed")
	return rec, nil
}

// EvaluateSession produces the end-of-session assessment from the ordered
// full transcript.
func (e *OpenAIEvaluator) EvaluateSession(ctx context.Context, req SessionRequest) (models.SessionSummary, error) {
	prompt, err := e.buildSessionPrompt(req)
	if err != nil {
		return models.SessionSummary{}, fmt.Errorf("%w: %v", errSchema, err)
	}

	raw, err := e.complete(ctx, prompt, 800)
	if err != nil {
		return models.SessionSummary{}, err
	}

	var summary models.SessionSummary
	payload, ok := extractJSON(raw)
	if !ok {
		return models.SessionSummary{}, fmt.Errorf("%w: no JSON object in response", errSchema)
	}
	if err := json.Unmarshal(payload, &summary); err != nil {
		return models.SessionSummary{}, fmt.Errorf("%w: %v", errSchema, err)
	}
	if err := summary.Validate(); err != nil {
		return models.SessionSummary{}, fmt.Errorf("%w: %v", errSchema, err)
	}
	return summary, nil
}

// Close releases the client. Nothing to clean up for the HTTP client.
func (e *OpenAIEvaluator) Close() error {
	return nil
}

func (e *OpenAIEvaluator) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temp,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("evaluator completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", errSchema)
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEvaluator) buildTurnPrompt(req TurnRequest) (string, error) {
	system, err := e.prompts.CoachSystem()
	if err != nil {
		return "", err
	}
	criteria := e.prompts.EvaluationCriteria()

	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")
	writeScenarioContext(&b, e.prompts, req.Session)

	b.WriteString("\nEvaluate this single turn in the customer service conversation. " +
		"Analyze how well the bank representative handled the customer's message. " +
		"Provide ONLY the JSON object, no additional text or markdown.\n")

	fmt.Fprintf(&b, "\n**Turn Details:**\n- Turn Number: %d\n- Customer Statement: %q\n- Representative Response: %q\n",
		req.TurnIndex, req.CustomerText, req.RepresentativeText)

	b.WriteString("\n**Required JSON Output:**\n{\n  \"scores\": {")
	for i, c := range criteria {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: <0-10>", c)
	}
	b.WriteString("},\n" +
		"  \"strengths\": [\"specific strength observed\"],\n" +
		"  \"concerns\": [\"specific concern to address\"],\n" +
		"  \"compliance\": \"pass|warning|fail\",\n" +
		"  \"urgency\": \"low|medium|high\",\n" +
		"  \"guidance\": \"specific suggestion for what to do next\"\n}\n")
	return b.String(), nil
}

func (e *OpenAIEvaluator) buildSessionPrompt(req SessionRequest) (string, error) {
	system, err := e.prompts.CoachSystem()
	if err != nil {
		return "", err
	}
	criteria := e.prompts.EvaluationCriteria()

	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")
	writeScenarioContext(&b, e.prompts, req.Session)

	b.WriteString("\nAnalyze the complete customer service conversation and provide comprehensive feedback. " +
		"Quote the representative's exact words for the best moment and the missed opportunity, " +
		"with the turn index each quote came from. " +
		"Provide ONLY the JSON object per the schema, no additional text.\n")

	b.WriteString("\n**Full Transcript:**\n")
	for _, t := range req.Transcript {
		role := "Customer"
		if t.Speaker == models.SpeakerRepresentative {
			role = "Representative"
		}
		fmt.Fprintf(&b, "Turn %d - %s: %s\n", t.TurnIndex, role, t.Text)
	}

	b.WriteString("\n**Required JSON Output:**\n{\n  \"overallScore\": <0-10>,\n  \"categoryScores\": {")
	for i, c := range criteria {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: <0-10>", c)
	}
	b.WriteString("},\n" +
		"  \"bestMoment\": {\"turnIndex\": <n>, \"quote\": \"exact representative statement\"},\n" +
		"  \"missedOpportunity\": {\"turnIndex\": <n>, \"quote\": \"exact representative statement\"},\n" +
		"  \"improvements\": [\"prioritized improvement action\"]\n}\n")
	return b.String(), nil
}

func writeScenarioContext(b *strings.Builder, repo *prompts.Repository, sc SessionContext) {
	b.WriteString("**Current Scenario Context:**\n")
	fmt.Fprintf(b, "CUSTOMER PERSONA: %s\nSCENARIO: %s\n", sc.Persona, sc.Scenario)
	if info, err := repo.Scenario(sc.Scenario); err == nil {
		if info.EmotionalState != "" {
			fmt.Fprintf(b, "EMOTIONAL STATE: %s\n", info.EmotionalState)
		}
		if len(info.Backstory) > 0 {
			fmt.Fprintf(b, "CUSTOMER BACKSTORY: %s\n", strings.Join(firstN(info.Backstory, 2), "; "))
		}
		if len(info.KeyPhrases) > 0 {
			fmt.Fprintf(b, "KEY CUSTOMER CONCERNS: %s\n", strings.Join(firstN(info.KeyPhrases, 2), "; "))
		}
	}
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// extractJSON finds the first JSON object in text. The model may wrap the
// object in code fences or trailing commentary; take the substring from the
// first '{' to the last '}'.
func extractJSON(text string) ([]byte, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end <= start {
		return nil, false
	}
	return []byte(text[start : end+1]), true
}
