// Package prompts loads the versioned prompt library: customer personas per
// scenario, the coach rubric, and guardrail pattern sets.
package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Prompt is one entry of the prompt library.
type Prompt struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Entity        string         `json:"entity"`
	PromptVersion string         `json:"prompt_version"`
	DateUpdated   string         `json:"date_updated"`
	Persona       string         `json:"persona,omitempty"`
	Scenario      string         `json:"scenario,omitempty"`
	Content       map[string]any `json:"content"`
}

// Known entity names in the library.
const (
	EntityPersona   = "simulation_customer"
	EntityCoach     = "coach_agent"
	EntityGuardrail = "guardrail"
)

// Repository is an in-memory index over prompts.json.
type Repository struct {
	index map[string]Prompt
	order []string
}

type libraryFile struct {
	Prompts []Prompt `json:"prompts"`
}

// Load reads and indexes the prompt library at path.
func Load(path string) (*Repository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt library: %w", err)
	}
	var lib libraryFile
	if err := json.Unmarshal(raw, &lib); err != nil {
		return nil, fmt.Errorf("parse prompt library: %w", err)
	}
	r := &Repository{index: make(map[string]Prompt, len(lib.Prompts))}
	for _, p := range lib.Prompts {
		if p.ID == "" {
			return nil, fmt.Errorf("prompt without id in %s", path)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Entity == "" {
			p.Entity = "unknown"
		}
		r.index[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r, nil
}

// ByID returns the prompt with the given id.
func (r *Repository) ByID(id string) (Prompt, bool) {
	p, ok := r.index[id]
	return p, ok
}

// Find filters prompts by entity, scenario, and a case-insensitive name
// substring. Empty arguments do not filter.
func (r *Repository) Find(entity, scenario, nameContains string) []Prompt {
	var out []Prompt
	for _, id := range r.order {
		p := r.index[id]
		if entity != "" && p.Entity != entity {
			continue
		}
		if scenario != "" && p.Scenario != scenario {
			continue
		}
		if nameContains != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(nameContains)) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PersonaSystem returns the persona system prompt for a scenario.
func (r *Repository) PersonaSystem(scenario string) (string, error) {
	matches := r.Find(EntityPersona, scenario, "")
	if len(matches) == 0 {
		return "", fmt.Errorf("no persona prompt for scenario %q", scenario)
	}
	return stringField(matches[0].Content, "system"), nil
}

// ScenarioInfo describes the persona bound to a scenario.
type ScenarioInfo struct {
	Persona        string
	Name           string
	EmotionalState string
	Backstory      []string
	KeyPhrases     []string
}

// Scenario returns persona context for a scenario, used by the coach prompt
// builder and by startup logging.
func (r *Repository) Scenario(scenario string) (ScenarioInfo, error) {
	matches := r.Find(EntityPersona, scenario, "")
	if len(matches) == 0 {
		return ScenarioInfo{}, fmt.Errorf("no persona prompt for scenario %q", scenario)
	}
	p := matches[0]
	return ScenarioInfo{
		Persona:        p.Persona,
		Name:           p.Name,
		EmotionalState: stringField(p.Content, "emotional_state"),
		Backstory:      stringSlice(p.Content, "backstory"),
		KeyPhrases:     stringSlice(p.Content, "key_phrases"),
	}, nil
}

// CoachSystem returns the coach main system prompt with its role, criteria
// and guideline sections flattened, matching how the coach was prompted.
func (r *Repository) CoachSystem() (string, error) {
	matches := r.Find(EntityCoach, "", "Main System")
	if len(matches) == 0 {
		return "", fmt.Errorf("no coach main system prompt")
	}
	content := matches[0].Content
	var b strings.Builder
	b.WriteString(stringField(content, "system"))
	writeSection(&b, "Your Role & Expertise", stringSlice(content, "role_expertise"))
	writeSection(&b, "Evaluation Criteria", stringSlice(content, "evaluation_criteria"))
	writeSection(&b, "Behavioral Guidelines", stringSlice(content, "behavioral_guidelines"))
	writeSection(&b, "Coaching Philosophy", stringSlice(content, "coaching_philosophy"))
	return b.String(), nil
}

// EvaluationCriteria returns the rubric category list used to build the turn
// evaluation schema.
func (r *Repository) EvaluationCriteria() []string {
	matches := r.Find(EntityCoach, "", "Main System")
	if len(matches) == 0 {
		return nil
	}
	return stringSlice(matches[0].Content, "evaluation_criteria")
}

// GuardrailContent is the pattern set for the guardrail filter.
type GuardrailContent struct {
	Version         string
	OffTopic        []string
	BankingKeywords []string
	Reminders       map[string]string
}

// Guardrail returns the guardrail pattern set, versioned per the library.
func (r *Repository) Guardrail() (GuardrailContent, error) {
	matches := r.Find(EntityGuardrail, "", "")
	if len(matches) == 0 {
		return GuardrailContent{}, fmt.Errorf("no guardrail patterns in prompt library")
	}
	p := matches[0]
	gc := GuardrailContent{
		Version:         p.PromptVersion,
		OffTopic:        stringSlice(p.Content, "off_topic_patterns"),
		BankingKeywords: stringSlice(p.Content, "banking_context"),
		Reminders:       make(map[string]string),
	}
	if raw, ok := p.Content["system_reminders"].(map[string]any); ok {
		for scenario, v := range raw {
			if s, ok := v.(string); ok {
				gc.Reminders[scenario] = s
			}
		}
	}
	return gc, nil
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString("\n\n**" + title + ":**\n")
	for _, l := range lines {
		b.WriteString("- " + l + "\n")
	}
}

func stringField(content map[string]any, key string) string {
	s, _ := content[key].(string)
	return s
}

func stringSlice(content map[string]any, key string) []string {
	raw, ok := content[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
