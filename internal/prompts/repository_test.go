package prompts

import (
	"path/filepath"
	"strings"
	"testing"
)

func loadLibrary(t *testing.T) *Repository {
	t.Helper()
	repo, err := Load(filepath.Join("..", "..", "config", "prompts.json"))
	if err != nil {
		t.Fatalf("load prompt library: %v", err)
	}
	return repo
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("no/such/file.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFind_ByEntityAndScenario(t *testing.T) {
	repo := loadLibrary(t)

	personas := repo.Find(EntityPersona, "", "")
	if len(personas) != 3 {
		t.Errorf("got %d personas, want 3", len(personas))
	}
	card := repo.Find(EntityPersona, "card", "")
	if len(card) != 1 || card[0].Persona != "Sarah Chen" {
		t.Errorf("card scenario personas = %+v, want Sarah Chen", card)
	}
	coach := repo.Find(EntityCoach, "", "Main System")
	if len(coach) != 1 {
		t.Errorf("got %d coach prompts, want 1", len(coach))
	}
}

func TestPersonaSystem(t *testing.T) {
	repo := loadLibrary(t)
	for _, scenario := range []string{"card", "transfer", "account"} {
		system, err := repo.PersonaSystem(scenario)
		if err != nil {
			t.Errorf("PersonaSystem(%s): %v", scenario, err)
			continue
		}
		if system == "" {
			t.Errorf("empty persona system prompt for %s", scenario)
		}
	}
	if _, err := repo.PersonaSystem("mortgage"); err == nil {
		t.Error("expected error for unknown scenario")
	}
}

func TestScenario(t *testing.T) {
	repo := loadLibrary(t)
	info, err := repo.Scenario("card")
	if err != nil {
		t.Fatalf("Scenario: %v", err)
	}
	if info.Persona != "Sarah Chen" {
		t.Errorf("persona = %q, want Sarah Chen", info.Persona)
	}
	if info.EmotionalState == "" {
		t.Error("missing emotional state")
	}
	if len(info.Backstory) == 0 || len(info.KeyPhrases) == 0 {
		t.Error("missing backstory or key phrases")
	}
}

func TestCoachSystem_FlattensSections(t *testing.T) {
	repo := loadLibrary(t)
	system, err := repo.CoachSystem()
	if err != nil {
		t.Fatalf("CoachSystem: %v", err)
	}
	for _, section := range []string{"Your Role & Expertise", "Evaluation Criteria", "Behavioral Guidelines"} {
		if !strings.Contains(system, section) {
			t.Errorf("coach system prompt missing section %q", section)
		}
	}
}

func TestEvaluationCriteria(t *testing.T) {
	repo := loadLibrary(t)
	criteria := repo.EvaluationCriteria()
	if len(criteria) != 6 {
		t.Fatalf("got %d criteria, want 6", len(criteria))
	}
	if criteria[0] != "greeting_verification" {
		t.Errorf("first criterion = %q, want greeting_verification", criteria[0])
	}
}

func TestGuardrail(t *testing.T) {
	repo := loadLibrary(t)
	gc, err := repo.Guardrail()
	if err != nil {
		t.Fatalf("Guardrail: %v", err)
	}
	if gc.Version == "" {
		t.Error("missing pattern library version")
	}
	if len(gc.OffTopic) == 0 || len(gc.BankingKeywords) == 0 {
		t.Error("missing pattern lists")
	}
	for _, scenario := range []string{"card", "transfer", "account"} {
		if gc.Reminders[scenario] == "" {
			t.Errorf("missing reminder for scenario %s", scenario)
		}
	}
}
