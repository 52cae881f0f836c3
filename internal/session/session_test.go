package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ai-call-coach-service/internal/events"
	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/prompts"
	"ai-call-coach-service/internal/service/coach"
	"ai-call-coach-service/internal/service/persona"
	"ai-call-coach-service/internal/store"
)

// scriptedEvaluator returns canned evaluations instantly.
type scriptedEvaluator struct {
	mu    sync.Mutex
	turns []int
}

func (e *scriptedEvaluator) EvaluateTurn(_ context.Context, req coach.TurnRequest) (models.EvaluationRecord, error) {
	e.mu.Lock()
	e.turns = append(e.turns, req.TurnIndex)
	e.mu.Unlock()
	return models.EvaluationRecord{
		TurnIndex:  req.TurnIndex,
		Scores:     map[string]int{"clarity": 6, "empathy": 7},
		Compliance: models.CompliancePass,
		Urgency:    models.UrgencyMedium,
		Guidance:   "verify identity before discussing the account",
	}, nil
}

func (e *scriptedEvaluator) EvaluateSession(_ context.Context, req coach.SessionRequest) (models.SessionSummary, error) {
	return models.SessionSummary{
		OverallScore:   7,
		CategoryScores: map[string]int{"clarity": 7},
		BestMoment:     models.Citation{TurnIndex: 1, Quote: "let me verify your identity"},
		Improvements:   []string{"acknowledge frustration earlier"},
	}, nil
}

func (e *scriptedEvaluator) Close() error { return nil }

// scriptedResponder replies with a fixed line and records invocations. A
// non-zero delay is applied before replying; set it before the session starts.
type scriptedResponder struct {
	mu    sync.Mutex
	delay time.Duration
	calls []string
}

func (r *scriptedResponder) Respond(_ context.Context, text string) (string, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.calls = append(r.calls, text)
	r.mu.Unlock()
	return "Okay, but I need this fixed today.", nil
}

type harness struct {
	manager      *Manager
	evaluator    *scriptedEvaluator
	responder    *scriptedResponder
	interceptors []persona.Interceptor
	dir          string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := prompts.Load(filepath.Join("..", "..", "config", "prompts.json"))
	if err != nil {
		t.Fatalf("load prompt library: %v", err)
	}

	h := &harness{
		evaluator: &scriptedEvaluator{},
		responder: &scriptedResponder{},
		dir:       t.TempDir(),
	}
	h.manager = NewManager(Config{
		IdleTimeout:    50 * time.Millisecond,
		TurnTimeout:    time.Second,
		SummaryTimeout: time.Second,
		WaitTimeout:    2 * time.Second,
	}, Deps{
		Store:     store.New(h.dir),
		Prompts:   repo,
		Publisher: events.New(nil),
		EvaluatorFactory: func(coach.SessionContext) (coach.Evaluator, error) {
			return h.evaluator, nil
		},
		PersonaFactory: func(_ string, interceptors ...persona.Interceptor) (persona.Responder, error) {
			h.interceptors = interceptors
			return h.responder, nil
		},
	})
	return h
}

func deliver(t *testing.T, s *Session, ev models.SessionEvent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Deliver(ctx, ev); err != nil {
		t.Fatalf("deliver %s: %v", ev.EventType, err)
	}
}

func transcription(speaker models.Speaker, text string, ts int64) models.SessionEvent {
	return models.SessionEvent{
		EventType: models.EventTranscription,
		Speaker:   speaker,
		Text:      text,
		IsFinal:   true,
		Timestamp: ts,
	}
}

func readJSONL(t *testing.T, path string) []models.TranscriptEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []models.TranscriptEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e models.TranscriptEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("parse transcript line: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestSession_EndToEnd(t *testing.T) {
	h := newHarness(t)
	s, err := h.manager.Start("sess-e2e", "card")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// customer opens, representative answers, customer replies; each speaker
	// switch closes the previous turn
	deliver(t, s, transcription(models.SpeakerCustomer, "My card was declined at the pharmacy.", 100))
	deliver(t, s, transcription(models.SpeakerRepresentative, "I'm sorry to hear that.", 200))
	deliver(t, s, transcription(models.SpeakerRepresentative, "Let me verify your identity first.", 300))
	deliver(t, s, transcription(models.SpeakerCustomer, "Fine, go ahead.", 400))

	// persona reply for the representative turn
	select {
	case u := <-s.Outbound():
		if u.EventType != models.EventPersonaUtterance || u.Text == "" {
			t.Errorf("unexpected utterance %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no persona utterance pushed")
	}

	deliver(t, s, models.SessionEvent{EventType: models.EventSessionEnd})
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not tear down")
	}

	dir := filepath.Join(h.dir, "sess-e2e")
	entries := readJSONL(t, filepath.Join(dir, "transcript.jsonl"))
	if len(entries) != 3 {
		t.Fatalf("transcript has %d turns, want 3", len(entries))
	}
	wantTexts := []string{
		"My card was declined at the pharmacy.",
		"I'm sorry to hear that. Let me verify your identity first.",
		"Fine, go ahead.",
	}
	for i, e := range entries {
		if e.TurnIndex != i {
			t.Errorf("turn %d has index %d", i, e.TurnIndex)
		}
		if e.Text != wantTexts[i] {
			t.Errorf("turn %d text = %q, want %q", i, e.Text, wantTexts[i])
		}
	}

	var evals []models.EvaluationRecord
	raw, err := os.ReadFile(filepath.Join(dir, "evaluations.json"))
	if err != nil {
		t.Fatalf("read evaluations: %v", err)
	}
	if err := json.Unmarshal(raw, &evals); err != nil {
		t.Fatalf("parse evaluations: %v", err)
	}
	if len(evals) != 1 || evals[0].TurnIndex != 1 {
		t.Errorf("evaluations = %+v, want one record for turn 1", evals)
	}

	if _, err := os.Stat(filepath.Join(dir, "summary.json")); err != nil {
		t.Errorf("summary not written: %v", err)
	}

	h.responder.mu.Lock()
	defer h.responder.mu.Unlock()
	if len(h.responder.calls) != 1 {
		t.Errorf("persona invoked %d times, want 1", len(h.responder.calls))
	}
}

func TestSession_CustomerOnlyHasNoSummary(t *testing.T) {
	h := newHarness(t)
	s, err := h.manager.Start("sess-silent", "account")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deliver(t, s, transcription(models.SpeakerCustomer, "Hello? Is anyone there?", 100))
	deliver(t, s, models.SessionEvent{EventType: models.EventSessionEnd})
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not tear down")
	}

	if _, err := os.Stat(filepath.Join(h.dir, "sess-silent", "summary.json")); !os.IsNotExist(err) {
		t.Errorf("summary exists for a session with no representative turns (err=%v)", err)
	}
	h.evaluator.mu.Lock()
	defer h.evaluator.mu.Unlock()
	if len(h.evaluator.turns) != 0 {
		t.Errorf("evaluator invoked for turns %v, want none", h.evaluator.turns)
	}
}

func TestSession_OffTopicTurnArmsReminder(t *testing.T) {
	h := newHarness(t)
	s, err := h.manager.Start("sess-guard", "card")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deliver(t, s, transcription(models.SpeakerCustomer, "My card was declined.", 100))
	deliver(t, s, transcription(models.SpeakerRepresentative, "So, what do you like to do on the weekend?", 200))
	deliver(t, s, transcription(models.SpeakerCustomer, "Excuse me?", 300))

	// wait for the representative turn to be processed
	select {
	case <-s.Outbound():
	case <-time.After(2 * time.Second):
		t.Fatal("representative turn never processed")
	}

	if len(h.interceptors) != 1 {
		t.Fatalf("persona wired with %d interceptors, want 1", len(h.interceptors))
	}
	out := h.interceptors[0].BeforeGenerate(context.Background(), nil)
	if len(out) != 1 || out[0].Role != persona.RoleSystem {
		t.Fatalf("reminder not armed after off-topic turn: %+v", out)
	}

	deliver(t, s, models.SessionEvent{EventType: models.EventSessionEnd})
	<-s.Done()
}

func TestSession_GenerationCompleteClosesTurn(t *testing.T) {
	h := newHarness(t)
	s, err := h.manager.Start("sess-gen", "transfer")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deliver(t, s, transcription(models.SpeakerCustomer, "I sent money to the wrong account.", 100))
	deliver(t, s, models.SessionEvent{
		EventType: models.EventGenerationComplete,
		Speaker:   models.SpeakerCustomer,
		Timestamp: 150,
	})
	deliver(t, s, models.SessionEvent{EventType: models.EventSessionEnd})
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not tear down")
	}

	entries := readJSONL(t, filepath.Join(h.dir, "sess-gen", "transcript.jsonl"))
	if len(entries) != 1 || entries[0].Speaker != models.SpeakerCustomer {
		t.Fatalf("transcript = %+v, want one customer turn", entries)
	}
}

func TestSession_EndDuringSlowPersonaReply(t *testing.T) {
	h := newHarness(t)
	h.responder.delay = 30 * time.Millisecond

	// the session end lands while the persona is still composing its reply;
	// teardown must let that goroutine finish before closing the utterance
	// stream
	for i := 0; i < 5; i++ {
		s, err := h.manager.Start(fmt.Sprintf("sess-slow-%d", i), "card")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}

		deliver(t, s, transcription(models.SpeakerCustomer, "My card was declined.", 100))
		deliver(t, s, transcription(models.SpeakerRepresentative, "Let me pull up your account.", 200))
		deliver(t, s, transcription(models.SpeakerCustomer, "Please hurry.", 300))
		deliver(t, s, models.SessionEvent{EventType: models.EventSessionEnd})

		select {
		case <-s.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("session did not tear down")
		}
		// drain until the stream closes; any utterance that made it out before
		// teardown is fine
		for range s.Outbound() {
		}
	}
}

func TestSession_TrailingTurnAppendFailureSkipsSummary(t *testing.T) {
	h := newHarness(t)
	s, err := h.manager.Start("sess-flush-fail", "card")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deliver(t, s, transcription(models.SpeakerCustomer, "My card was declined.", 100))
	deliver(t, s, transcription(models.SpeakerRepresentative, "Let me check that for you.", 200))

	// wait for the customer turn to be persisted, then pull the log files out
	// from under the session so the trailing representative turn cannot be
	// flushed at teardown
	dir := filepath.Join(h.dir, "sess-flush-fail")
	waitFor(t, time.Second, func() bool {
		return len(readJSONL(t, filepath.Join(dir, "transcript.jsonl"))) == 1
	})
	if err := s.log.Close(); err != nil {
		t.Fatalf("close session log: %v", err)
	}

	deliver(t, s, models.SessionEvent{EventType: models.EventSessionEnd})
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not tear down")
	}

	if _, err := os.Stat(filepath.Join(dir, "summary.json")); !os.IsNotExist(err) {
		t.Errorf("summary exists despite incomplete transcript (err=%v)", err)
	}
}

func TestManager_Table(t *testing.T) {
	h := newHarness(t)

	s, err := h.manager.Start("sess-a", "card")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.manager.Start("sess-a", "card"); err == nil {
		t.Error("duplicate session ID accepted")
	}
	if _, err := h.manager.Get("sess-a"); err != nil {
		t.Errorf("Get live session: %v", err)
	}
	if _, err := h.manager.Get("nope"); err == nil {
		t.Error("Get unknown session succeeded")
	}
	if got := h.manager.Active(); got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}

	deliver(t, s, models.SessionEvent{EventType: models.EventSessionEnd})
	<-s.Done()

	waitFor(t, time.Second, func() bool { return h.manager.Active() == 0 })
}

func TestManager_GeneratesSessionID(t *testing.T) {
	h := newHarness(t)
	s, err := h.manager.Start("", "account")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.ID == "" {
		t.Fatal("no session ID generated")
	}
	deliver(t, s, models.SessionEvent{EventType: models.EventSessionEnd})
	<-s.Done()
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		if _, err := h.manager.Start(fmt.Sprintf("sess-%d", i), "card"); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	h.manager.Shutdown(5 * time.Second)
	waitFor(t, time.Second, func() bool { return h.manager.Active() == 0 })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
