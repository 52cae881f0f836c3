package ws

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ai-call-coach-service/internal/events"
	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/prompts"
	"ai-call-coach-service/internal/service/coach"
	"ai-call-coach-service/internal/service/persona"
	"ai-call-coach-service/internal/session"
	"ai-call-coach-service/internal/store"
)

type stubEvaluator struct{}

func (stubEvaluator) EvaluateTurn(_ context.Context, req coach.TurnRequest) (models.EvaluationRecord, error) {
	return models.EvaluationRecord{
		TurnIndex:  req.TurnIndex,
		Scores:     map[string]int{"clarity": 8},
		Compliance: models.CompliancePass,
		Urgency:    models.UrgencyLow,
		Guidance:   "keep going",
	}, nil
}

func (stubEvaluator) EvaluateSession(context.Context, coach.SessionRequest) (models.SessionSummary, error) {
	return models.SessionSummary{
		OverallScore:   8,
		CategoryScores: map[string]int{"clarity": 8},
		BestMoment:     models.Citation{TurnIndex: 1, Quote: "ok"},
	}, nil
}

func (stubEvaluator) Close() error { return nil }

type stubResponder struct{}

func (stubResponder) Respond(context.Context, string) (string, error) {
	return "That doesn't fix my card.", nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo, err := prompts.Load(filepath.Join("..", "..", "..", "config", "prompts.json"))
	if err != nil {
		t.Fatalf("load prompt library: %v", err)
	}
	manager := session.NewManager(session.Config{
		IdleTimeout:    50 * time.Millisecond,
		TurnTimeout:    time.Second,
		SummaryTimeout: time.Second,
		WaitTimeout:    2 * time.Second,
	}, session.Deps{
		Store:     store.New(t.TempDir()),
		Prompts:   repo,
		Publisher: events.New(nil),
		EvaluatorFactory: func(coach.SessionContext) (coach.Evaluator, error) {
			return stubEvaluator{}, nil
		},
		PersonaFactory: func(string, ...persona.Interceptor) (persona.Responder, error) {
			return stubResponder{}, nil
		},
	})
	srv := httptest.NewServer(NewHandler(manager).Mux())
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/session"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandler_SessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(models.SessionEvent{
		EventType: models.EventSessionStart,
		Scenario:  "card",
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		t.Fatalf("send start: %v", err)
	}

	var ack startedAck
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.EventType != "session.started" || ack.SessionID == "" || ack.Scenario != "card" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	send := func(speaker models.Speaker, text string, ts int64) {
		t.Helper()
		if err := conn.WriteJSON(models.SessionEvent{
			EventType: models.EventTranscription,
			Speaker:   speaker,
			Text:      text,
			IsFinal:   true,
			Timestamp: ts,
		}); err != nil {
			t.Fatalf("send transcription: %v", err)
		}
	}
	send(models.SpeakerCustomer, "My card was declined.", 100)
	send(models.SpeakerRepresentative, "Let me look into that.", 200)
	send(models.SpeakerCustomer, "Please hurry.", 300)

	var utterance models.PersonaUtterance
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&utterance); err != nil {
		t.Fatalf("read utterance: %v", err)
	}
	if utterance.EventType != models.EventPersonaUtterance || utterance.Text == "" {
		t.Fatalf("unexpected utterance %+v", utterance)
	}
	if utterance.SessionID != ack.SessionID {
		t.Errorf("utterance session %q, want %q", utterance.SessionID, ack.SessionID)
	}

	if err := conn.WriteJSON(models.SessionEvent{EventType: models.EventSessionEnd}); err != nil {
		t.Fatalf("send end: %v", err)
	}

	// server closes after teardown
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal closure, got %v", err)
			}
			break
		}
	}
}

func TestHandler_RejectsWithoutStart(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(models.SessionEvent{
		EventType: models.EventTranscription,
		Speaker:   models.SpeakerCustomer,
		Text:      "hello",
		IsFinal:   true,
		Timestamp: 1,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestHandler_RejectsUnknownScenario(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(models.SessionEvent{
		EventType: models.EventSessionStart,
		Scenario:  "mortgage",
		Timestamp: 1,
	}); err != nil {
		t.Fatalf("send start: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseInternalServerErr) {
		t.Fatalf("expected internal error close, got %v", err)
	}
}
