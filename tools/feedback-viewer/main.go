// Feedback Viewer - Coach feedback display
// Serves stored session artifacts and streams live evaluation events from
// Kafka via WebSocket to the browser.
package main

import (
	"bufio"
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

//go:embed static/*
var staticFiles embed.FS

// CoachEvent is a live event from the service's Kafka mirror. Only the
// fields the viewer renders are decoded.
type CoachEvent struct {
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Scenario  string          `json:"scenario"`
	TurnIndex int             `json:"turnIndex,omitempty"`
	Turn      json.RawMessage `json:"turn,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`
	Failure   string          `json:"failure,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan CoachEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan CoachEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Printf("Client connected. Total: %d", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Printf("Client disconnected. Total: %d", len(h.clients))

		case event := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				err := conn.WriteJSON(event)
				if err != nil {
					log.Printf("Write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				_, _, err := conn.ReadMessage()
				if err != nil {
					break
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string) {
	// Use partition reader without consumer group (works better through port-forward)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)) // Last hour of messages

	log.Printf("Consuming from Kafka topic: %s partition 0 (last hour)", topic)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Kafka read error on %s: %v", topic, err)
				time.Sleep(time.Second)
				continue
			}

			var event CoachEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Printf("JSON unmarshal error: %v", err)
				continue
			}

			log.Printf("Received %s for session %s turn %d", event.EventType, event.SessionID, event.TurnIndex)
			hub.broadcast <- event
		}
	}
}

// sessionMeta is the meta.json written per session directory.
type sessionMeta struct {
	SessionID string `json:"sessionId"`
	Scenario  string `json:"scenario"`
	Persona   string `json:"persona"`
	StartedAt int64  `json:"startedAt"`
	Finalized bool   `json:"finalized"`
}

// listSessions scans the session store for artifact directories.
func listSessions(root string) ([]sessionMeta, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []sessionMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(root, e.Name(), "meta.json"))
		if err != nil {
			continue
		}
		var meta sessionMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), "summary.json")); err == nil {
			meta.Finalized = true
		}
		out = append(out, meta)
	}
	return out, nil
}

// sessionData bundles one session's artifacts for the browser.
type sessionData struct {
	Meta        sessionMeta       `json:"meta"`
	Transcript  []json.RawMessage `json:"transcript"`
	Evaluations json.RawMessage   `json:"evaluations,omitempty"`
	Summary     json.RawMessage   `json:"summary,omitempty"`
}

func loadSession(root, id string) (*sessionData, error) {
	dir := filepath.Join(root, filepath.Base(id)) // Base() blocks path traversal
	raw, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return nil, err
	}
	var data sessionData
	if err := json.Unmarshal(raw, &data.Meta); err != nil {
		return nil, err
	}

	if f, err := os.Open(filepath.Join(dir, "transcript.jsonl")); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := make(json.RawMessage, len(sc.Bytes()))
			copy(line, sc.Bytes())
			data.Transcript = append(data.Transcript, line)
		}
		f.Close()
	}
	if raw, err := os.ReadFile(filepath.Join(dir, "evaluations.json")); err == nil {
		data.Evaluations = raw
	}
	if raw, err := os.ReadFile(filepath.Join(dir, "summary.json")); err == nil {
		data.Summary = raw
		data.Meta.Finalized = true
	}
	return &data, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Response encode error: %v", err)
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTurns := flag.String("topic-turns", "coach.turn.closed", "Closed turn topic")
	topicEvals := flag.String("topic-evals", "coach.evaluation.completed", "Evaluation topic")
	sessions := flag.String("sessions", "sessions", "Session store directory")
	flag.Parse()

	hub := newHub()
	go hub.run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumeKafka(ctx, hub, *brokers, *topicTurns)
	go consumeKafka(ctx, hub, *brokers, *topicEvals)

	staticFS, _ := fs.Sub(staticFiles, "static")
	http.Handle("/", http.FileServer(http.FS(staticFS)))
	http.HandleFunc("/ws", wsHandler(hub))

	http.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		list, err := listSessions(*sessions)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	})
	http.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		data, err := loadSession(*sessions, id)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, data)
	})

	log.Printf("Feedback Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topics: %s, %s", *topicTurns, *topicEvals)
	log.Printf("   Session store: %s", *sessions)

	if err := http.ListenAndServe(":"+*port, nil); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
