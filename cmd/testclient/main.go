// Test client - drives a scripted training session over the session socket.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"ai-call-coach-service/internal/models"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/v1/session", "session socket URL")
	scenario := flag.String("scenario", "card", "training scenario: card, transfer or account")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")

	send := func(ev models.SessionEvent) {
		ev.Timestamp = time.Now().UnixMilli()
		if err := conn.WriteJSON(ev); err != nil {
			log.Fatalf("failed to send %s: %v", ev.EventType, err)
		}
	}

	send(models.SessionEvent{EventType: models.EventSessionStart, Scenario: *scenario})

	var ack struct {
		SessionID string `json:"sessionId"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		log.Fatalf("failed to read ack: %v", err)
	}
	log.Printf("Session started: sessionId=%s scenario=%s", ack.SessionID, *scenario)

	// Single reader goroutine: logs persona utterances until the server
	// closes the socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var u models.PersonaUtterance
			if err := conn.ReadJSON(&u); err != nil {
				return
			}
			log.Printf("Customer: %s", u.Text)
		}
	}()

	script := []models.SessionEvent{
		{EventType: models.EventTranscription, Speaker: models.SpeakerCustomer, Text: "Hi, my card was", IsFinal: false},
		{EventType: models.EventTranscription, Speaker: models.SpeakerCustomer, Text: "declined at the pharmacy this morning.", IsFinal: true},
		{EventType: models.EventTranscription, Speaker: models.SpeakerRepresentative, Text: "I'm sorry to hear that.", IsFinal: true},
		{EventType: models.EventTranscription, Speaker: models.SpeakerRepresentative, Text: "Can I get your full name to verify the account?", IsFinal: true},
		{EventType: models.EventTranscription, Speaker: models.SpeakerCustomer, Text: "It's Sarah Chen. Please hurry, I need my medication.", IsFinal: true},
		{EventType: models.EventTranscription, Speaker: models.SpeakerRepresentative, Text: "Thank you Sarah. I can see a security hold on the card, let me clear that for you now.", IsFinal: true},
	}
	for _, ev := range script {
		log.Printf("Sending: speaker=%s final=%v", ev.Speaker, ev.IsFinal)
		send(ev)
		time.Sleep(300 * time.Millisecond)
	}

	// Let the idle timeout close the trailing turn before ending.
	time.Sleep(3 * time.Second)
	send(models.SessionEvent{EventType: models.EventSessionEnd})

	// Wait for the server's close frame.
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	<-done
	log.Println("Session ended")
}
