package http

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

func dialWS(t *testing.T, serverURL, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + serverURL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want domain.EventType) domain.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == want {
			return ev
		}
	}
	t.Fatalf("never received %s", want)
	return domain.Event{}
}

func TestWebSocketGameFlow(t *testing.T) {
	server, engine := newTestServer(t)
	ctx := context.Background()

	session, err := engine.CreateSession(ctx, app.CreateSessionInput{QuizID: "quiz-1", HostID: "host-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	alice, err := engine.Join(ctx, session.Code, app.JoinInput{Nickname: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	host := dialWS(t, server.URL, "code="+session.Code+"&hostId=host-1")
	player := dialWS(t, server.URL, "code="+session.Code+"&participantId="+alice.ID)

	// Both attachments get an initial state sync.
	readUntil(t, player, domain.EventGameState)
	readUntil(t, host, domain.EventGameState)

	// Host starts the session over the socket.
	if err := host.WriteJSON(map[string]any{"type": "START_SESSION"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readUntil(t, player, domain.EventQuestion)

	// Player answers over the socket and gets private feedback.
	answer, _ := json.Marshal(domain.AnswerSubmission{
		QuestionID:        "q1",
		SelectedOptionIDs: []string{"o2"},
		TimeTakenMs:       1200,
	})
	if err := player.WriteJSON(map[string]any{"type": "SUBMIT_ANSWER", "payload": json.RawMessage(answer)}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	fb := readUntil(t, player, domain.EventAnswerFeedback)
	var feedback domain.AnswerFeedback
	raw, _ := json.Marshal(fb.Payload)
	if err := json.Unmarshal(raw, &feedback); err != nil {
		t.Fatalf("decode feedback: %v", err)
	}
	if !feedback.Correct || feedback.PointsEarned <= 0 {
		t.Fatalf("unexpected feedback: %+v", feedback)
	}

	// Host advances; player sees the next question.
	if err := host.WriteJSON(map[string]any{"type": "NEXT_QUESTION"}); err != nil {
		t.Fatalf("write advance: %v", err)
	}
	q := readUntil(t, player, domain.EventQuestion)
	var view domain.QuestionView
	raw, _ = json.Marshal(q.Payload)
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if view.ID != "q2" || view.Number != 2 {
		t.Fatalf("expected q2, got %+v", view)
	}
	// Correctness flags never leak to clients.
	for _, opt := range view.Options {
		if opt.ID == "" || opt.Text == "" {
			t.Fatalf("option view incomplete: %+v", opt)
		}
	}
}

func TestWebSocketRejectsHostCommandsFromPlayers(t *testing.T) {
	server, engine := newTestServer(t)
	ctx := context.Background()

	session, err := engine.CreateSession(ctx, app.CreateSessionInput{QuizID: "quiz-1", HostID: "host-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	alice, err := engine.Join(ctx, session.Code, app.JoinInput{Nickname: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	player := dialWS(t, server.URL, "code="+session.Code+"&participantId="+alice.ID)
	readUntil(t, player, domain.EventGameState)

	if err := player.WriteJSON(map[string]any{"type": "START_SESSION"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, player, domain.EventError)

	got, err := engine.Session(ctx, session.Code)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if got.Status != domain.StatusWaiting {
		t.Fatalf("player command must not start the session, got %s", got.Status)
	}
}

func TestWebSocketReconnectKeepsParticipantConnected(t *testing.T) {
	server, engine := newTestServer(t)
	ctx := context.Background()

	session, err := engine.CreateSession(ctx, app.CreateSessionInput{QuizID: "quiz-1", HostID: "host-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	alice, err := engine.Join(ctx, session.Code, app.JoinInput{Nickname: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	first := dialWS(t, server.URL, "code="+session.Code+"&participantId="+alice.ID)
	readUntil(t, first, domain.EventGameState)

	// The reconnect displaces the first attachment.
	second := dialWS(t, server.URL, "code="+session.Code+"&participantId="+alice.ID)
	readUntil(t, second, domain.EventGameState)

	// Tearing down the stale connection must not mark Alice disconnected
	// while her replacement is still attached.
	first.Close()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		parts, err := engine.ListParticipants(ctx, session.Code)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(parts) != 1 {
			t.Fatalf("expected 1 participant, got %d", len(parts))
		}
		if !parts[0].Connected {
			t.Fatalf("stale attachment flipped the participant to disconnected")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWebSocketRejectsWrongHost(t *testing.T) {
	server, engine := newTestServer(t)

	session, err := engine.CreateSession(context.Background(), app.CreateSessionInput{QuizID: "quiz-1", HostID: "host-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws?code=" + session.Code + "&hostId=intruder"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial rejection")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestWebSocketKick(t *testing.T) {
	server, engine := newTestServer(t)
	ctx := context.Background()

	session, err := engine.CreateSession(ctx, app.CreateSessionInput{QuizID: "quiz-1", HostID: "host-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	alice, err := engine.Join(ctx, session.Code, app.JoinInput{Nickname: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	host := dialWS(t, server.URL, "code="+session.Code+"&hostId=host-1")
	readUntil(t, host, domain.EventGameState)

	kick, _ := json.Marshal(map[string]string{"participantId": alice.ID})
	if err := host.WriteJSON(map[string]any{"type": "KICK_PARTICIPANT", "payload": json.RawMessage(kick)}); err != nil {
		t.Fatalf("write kick: %v", err)
	}
	// Roster change reaches the host.
	ev := readUntil(t, host, domain.EventParticipant)
	var payload domain.ParticipantPayload
	raw, _ := json.Marshal(ev.Payload)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if payload.Action != domain.ParticipantLeft || payload.TotalParticipants != 0 {
		t.Fatalf("expected empty roster after kick, got %+v", payload)
	}
}
