package ws

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	"quizroom-service/internal/session"
)

func TestQuizFlowOverWebSocket(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	host := dial(t, server, "ROOM01", "host-1", "Host")
	defer host.Close()
	readUntil(t, host, "init")

	participant := dial(t, server, "ROOM01", "p1", "Alice")
	defer participant.Close()
	readUntil(t, participant, "init")
	readUntil(t, host, "joined")

	// host starts: everyone gets the problem, only the host the answer key
	writeMsg(t, host, "start", nil)
	hostSeen := readUntil(t, host, "showAdvanceControl")
	requireSeen(t, hostSeen, "problem", "hostAnswerKey")

	participantSeen := readUntil(t, participant, "problem")
	requireNotSeen(t, participantSeen, "hostAnswerKey", "showAdvanceControl")

	// participant answers correctly; the result stays private
	writeMsg(t, participant, "answer", map[string]any{"optionSelected": 1})
	pSeen := readUntil(t, participant, "answerResult")
	result := pSeen["answerResult"]
	if result["isCorrect"] != true {
		t.Fatalf("expected correct answer, got %+v", result)
	}
	hSeen := readUntil(t, host, "answerReceived")
	requireNotSeen(t, hSeen, "answerResult")

	// host advances to the leaderboard
	writeMsg(t, host, "advance", nil)
	lbSeen := readUntil(t, participant, "leaderboard")
	entries := lbSeen["leaderboard"]["leaderboard"].([]any)
	first := entries[0].(map[string]any)
	if first["participantId"] != "p1" {
		t.Fatalf("expected p1 to lead, got %+v", first)
	}
	readUntil(t, host, "leaderboard")

	// single-problem room: the post-leaderboard delay ends the quiz
	endSeen := readUntil(t, participant, "quizEnded")
	final := endSeen["quizEnded"]["finalLeaderboard"].([]any)
	if len(final) != 1 {
		t.Fatalf("expected one ranked participant, got %+v", final)
	}
}

func TestNonHostCannotStart(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	participant := dial(t, server, "ROOM01", "p1", "Alice")
	defer participant.Close()
	readUntil(t, participant, "init")

	writeMsg(t, participant, "start", nil)
	seen := readUntil(t, participant, "error")
	requireNotSeen(t, seen, "problem")
}

func TestUnknownRoomRejected(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	conn := dial(t, server, "NOPE", "p1", "Alice")
	defer conn.Close()
	readUntil(t, conn, "error")
}

func TestPingGetsPong(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	conn := dial(t, server, "ROOM01", "p1", "Alice")
	defer conn.Close()
	readUntil(t, conn, "init")

	writeMsg(t, conn, "ping", nil)
	seen := readUntil(t, conn, "pong")
	requireNotSeen(t, seen, "error")
}

func TestGetStateHidesAnswerFromParticipants(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	host := dial(t, server, "ROOM01", "host-1", "Host")
	defer host.Close()
	readUntil(t, host, "init")

	participant := dial(t, server, "ROOM01", "p1", "Alice")
	defer participant.Close()
	readUntil(t, participant, "init")

	writeMsg(t, host, "start", nil)
	readUntil(t, host, "showAdvanceControl")
	readUntil(t, participant, "problem")

	writeMsg(t, participant, "getState", nil)
	seen := readUntil(t, participant, "state")
	problem := seen["state"]["problem"].(map[string]any)
	if _, ok := problem["correctAnswer"]; ok {
		t.Fatalf("participant state leaked the answer: %+v", problem)
	}

	writeMsg(t, host, "getState", nil)
	seen = readUntil(t, host, "state")
	problem = seen["state"]["problem"].(map[string]any)
	if _, ok := problem["correctAnswer"]; !ok {
		t.Fatalf("host state is missing the answer: %+v", problem)
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	rooms := memory.NewRoomRepository(memory.NewStaticRoomLoader(map[string]domain.Room{
		"ROOM01": {
			ID:        "ROOM01",
			Title:     "Test room",
			CreatorID: "host-1",
			Questions: []domain.Question{
				{
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectAnswer: 1,
				},
			},
			Settings: domain.RoomSettings{TimerEnabled: false},
		},
	}), time.Minute)

	registry := session.NewRegistry(rooms, session.RegistryConfig{
		Session: session.Config{LeaderboardDelay: 50 * time.Millisecond},
	})
	gateway := NewGateway(registry, rooms)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)
	return httptest.NewServer(mux)
}

func dial(t *testing.T, server *httptest.Server, roomID, userID, name string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?roomId=" + roomID + "&userId=" + userID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, typ string, payload map[string]any) {
	t.Helper()
	msg := map[string]any{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads messages until one of the given type arrives, returning
// every payload seen keyed by message type.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]map[string]any {
	t.Helper()
	seen := make(map[string]map[string]any)
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json (waiting for %s): %v", typ, err)
		}
		seen[msg.Type] = msg.Payload
		if msg.Type == typ {
			return seen
		}
	}
	t.Fatalf("never saw %s, got %v", typ, keys(seen))
	return nil
}

func requireSeen(t *testing.T, seen map[string]map[string]any, types ...string) {
	t.Helper()
	for _, typ := range types {
		if _, ok := seen[typ]; !ok {
			t.Fatalf("expected to have seen %s, got %v", typ, keys(seen))
		}
	}
}

func requireNotSeen(t *testing.T, seen map[string]map[string]any, types ...string) {
	t.Helper()
	for _, typ := range types {
		if _, ok := seen[typ]; ok {
			t.Fatalf("must not have seen %s", typ)
		}
	}
}

func keys(m map[string]map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
