package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quizroom-service/internal/session"
)

// Gateway binds websocket connections to session operations and performs
// role-scoped fan-out of session events. It holds no session state of its
// own beyond the per-connection identity.
type Gateway struct {
	registry *session.Registry
	rooms    session.RoomRepository
	upgrader websocket.Upgrader
}

func NewGateway(registry *session.Registry, rooms session.RoomRepository) *Gateway {
	return &Gateway{
		registry: registry,
		rooms:    rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	OptionSelected int `json:"optionSelected"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type initPayload struct {
	ParticipantID string                `json:"participantId"`
	IsHost        bool                  `json:"isHost"`
	State         session.StateSnapshot `json:"state"`
}

// ServeWS upgrades the request and runs the connection's read loop. Identity
// comes from query params; role is resolved against the backing store.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	participantID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if roomID == "" || participantID == "" || displayName == "" {
		http.Error(w, "missing roomId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess, err := g.registry.GetOrCreate(r.Context(), roomID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	isHost, err := g.rooms.IsHost(r.Context(), roomID, participantID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	connID := uuid.NewString()
	events, cancel := sess.Subscribe()
	defer cancel()

	sess.Join(participantID, displayName, connID, isHost)
	defer func() {
		sess.Leave(participantID, connID)
		g.registry.RemoveIfFinished(roomID)
	}()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				if !deliverable(e, participantID, isHost) {
					continue
				}
				select {
				case send <- outboundMessage{Type: e.Type, Payload: e.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage{Type: "init", Payload: initPayload{
		ParticipantID: participantID,
		IsHost:        isHost,
		State:         sess.Snapshot(isHost),
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("invalid answer payload")
				continue
			}
			if err := sess.Submit(participantID, payload.OptionSelected); err != nil {
				send <- errorMessage(err.Error())
			}
		case "start":
			if !g.verifyHost(r.Context(), roomID, participantID, send) {
				continue
			}
			if err := sess.Start(participantID); err != nil {
				send <- errorMessage(err.Error())
			}
		case "advance":
			if !g.verifyHost(r.Context(), roomID, participantID, send) {
				continue
			}
			if err := sess.Advance(participantID); err != nil {
				send <- errorMessage(err.Error())
			}
		case "getState":
			send <- outboundMessage{Type: "state", Payload: sess.Snapshot(isHost)}
		case "ping":
			send <- outboundMessage{Type: "pong"}
		default:
			send <- errorMessage("unsupported message type")
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

// verifyHost re-checks the role against the backing store on every
// privileged call, so a revoked host cannot ride a cached privilege.
func (g *Gateway) verifyHost(ctx context.Context, roomID, participantID string, send chan<- outboundMessage) bool {
	isHost, err := g.rooms.IsHost(ctx, roomID, participantID)
	if err != nil {
		send <- errorMessage(err.Error())
		return false
	}
	if !isHost {
		send <- errorMessage("only a host can do that")
		return false
	}
	return true
}

func errorMessage(msg string) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Message: msg}}
}

// deliverable applies the role-scoped broadcast rule for one connection.
func deliverable(e session.Event, participantID string, isHost bool) bool {
	switch e.Audience {
	case session.AudienceRoom:
		return e.ExcludeID != participantID
	case session.AudienceHosts:
		return isHost
	case session.AudienceParticipant:
		return e.TargetID == participantID
	}
	return false
}
