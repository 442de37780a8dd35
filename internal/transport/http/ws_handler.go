package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

// WSHandler upgrades websocket connections and wires frames into the engine.
type WSHandler struct {
	engine   *app.Engine
	hub      *Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, hub *Hub, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		engine: engine,
		hub:    hub,
		log:    logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client frame types. Host commands require a hostId attachment.
const (
	frameSubmitAnswer    = "SUBMIT_ANSWER"
	frameSyncState       = "SYNC_STATE"
	framePing            = "PING"
	frameStartSession    = "START_SESSION"
	frameNextQuestion    = "NEXT_QUESTION"
	framePauseSession    = "PAUSE_SESSION"
	frameResumeSession   = "RESUME_SESSION"
	frameEndSession      = "END_SESSION"
	frameKickParticipant = "KICK_PARTICIPANT"
)

type kickPayload struct {
	ParticipantID string `json:"participantId"`
}

type startPayload struct {
	Settings *app.SettingsOverride `json:"settings"`
}

type syncStatePayload struct {
	Session  *domain.Session      `json:"session"`
	Question *domain.QuestionView `json:"question,omitempty"`
}

// ServeWS attaches a client to a session room. Participants connect with
// ?code=X&participantId=Y, hosts with ?code=X&hostId=Z.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := domain.NormalizeCode(r.URL.Query().Get("code"))
	participantID := r.URL.Query().Get("participantId")
	hostID := r.URL.Query().Get("hostId")
	if code == "" || (participantID == "" && hostID == "") {
		http.Error(w, "missing code and participantId or hostId", http.StatusBadRequest)
		return
	}

	session, err := h.engine.Session(r.Context(), code)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	isHost := hostID != ""
	if isHost && session.HostID != hostID {
		http.Error(w, "not the session host", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	c := h.hub.register(code, participantID, isHost)
	defer h.hub.unregister(code, c)

	// The connection outlives the upgrade request; engine calls made from the
	// read loop must not die with r.Context().
	ctx := context.Background()

	if participantID != "" {
		h.engine.HandleConnect(ctx, code, participantID)
		defer func() {
			// An attachment displaced by a reconnect must not flip the
			// participant back to disconnected.
			if !c.wasSuperseded() {
				h.engine.HandleDisconnect(ctx, code, participantID)
			}
		}()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range c.send {
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug().Err(err).Str("code", code).Msg("write failed, dropping client")
				return
			}
		}
	}()

	h.sendSyncState(ctx, c, code)

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		h.dispatch(ctx, c, code, participantID, frame)
	}
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, c *client, code, participantID string, frame inboundFrame) {
	switch frame.Type {
	case framePing:
		h.hub.deliver(c, domain.NewEvent(domain.EventGameState, code, domain.SenderSystem, map[string]string{"pong": "ok"}))

	case frameSyncState:
		h.sendSyncState(ctx, c, code)

	case frameSubmitAnswer:
		if participantID == "" {
			h.sendError(c, code, domain.ErrValidation)
			return
		}
		var sub domain.AnswerSubmission
		if err := json.Unmarshal(frame.Payload, &sub); err != nil {
			h.sendError(c, code, domain.ErrValidation)
			return
		}
		sub.ParticipantID = participantID
		if _, err := h.engine.Submit(ctx, code, sub); err != nil {
			h.sendError(c, code, err)
		}

	case frameStartSession, frameNextQuestion, framePauseSession, frameResumeSession,
		frameEndSession, frameKickParticipant:
		if !c.host {
			h.sendError(c, code, domain.ErrValidation)
			return
		}
		h.dispatchHost(ctx, c, code, frame)

	default:
		h.sendError(c, code, domain.ErrValidation)
	}
}

func (h *WSHandler) dispatchHost(ctx context.Context, c *client, code string, frame inboundFrame) {
	var err error
	switch frame.Type {
	case frameStartSession:
		var payload startPayload
		_ = json.Unmarshal(frame.Payload, &payload)
		_, err = h.engine.StartSession(ctx, code, payload.Settings)
	case frameNextQuestion:
		_, err = h.engine.AdvanceQuestion(ctx, code)
	case framePauseSession:
		_, err = h.engine.PauseSession(ctx, code)
	case frameResumeSession:
		_, err = h.engine.ResumeSession(ctx, code)
	case frameEndSession:
		_, err = h.engine.EndSession(ctx, code)
	case frameKickParticipant:
		var payload kickPayload
		if jsonErr := json.Unmarshal(frame.Payload, &payload); jsonErr != nil || payload.ParticipantID == "" {
			err = domain.ErrValidation
			break
		}
		err = h.engine.KickParticipant(ctx, code, payload.ParticipantID)
	}
	if err != nil {
		h.sendError(c, code, err)
	}
}

// sendSyncState pushes the current session (and live question, if any)
// privately so a client can rebuild its view after connect or reconnect.
func (h *WSHandler) sendSyncState(ctx context.Context, c *client, code string) {
	session, err := h.engine.Session(ctx, code)
	if err != nil {
		h.sendError(c, code, err)
		return
	}
	payload := syncStatePayload{Session: session}
	if view, err := h.engine.CurrentQuestionView(ctx, code); err == nil {
		payload.Question = view
	}
	h.hub.deliver(c, domain.NewEvent(domain.EventGameState, code, domain.SenderSystem, payload))
}

func (h *WSHandler) sendError(c *client, code string, err error) {
	h.hub.deliver(c, domain.NewEvent(domain.EventError, code, domain.SenderSystem, domain.ErrorPayload{
		Kind:    domain.KindOf(err),
		Message: err.Error(),
	}))
}
