package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

// RESTHandler exposes the session API over plain HTTP. The websocket channel
// stays the primary surface during play; REST covers setup, host controls and
// read models.
type RESTHandler struct {
	engine *app.Engine
	log    zerolog.Logger
}

func NewRESTHandler(engine *app.Engine, logger zerolog.Logger) *RESTHandler {
	return &RESTHandler{
		engine: engine,
		log:    logger.With().Str("component", "rest").Logger(),
	}
}

// Register mounts all routes on mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/{code}", h.getSession)
	mux.HandleFunc("POST /api/sessions/{code}/start", h.startSession)
	mux.HandleFunc("POST /api/sessions/{code}/advance", h.advanceQuestion)
	mux.HandleFunc("POST /api/sessions/{code}/pause", h.pauseSession)
	mux.HandleFunc("POST /api/sessions/{code}/resume", h.resumeSession)
	mux.HandleFunc("POST /api/sessions/{code}/end", h.endSession)
	mux.HandleFunc("POST /api/sessions/{code}/join", h.join)
	mux.HandleFunc("DELETE /api/sessions/{code}/participants/{participantId}", h.leave)
	mux.HandleFunc("GET /api/sessions/{code}/participants", h.listParticipants)
	mux.HandleFunc("POST /api/sessions/{code}/answers", h.submitAnswer)
	mux.HandleFunc("POST /api/sessions/{code}/answers/bulk", h.submitBulk)
	mux.HandleFunc("GET /api/sessions/{code}/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /api/sessions/{code}/participants/{participantId}/rank", h.rank)
	mux.HandleFunc("GET /api/sessions/{code}/participants/{participantId}/answers", h.answerHistory)
	mux.HandleFunc("GET /api/sessions/{code}/questions/{questionId}/stats", h.questionStats)
	mux.HandleFunc("GET /api/sessions/{code}/stats", h.sessionStats)
	mux.HandleFunc("GET /healthz", h.health)
}

type createSessionRequest struct {
	QuizID           string                 `json:"quizId"`
	HostID           string                 `json:"hostId"`
	Name             string                 `json:"name"`
	ScheduledStartAt *time.Time             `json:"scheduledStartAt,omitempty"`
	ScheduledEndAt   *time.Time             `json:"scheduledEndAt,omitempty"`
	Settings         domain.SessionSettings `json:"settings"`
}

func (h *RESTHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation)
		return
	}
	in := app.CreateSessionInput{
		QuizID:   req.QuizID,
		HostID:   req.HostID,
		Name:     req.Name,
		Settings: req.Settings,
	}
	if req.ScheduledStartAt != nil {
		in.ScheduledStartAt = *req.ScheduledStartAt
	}
	if req.ScheduledEndAt != nil {
		in.ScheduledEndAt = *req.ScheduledEndAt
	}
	session, err := h.engine.CreateSession(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, session)
}

func (h *RESTHandler) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Session(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *RESTHandler) startSession(w http.ResponseWriter, r *http.Request) {
	var override *app.SettingsOverride
	if r.Body != nil && r.ContentLength != 0 {
		override = &app.SettingsOverride{}
		if err := json.NewDecoder(r.Body).Decode(override); err != nil {
			h.writeError(w, domain.ErrValidation)
			return
		}
	}
	session, err := h.engine.StartSession(r.Context(), r.PathValue("code"), override)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *RESTHandler) advanceQuestion(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.AdvanceQuestion(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *RESTHandler) pauseSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.PauseSession(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *RESTHandler) resumeSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.ResumeSession(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *RESTHandler) endSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.EndSession(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

type joinRequest struct {
	Nickname string `json:"nickname"`
	AvatarID string `json:"avatarId"`
}

func (h *RESTHandler) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation)
		return
	}
	p, err := h.engine.Join(r.Context(), r.PathValue("code"), app.JoinInput{
		Nickname: req.Nickname,
		AvatarID: req.AvatarID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

func (h *RESTHandler) leave(w http.ResponseWriter, r *http.Request) {
	err := h.engine.Leave(r.Context(), r.PathValue("code"), r.PathValue("participantId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandler) listParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.engine.ListParticipants(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, participants)
}

func (h *RESTHandler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var sub domain.AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, domain.ErrValidation)
		return
	}
	feedback, err := h.engine.Submit(r.Context(), r.PathValue("code"), sub)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, feedback)
}

func (h *RESTHandler) submitBulk(w http.ResponseWriter, r *http.Request) {
	var subs []domain.AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&subs); err != nil {
		h.writeError(w, domain.ErrValidation)
		return
	}
	outcomes := h.engine.BulkSubmit(r.Context(), r.PathValue("code"), subs)
	h.writeJSON(w, http.StatusOK, outcomes)
}

func (h *RESTHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)
	lb, err := h.engine.ComputeLeaderboard(r.Context(), r.PathValue("code"), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, lb)
}

func (h *RESTHandler) rank(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.ComputeRank(r.Context(), r.PathValue("code"), r.PathValue("participantId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *RESTHandler) answerHistory(w http.ResponseWriter, r *http.Request) {
	answers, err := h.engine.AnswerHistory(r.Context(), r.PathValue("code"), r.PathValue("participantId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, answers)
}

func (h *RESTHandler) questionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.QuestionStats(r.Context(), r.PathValue("code"), r.PathValue("questionId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *RESTHandler) sessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.SessionStats(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *RESTHandler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func (h *RESTHandler) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusConflict
	switch kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindInternal:
		status = http.StatusInternalServerError
		h.log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, errorResponse{Kind: kind, Message: err.Error()})
}

func (h *RESTHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("response encoding failed")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
