package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"quizlive-service/internal/domain"
)

// JoinInput is the participant's entry request.
type JoinInput struct {
	Nickname string
	AvatarID string
}

// Join registers a participant in the session behind code. Nickname
// uniqueness is case-sensitive among active participants; rejoining with a
// previously freed nickname is allowed.
func (e *Engine) Join(ctx context.Context, code string, in JoinInput) (*domain.Participant, error) {
	code = domain.NormalizeCode(code)
	nickname := strings.TrimSpace(in.Nickname)
	if nickname == "" {
		return nil, fmt.Errorf("%w: nickname is required", domain.ErrValidation)
	}

	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}
	if !s.CanJoin() {
		unlock()
		return nil, fmt.Errorf("%w: session is %s", domain.ErrSessionClosed, s.Status)
	}
	if s.AtCapacity() {
		unlock()
		return nil, fmt.Errorf("%w: limit of %d reached", domain.ErrSessionFull, s.Settings.MaxParticipants)
	}
	taken, err := e.participants.NicknameTaken(ctx, s.ID, nickname)
	if err != nil {
		unlock()
		return nil, err
	}
	if taken {
		unlock()
		return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateNickname, nickname)
	}

	p := &domain.Participant{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Nickname:  nickname,
		AvatarID:  in.AvatarID,
		JoinedAt:  e.now(),
		Active:    true,
		Connected: true,
	}
	if err := e.participants.Create(ctx, p); err != nil {
		unlock()
		return nil, err
	}

	count, err := e.participants.CountActive(ctx, s.ID)
	if err != nil {
		unlock()
		return nil, err
	}
	s.TotalParticipants = count
	if err := e.sessions.Update(ctx, s); err != nil {
		unlock()
		return nil, err
	}
	snap := *s
	unlock()

	e.mirrorScore(ctx, snap.ID, p.ID, 0)
	e.log.Info().Str("code", code).Str("participant", p.ID).Str("nickname", nickname).Msg("participant joined")
	e.broadcastRoster(ctx, &snap, *p, domain.ParticipantJoined)

	// Late joiners get the live question privately so they can play the
	// current round.
	if snap.Status == domain.StatusInProgress {
		if view, err := e.CurrentQuestionView(ctx, code); err == nil {
			e.bc.SendToParticipant(code, p.ID, domain.NewEvent(domain.EventQuestion, code, domain.SenderSystem, *view))
		}
	}
	return p, nil
}

// Leave soft-removes a participant: the record and its answers survive for
// statistics, but the nickname is freed and the participant drops out of
// rankings.
func (e *Engine) Leave(ctx context.Context, code, participantID string) error {
	code = domain.NormalizeCode(code)
	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return err
	}
	p, err := e.participants.Get(ctx, participantID)
	if err != nil || p.SessionID != s.ID {
		unlock()
		return domain.ErrParticipantNotFound
	}
	if !p.Active {
		unlock()
		return nil
	}
	p.Active = false
	p.Connected = false
	if err := e.participants.Update(ctx, p); err != nil {
		unlock()
		return err
	}
	count, err := e.participants.CountActive(ctx, s.ID)
	if err != nil {
		unlock()
		return err
	}
	s.TotalParticipants = count
	if err := e.sessions.Update(ctx, s); err != nil {
		unlock()
		return err
	}
	snap := *s
	unlock()

	if err := e.mirror.Remove(ctx, snap.ID, p.ID); err != nil {
		e.log.Warn().Err(err).Str("session", snap.ID).Msg("leaderboard mirror removal failed")
	}
	e.log.Info().Str("code", code).Str("participant", p.ID).Msg("participant left")
	e.broadcastRoster(ctx, &snap, *p, domain.ParticipantLeft)

	// Departures shift everyone below them; push fresh standings.
	if snap.Settings.ShowLeaderboard && !snap.Status.Terminal() {
		e.broadcastLeaderboard(ctx, &snap)
	}
	return nil
}

// KickParticipant is the host-initiated form of Leave.
func (e *Engine) KickParticipant(ctx context.Context, code, participantID string) error {
	if err := e.Leave(ctx, code, participantID); err != nil {
		return err
	}
	e.bc.SendToParticipant(domain.NormalizeCode(code), participantID,
		domain.NewEvent(domain.EventGameState, domain.NormalizeCode(code), domain.SenderSystem, domain.GameStatePayload{
			Action:  domain.ActionSessionEnded,
			Message: "You have been removed from the session.",
		}))
	return nil
}

// ListParticipants returns the active roster ordered by join time.
func (e *Engine) ListParticipants(ctx context.Context, code string) ([]*domain.Participant, error) {
	s, err := e.sessions.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	return e.participants.ListBySession(ctx, s.ID, true)
}

// HandleConnect marks a participant's transport as attached and tells the
// room. A reconnect during play triggers a private state sync upstream.
func (e *Engine) HandleConnect(ctx context.Context, code, participantID string) {
	e.setConnected(ctx, code, participantID, true, domain.ParticipantReconnected)
}

// HandleDisconnect marks the transport as detached. The participant stays
// active and ranked; only a Leave or kick removes them.
func (e *Engine) HandleDisconnect(ctx context.Context, code, participantID string) {
	e.setConnected(ctx, code, participantID, false, domain.ParticipantDisconnected)
}

func (e *Engine) setConnected(ctx context.Context, code, participantID string, connected bool, action string) {
	code = domain.NormalizeCode(code)
	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return
	}
	p, err := e.participants.Get(ctx, participantID)
	if err != nil || p.SessionID != s.ID || !p.Active {
		unlock()
		return
	}
	if p.Connected == connected {
		unlock()
		return
	}
	p.Connected = connected
	if err := e.participants.Update(ctx, p); err != nil {
		unlock()
		e.log.Warn().Err(err).Str("participant", participantID).Msg("connection flag update failed")
		return
	}
	snap := *s
	unlock()

	e.broadcastRoster(ctx, &snap, *p, action)
}

// broadcastRoster announces a roster change with the full active roster
// attached, so clients never need a follow-up fetch.
func (e *Engine) broadcastRoster(ctx context.Context, s *domain.Session, p domain.Participant, action string) {
	active, err := e.participants.ListBySession(ctx, s.ID, true)
	if err != nil {
		e.log.Warn().Err(err).Str("session", s.ID).Msg("roster listing failed")
		active = nil
	}
	roster := make([]domain.ParticipantRoster, 0, len(active))
	for _, a := range active {
		roster = append(roster, domain.ParticipantRoster{
			ID:       a.ID,
			Nickname: a.Nickname,
			AvatarID: a.AvatarID,
			Score:    a.TotalScore,
		})
	}
	e.bc.Broadcast(s.Code, domain.NewEvent(domain.EventParticipant, s.Code, domain.SenderSystem, domain.ParticipantPayload{
		Action: action,
		Participant: domain.ParticipantRoster{
			ID:       p.ID,
			Nickname: p.Nickname,
			AvatarID: p.AvatarID,
			Score:    p.TotalScore,
		},
		Roster:            roster,
		TotalParticipants: len(roster),
	}))
}
